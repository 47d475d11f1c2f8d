// Copyright 2025 Certen Protocol
//
package coordinator

import (
	"context"
	"testing"

	"github.com/certen/ad-server/internal/statehelper"
)

func TestStorePutListRoundTrip(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	container, err := statehelper.NewContainer(statehelper.Groups{"red", "green"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()
	if err := store.PutList(ctx, 1, 0, container); err != nil {
		t.Fatalf("PutList: %v", err)
	}

	rows, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	row, ok := rows[1]
	if !ok {
		t.Fatalf("expected list 1 to be present, got %+v", rows)
	}
	if row.Num != 0 {
		t.Fatalf("expected num=0, got %d", row.Num)
	}
	if row.Container.Commitment() != container.Commitment() {
		t.Fatalf("restored container commitment mismatch")
	}
}

func TestStorePutListOverwritesOnConflict(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	container, err := statehelper.NewContainer(statehelper.Groups{"red"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	ctx := context.Background()
	if err := store.PutList(ctx, 7, 0, container); err != nil {
		t.Fatalf("PutList: %v", err)
	}
	if err := store.PutList(ctx, 7, 1, container); err != nil {
		t.Fatalf("PutList overwrite: %v", err)
	}

	rows, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if rows[7].Num != 1 {
		t.Fatalf("expected overwritten num=1, got %d", rows[7].Num)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row for id 7, got %d rows", len(rows))
	}
}
