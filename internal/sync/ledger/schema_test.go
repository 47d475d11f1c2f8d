// Copyright 2025 Certen Protocol
//
package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestApplySlotCommitsAdAndMarksVisited(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var id, batch, vdsRoot, state [32]byte
	copy(id[:], []byte("list-a"))
	copy(batch[:], []byte("batch-a"))
	blobHash := common.HexToHash("0x01")

	err = store.ApplySlot(ctx, 10, func(tx *TxOps) error {
		if err := tx.InsertAd(ctx, id, batch, 0, vdsRoot, blobHash); err != nil {
			return err
		}
		return tx.InsertAdUpdate(ctx, id, 0, state, blobHash)
	})
	if err != nil {
		t.Fatalf("ApplySlot: %v", err)
	}

	last, err := store.LastVisitedSlot(ctx)
	if err != nil {
		t.Fatalf("LastVisitedSlot: %v", err)
	}
	if last != 10 {
		t.Fatalf("expected last visited slot 10, got %d", last)
	}

	num, commitment, found, err := store.LatestCommitment(ctx, id)
	if err != nil {
		t.Fatalf("LatestCommitment: %v", err)
	}
	if !found || num != 0 || commitment != state {
		t.Fatalf("unexpected commitment: found=%v num=%d commitment=%x", found, num, commitment)
	}
}

func TestApplySlotRollsBackOnFailure(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	var id [32]byte
	copy(id[:], []byte("list-b"))

	// Inserting the same (id, num) twice inside one slot violates
	// ad_update's primary key, so the whole slot, including the first,
	// otherwise-valid insert, must roll back together.
	err = store.ApplySlot(ctx, 5, func(tx *TxOps) error {
		if err := tx.InsertAdUpdate(ctx, id, 1, [32]byte{}, common.Hash{}); err != nil {
			return err
		}
		return tx.InsertAdUpdate(ctx, id, 1, [32]byte{}, common.Hash{})
	})
	if err == nil {
		t.Fatalf("expected a primary key violation on the duplicate ad_update insert")
	}

	last, err := store.LastVisitedSlot(ctx)
	if err != nil {
		t.Fatalf("LastVisitedSlot: %v", err)
	}
	if last != 0 {
		t.Fatalf("expected slot 5 to be rolled back and never marked visited, got last=%d", last)
	}

	_, _, found, err := store.LatestCommitment(ctx, id)
	if err != nil {
		t.Fatalf("LatestCommitment: %v", err)
	}
	if found {
		t.Fatalf("expected the first insert of the failed slot to be rolled back too")
	}
}
