// Copyright 2025 Certen Protocol
//
package statehelper

import (
	"testing"

	"github.com/certen/ad-server/internal/predicate"
)

type collectingBuilder struct {
	statements []Statement
}

func (b *collectingBuilder) AddStatement(s Statement) {
	b.statements = append(b.statements, s)
}

func newTestBatch(t *testing.T) *predicate.Batch {
	t.Helper()
	batch, err := predicate.Build(predicate.Params{ContainerDepth: 4, MaxCustomBatch: 8})
	if err != nil {
		t.Fatalf("predicate.Build: %v", err)
	}
	return batch
}

func TestAddThenDelRoundTripsCommitment(t *testing.T) {
	batch := newTestBatch(t)
	c, err := NewContainer(Groups{"red", "green", "blue"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	startCommitment := c.Commitment()
	b := &collectingBuilder{}

	afterAdd, _, err := Apply(b, batch, c, AddOp{Group: "red", User: "alice"})
	if err != nil {
		t.Fatalf("Apply(Add): %v", err)
	}
	if !afterAdd.Contains("red", "alice") {
		t.Fatalf("expected alice in red after add")
	}
	if afterAdd.Commitment() == startCommitment {
		t.Fatalf("commitment should change after add")
	}

	afterDel, _, err := Apply(b, batch, afterAdd, DelOp{Group: "red", User: "alice"})
	if err != nil {
		t.Fatalf("Apply(Del): %v", err)
	}
	if afterDel.Commitment() != startCommitment {
		t.Fatalf("Add then Del should return to the original commitment")
	}
	if len(b.statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(b.statements))
	}
}

func TestInitOnNonEmptyFails(t *testing.T) {
	batch := newTestBatch(t)
	c, _ := NewContainer(Groups{"red"})
	b := &collectingBuilder{}
	c2, _, err := Apply(b, batch, c, AddOp{Group: "red", User: "alice"})
	if err != nil {
		t.Fatalf("Apply(Add): %v", err)
	}
	if _, _, err := Apply(b, batch, c2, InitOp{}); err != ErrNotEmpty {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}

func TestAddDuplicateFails(t *testing.T) {
	batch := newTestBatch(t)
	c, _ := NewContainer(Groups{"red"})
	b := &collectingBuilder{}
	c2, _, err := Apply(b, batch, c, AddOp{Group: "red", User: "alice"})
	if err != nil {
		t.Fatalf("Apply(Add): %v", err)
	}
	if _, _, err := Apply(b, batch, c2, AddOp{Group: "red", User: "alice"}); err != ErrAlreadyPresent {
		t.Fatalf("expected ErrAlreadyPresent, got %v", err)
	}
}

func TestDelAbsentFails(t *testing.T) {
	batch := newTestBatch(t)
	c, _ := NewContainer(Groups{"red"})
	b := &collectingBuilder{}
	if _, _, err := Apply(b, batch, c, DelOp{Group: "red", User: "ghost"}); err != ErrAbsent {
		t.Fatalf("expected ErrAbsent, got %v", err)
	}
}

func TestUnknownGroupFails(t *testing.T) {
	batch := newTestBatch(t)
	c, _ := NewContainer(Groups{"red"})
	b := &collectingBuilder{}
	if _, _, err := Apply(b, batch, c, AddOp{Group: "purple", User: "alice"}); err != ErrUnknownGroup {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
}
