// Copyright 2025 Certen Protocol
//
package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/certen/ad-server/internal/blobtx"
	"github.com/certen/ad-server/internal/predicate"
	"github.com/certen/ad-server/internal/statehelper"
	"github.com/certen/ad-server/internal/workerpool"
	"github.com/certen/ad-server/internal/wrapper"
)

// fakeProver stands in for the external recursive SNARK prover; it returns
// a deterministic opaque proof so the queue's orchestration can be
// exercised without a real proving backend.
type fakeProver struct{}

func (fakeProver) ProveMainPod(stmts []statehelper.Statement) (*wrapper.ProvedPod, error) {
	return &wrapper.ProvedPod{Proof: []byte("main-pod-proof")}, nil
}

func (fakeProver) ProveRevMainPod(artifacts [][]byte) (*wrapper.ProvedPod, error) {
	return &wrapper.ProvedPod{Proof: []byte("rev-pod-proof")}, nil
}

type passthroughWrapper struct{}

func (passthroughWrapper) Wrap(pod *wrapper.ProvedPod) ([]byte, error) { return pod.Proof, nil }

func (passthroughWrapper) Verify(wrapped []byte, statement *wrapper.Statement) (bool, error) {
	return true, nil
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	batch, err := predicate.Build(predicate.Params{ContainerDepth: 2, MaxCustomBatch: 8})
	if err != nil {
		t.Fatalf("predicate.Build: %v", err)
	}

	pool, err := workerpool.New(2, nil)
	if err != nil {
		t.Fatalf("workerpool.New: %v", err)
	}
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	sender, err := blobtx.NewSender(context.Background(), blobtx.Config{})
	if err != nil {
		t.Fatalf("blobtx.NewSender: %v", err)
	}

	q, err := New(Config{
		Groups:    statehelper.Groups{"red", "green", "blue"},
		Batch:     batch,
		Store:     store,
		Artifacts: artifacts,
		Prover:    fakeProver{},
		Wrapper:   passthroughWrapper{},
		Sender:    sender,
		Pool:      pool,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.Start(context.Background())
	return q
}

func awaitTerminal(t *testing.T, q *Queue, id uuid.UUID) Request {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req, ok := q.Request(id)
		if ok && (req.Phase == PhaseComplete || req.Phase == PhaseError) {
			return req
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("request %s did not reach a terminal phase in time", id)
	return Request{}
}

// TestCreateAddQueryDelete walks the four-step golden path: create a list,
// add a member, query it, then delete it.
func TestCreateAddQueryDelete(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	createID, err := q.SubmitCreate(ctx)
	if err != nil {
		t.Fatalf("SubmitCreate: %v", err)
	}
	createReq := awaitTerminal(t, q, createID)
	if createReq.Phase != PhaseComplete || createReq.Create == nil {
		t.Fatalf("create did not complete: %+v", createReq)
	}
	listID := createReq.Create.ListID
	if listID == 0 {
		t.Fatalf("expected a non-zero list id")
	}

	addID, err := q.SubmitUpdate(ctx, listID, statehelper.AddOp{Group: "red", User: "alice"})
	if err != nil {
		t.Fatalf("SubmitUpdate add: %v", err)
	}
	addReq := awaitTerminal(t, q, addID)
	if addReq.Phase != PhaseComplete {
		t.Fatalf("add did not complete: %+v", addReq)
	}

	queryID, err := q.SubmitQuery(ctx, listID, "alice")
	if err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	queryReq := awaitTerminal(t, q, queryID)
	if queryReq.Phase != PhaseComplete || queryReq.Query == nil {
		t.Fatalf("query did not complete: %+v", queryReq)
	}
	if _, ok := queryReq.Query.Proofs["red"]; !ok {
		t.Fatalf("expected a membership proof for group red, got %+v", queryReq.Query.Proofs)
	}

	delID, err := q.SubmitUpdate(ctx, listID, statehelper.DelOp{Group: "red", User: "alice"})
	if err != nil {
		t.Fatalf("SubmitUpdate del: %v", err)
	}
	delReq := awaitTerminal(t, q, delID)
	if delReq.Phase != PhaseComplete {
		t.Fatalf("del did not complete: %+v", delReq)
	}

	queryAfterDelID, err := q.SubmitQuery(ctx, listID, "alice")
	if err != nil {
		t.Fatalf("SubmitQuery after delete: %v", err)
	}
	queryAfterDel := awaitTerminal(t, q, queryAfterDelID)
	if len(queryAfterDel.Query.Proofs) != 0 {
		t.Fatalf("expected no proofs after delete, got %+v", queryAfterDel.Query.Proofs)
	}
}

// TestDeleteAbsentUserFails covers deleting a user who was never added:
// it fails deterministically and the request lands in the terminal
// Error phase, never panicking the consumer.
func TestDeleteAbsentUserFails(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	createID, err := q.SubmitCreate(ctx)
	if err != nil {
		t.Fatalf("SubmitCreate: %v", err)
	}
	createReq := awaitTerminal(t, q, createID)
	listID := createReq.Create.ListID

	delID, err := q.SubmitUpdate(ctx, listID, statehelper.DelOp{Group: "red", User: "ghost"})
	if err != nil {
		t.Fatalf("SubmitUpdate: %v", err)
	}
	delReq := awaitTerminal(t, q, delID)
	if delReq.Phase != PhaseError {
		t.Fatalf("expected Error phase for deleting an absent user, got %+v", delReq)
	}
}

// TestAddDuplicateFails exercises the add-already-present invariant.
func TestAddDuplicateFails(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	createID, _ := q.SubmitCreate(ctx)
	createReq := awaitTerminal(t, q, createID)
	listID := createReq.Create.ListID

	firstID, _ := q.SubmitUpdate(ctx, listID, statehelper.AddOp{Group: "red", User: "alice"})
	if req := awaitTerminal(t, q, firstID); req.Phase != PhaseComplete {
		t.Fatalf("first add failed: %+v", req)
	}

	secondID, _ := q.SubmitUpdate(ctx, listID, statehelper.AddOp{Group: "red", User: "alice"})
	if req := awaitTerminal(t, q, secondID); req.Phase != PhaseError {
		t.Fatalf("expected Error phase for a duplicate add, got %+v", req)
	}
}

// TestQueryUnknownListFails ensures a request against an id the coordinator
// never created is recorded as an error rather than panicking.
func TestQueryUnknownListFails(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	queryID, err := q.SubmitQuery(ctx, 999, "nobody")
	if err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	req := awaitTerminal(t, q, queryID)
	if req.Phase != PhaseError {
		t.Fatalf("expected Error phase for unknown list, got %+v", req)
	}
}
