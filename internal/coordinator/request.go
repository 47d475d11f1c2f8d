// Copyright 2025 Certen Protocol
//
package coordinator

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/certen/ad-server/internal/merkletree"
)

// Kind distinguishes the four request variants accepted onto the queue.
type Kind string

const (
	KindCreate    Kind = "create"
	KindUpdate    Kind = "update"
	KindUpdateRev Kind = "update_rev"
	KindQuery     Kind = "query"
)

// Phase is a step in a request's per-kind state machine.
type Phase string

const (
	PhasePending           Phase = "pending"
	PhaseProvingMainPod    Phase = "proving_main_pod"
	PhaseWrappingMainPod   Phase = "wrapping_main_pod"
	PhaseSendingBlobTx     Phase = "sending_blob_tx"
	PhaseProvingRevMainPod Phase = "proving_rev_main_pod"
	PhaseComplete          Phase = "complete"
	PhaseError             Phase = "error"
)

// CreateResult is the Complete payload for a Create request.
type CreateResult struct {
	ListID uint64
	TxHash common.Hash
}

// UpdateResult is the Complete payload for an Update request.
type UpdateResult struct {
	TxHash common.Hash
}

// QueryResult is the Complete payload for a Query request: one membership
// proof per group the queried user currently belongs to.
type QueryResult struct {
	Proofs map[string]*merkletree.InclusionProof
}

// Request is the ephemeral, in-memory record of one accepted request. It is
// created by a handler accepting a submission and mutated only by the
// queue's single consumer goroutine.
type Request struct {
	ID    uuid.UUID
	Kind  Kind
	Phase Phase
	Err   string

	Create *CreateResult
	Update *UpdateResult
	Query  *QueryResult
}

// directory is the request-status map behind a single-writer,
// multi-reader lock protecting the request-status directory.
type directory struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]*Request
}

func newDirectory() *directory {
	return &directory{requests: make(map[uuid.UUID]*Request)}
}

func (d *directory) create(kind Kind) *Request {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system's CSPRNG is unavailable; fall back
		// to a random v4 rather than block request creation on it.
		id = uuid.New()
	}
	req := &Request{ID: id, Kind: kind, Phase: PhasePending}
	d.mu.Lock()
	d.requests[req.ID] = req
	d.mu.Unlock()
	return req
}

func (d *directory) get(id uuid.UUID) (Request, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	req, ok := d.requests[id]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

func (d *directory) setPhase(id uuid.UUID, phase Phase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.requests[id]; ok {
		req.Phase = phase
	}
}

// fail moves a request to the terminal Error phase. Error states never
// retry automatically; the operator resubmits.
func (d *directory) fail(id uuid.UUID, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.requests[id]; ok {
		req.Phase = PhaseError
		req.Err = err.Error()
	}
}

func (d *directory) completeCreate(id uuid.UUID, result CreateResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.requests[id]; ok {
		req.Phase = PhaseComplete
		req.Create = &result
	}
}

func (d *directory) completeUpdate(id uuid.UUID, result UpdateResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.requests[id]; ok {
		req.Phase = PhaseComplete
		req.Update = &result
	}
}

func (d *directory) completeUpdateRev(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.requests[id]; ok {
		req.Phase = PhaseComplete
	}
}

func (d *directory) completeQuery(id uuid.UUID, result QueryResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req, ok := d.requests[id]; ok {
		req.Phase = PhaseComplete
		req.Query = &result
	}
}
