// Copyright 2025 Certen Protocol
//
// Package predicate builds the deterministic batch of custom predicates
// that the state helper and the synchronizer both reference by name.
//
// The predicate language and its prover/verifier live outside this module;
// this package only manages identity: deterministically deriving a
// (batch_id, index) reference for each named predicate from a structural
// description of the parameters, the same way pkg/proof/canonical_blob_hash.go
// derives content-addressed commitments from canonicalized JSON.
package predicate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Params describes the structural parameters a predicate batch is built
// from. Two Params with identical field values must yield identical batch
// identifiers.
type Params struct {
	ContainerDepth   int `json:"container_depth"`
	MaxCustomBatch   int `json:"max_custom_batch"`
	ReverseChain     bool `json:"reverse_chain"`
}

// Ref identifies one predicate within a batch.
type Ref struct {
	BatchID [32]byte
	Index   uint8
}

// Names of the predicates every batch exposes.
const (
	NameUpdate = "update"
	NameInit   = "init"
	NameAdd    = "add"
	NameDel    = "del"
	NameRevSync = "rev_sync"
	NameRevAdd  = "rev_add"
	NameRevDel  = "rev_del"
)

// ordered is the fixed index assignment within a batch; order matters
// because Index is part of Ref's identity.
var ordered = []string{NameInit, NameAdd, NameDel, NameUpdate, NameRevAdd, NameRevDel, NameRevSync}

// Batch is an opaque handle over a built predicate set, carrying named
// references that the state helper and synchronizer use to address
// specific relations.
type Batch struct {
	ID   [32]byte
	refs map[string]Ref
}

// Build deterministically derives a Batch's identity and named references
// from params. Two calls with equal params always produce an equal Batch.ID
// and equal Refs, since the coordinator and synchronizer must key on these
// identifiers independently.
func Build(params Params) (*Batch, error) {
	canon, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("predicate: marshal params: %w", err)
	}
	id := sha256.Sum256(canon)

	refs := make(map[string]Ref, len(ordered))
	for i, name := range ordered {
		if name == NameRevAdd || name == NameRevDel || name == NameRevSync {
			if !params.ReverseChain {
				continue
			}
		}
		refs[name] = Ref{BatchID: id, Index: uint8(i)}
	}

	return &Batch{ID: id, refs: refs}, nil
}

// Ref returns the named predicate reference, or an error if the batch was
// built without that predicate (e.g. rev_* predicates require
// Params.ReverseChain).
func (b *Batch) Ref(name string) (Ref, error) {
	ref, ok := b.refs[name]
	if !ok {
		return Ref{}, fmt.Errorf("predicate: batch %x has no predicate named %q", b.ID, name)
	}
	return ref, nil
}

// Update returns the top-level update = init ∨ add ∨ del disjunction ref.
func (b *Batch) Update() (Ref, error) { return b.Ref(NameUpdate) }

// Init returns the init predicate ref.
func (b *Batch) Init() (Ref, error) { return b.Ref(NameInit) }
