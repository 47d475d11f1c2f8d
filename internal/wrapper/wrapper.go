// Copyright 2025 Certen Protocol
//
// Package wrapper implements two optional proof post-processing modes:
// "shrink" (an extra native recursion plus compression) and "groth" (a
// recursion into a pairing-friendly field followed by an external Groth16
// proving step). Both modes consume the native prover's opaque output and
// produce a wire-ready wrapped proof the synchronizer can verify without
// depending on the native proving system.
package wrapper

import "fmt"

// Statement is the public input tuple a wrapped proof attests to:
// statements_hash(custom_statement(predicate_ref, [new_state, prev_state]))
// paired with the container's verifying-data-set root.
type Statement struct {
	StatementsHash [32]byte
	VDSRoot        [32]byte
}

// ProvedPod is the native prover's opaque output: a proof over Statement.
// The native proving system's circuit and serialization format are owned
// externally; this package only consumes and wraps its bytes.
type ProvedPod struct {
	Statement Statement
	Proof     []byte
}

// Wrapper post-processes a ProvedPod into a wire-compact proof, and
// verifies a wrapped proof against a claimed Statement.
type Wrapper interface {
	Wrap(pod *ProvedPod) ([]byte, error)
	Verify(wrapped []byte, statement *Statement) (bool, error)
}

// ErrArtifactsMissing is returned when a wrapper's required trusted-setup
// or circuit-data artifacts are absent at construction time.
var ErrArtifactsMissing = fmt.Errorf("wrapper: required artifacts missing")
