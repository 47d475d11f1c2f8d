// Copyright 2025 Certen Protocol
//
package coordinator

import (
	"github.com/certen/ad-server/internal/statehelper"
	"github.com/certen/ad-server/internal/wrapper"
)

// StatementCollector implements statehelper.Builder, gathering every
// statement issued while witnessing one operation, ready to hand to a
// Prover.
type StatementCollector struct {
	Statements []statehelper.Statement
}

// AddStatement records s.
func (c *StatementCollector) AddStatement(s statehelper.Statement) {
	c.Statements = append(c.Statements, s)
}

// Prover is the external proof-system seam: the recursive SNARK prover and
// its custom-predicate language are treated as external libraries reached
// through this interface. Given the statements collected for one
// operation, it produces the native prover's opaque output.
type Prover interface {
	// ProveMainPod proves the update = init ∨ add ∨ del disjunction
	// witnessed by stmts.
	ProveMainPod(stmts []statehelper.Statement) (*wrapper.ProvedPod, error)
	// ProveRevMainPod combines previously-stored per-revision proof
	// artifacts into a single reverse-index proof.
	ProveRevMainPod(artifacts [][]byte) (*wrapper.ProvedPod, error)
}
