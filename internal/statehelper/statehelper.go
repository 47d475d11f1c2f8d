// Copyright 2025 Certen Protocol
//
// Package statehelper produces the concrete state-transition witness (new
// state + proof statement) for a single operation against a
// container-valued old state.
//
// It never invents non-determinism: insertions and deletions that would
// not affect the container commitment are hard errors, not silently
// accepted no-ops.
package statehelper

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/certen/ad-server/internal/merkletree"
	"github.com/certen/ad-server/internal/predicate"
)

// Deterministic local failures, recorded on the request, never retried.
var (
	ErrNotEmpty        = errors.New("statehelper: init on non-empty state")
	ErrAlreadyPresent  = errors.New("statehelper: user already present on add")
	ErrAbsent          = errors.New("statehelper: group doesn't contain user")
	ErrUnknownGroup    = errors.New("statehelper: unknown group")
	ErrMalformedOp     = errors.New("statehelper: malformed operation")
)

// Groups is the fixed, small enumeration of group keys a container is
// indexed by (e.g. {"red", "green", "blue"}). Index assignment is the
// slice order, which also fixes each group's Merkle leaf index.
type Groups []string

func (g Groups) indexOf(name string) (uint64, bool) {
	for i, n := range g {
		if n == name {
			return uint64(i), true
		}
	}
	return 0, false
}

// Container is the full pre-image of a list's state: for each group, the
// set of member users, plus the Merkle tree committing to it.
type Container struct {
	groups Groups
	tree   *merkletree.Tree
	sets   map[string]map[string]bool
}

// DepthFor picks the smallest tree depth that can address n leaves (minimum
// depth 1). NewContainer sizes every container's tree with it, and ad-server
// uses it for its predicate batch's ContainerDepth, so depth always follows
// the group count.
func DepthFor(n int) int {
	d := 1
	for (1 << uint(d)) < n {
		d++
	}
	return d
}

// NewContainer creates an empty container over the given group enumeration.
func NewContainer(groups Groups) (*Container, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("statehelper: groups enumeration must be non-empty")
	}
	tree, err := merkletree.New(DepthFor(len(groups)))
	if err != nil {
		return nil, err
	}
	return &Container{
		groups: groups,
		tree:   tree,
		sets:   make(map[string]map[string]bool, len(groups)),
	}, nil
}

// Commitment returns the container's current Merkle root.
func (c *Container) Commitment() [32]byte {
	return c.tree.Root()
}

// Clone produces a deep copy, used so Apply can build the "new" container
// without mutating "old" in place.
func (c *Container) Clone() *Container {
	clone := &Container{
		groups: c.groups,
		tree:   mustCloneTree(c.tree, len(c.groups)),
		sets:   make(map[string]map[string]bool, len(c.sets)),
	}
	for g, users := range c.sets {
		copied := make(map[string]bool, len(users))
		for u := range users {
			copied[u] = true
		}
		clone.sets[g] = copied
	}
	return clone
}

func mustCloneTree(t *merkletree.Tree, numGroups int) *merkletree.Tree {
	nt, err := merkletree.New(DepthFor(numGroups))
	if err != nil {
		panic(err)
	}
	for i := 0; i < numGroups; i++ {
		leaf := t.Get(uint64(i))
		if err := nt.Set(uint64(i), leaf); err != nil {
			panic(err)
		}
	}
	return nt
}

// Members returns the sorted member list of a group (empty slice if the
// group has no members or is unknown).
func (c *Container) Members(group string) []string {
	users := c.sets[group]
	out := make([]string, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether user is a member of group.
func (c *Container) Contains(group, user string) bool {
	return c.sets[group] != nil && c.sets[group][user]
}

// ProveGroup returns a Merkle membership proof for group's leaf so a Query
// request can answer with a compact proof regardless of current occupancy.
func (c *Container) ProveGroup(group string) (*merkletree.InclusionProof, error) {
	idx, ok := c.groups.indexOf(group)
	if !ok {
		return nil, ErrUnknownGroup
	}
	return c.tree.Prove(idx)
}

// GroupNames returns the container's fixed group enumeration.
func (c *Container) GroupNames() []string { return append([]string(nil), c.groups...) }

// Snapshot is the serializable form of a Container's pre-image, persisted by
// the coordinator between process restarts.
type Snapshot struct {
	Groups []string            `cbor:"groups"`
	Sets   map[string][]string `cbor:"sets"`
}

// Snapshot captures the container's current group->members sets.
func (c *Container) Snapshot() Snapshot {
	sets := make(map[string][]string, len(c.sets))
	for g := range c.sets {
		sets[g] = c.Members(g)
	}
	return Snapshot{Groups: append([]string(nil), c.groups...), Sets: sets}
}

// Restore rebuilds a Container from a Snapshot, recomputing its Merkle
// commitment from the member sets rather than trusting a stored root.
func Restore(snap Snapshot) (*Container, error) {
	c, err := NewContainer(Groups(snap.Groups))
	if err != nil {
		return nil, err
	}
	for g, users := range snap.Sets {
		if len(users) == 0 {
			continue
		}
		c.sets[g] = make(map[string]bool, len(users))
		for _, u := range users {
			c.sets[g][u] = true
		}
		if err := c.setGroupLeaf(g); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Container) setGroupLeaf(group string) error {
	idx, ok := c.groups.indexOf(group)
	if !ok {
		return ErrUnknownGroup
	}
	return c.tree.Set(idx, leafHash(c.Members(group)))
}

func leafHash(sortedUsers []string) [32]byte {
	if len(sortedUsers) == 0 {
		return merkletree.EmptyLeaf
	}
	h := sha256.New()
	for _, u := range sortedUsers {
		h.Write([]byte(u))
		h.Write([]byte{0})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Op is the mutation sum type: Init, Add{group,user}, Del{group,user}.
type Op interface {
	Name() string
}

// InitOp signals list creation; permitted only when old = empty.
type InitOp struct{}

func (InitOp) Name() string { return predicate.NameInit }

// AddOp inserts User into State[Group].
type AddOp struct {
	Group string
	User  string
}

func (AddOp) Name() string { return predicate.NameAdd }

// DelOp removes User from State[Group].
type DelOp struct {
	Group string
	User  string
}

func (DelOp) Name() string { return predicate.NameDel }

// Statement is the proof obligation produced for a single operation: the
// witnessed (new, old, op) triple in the shape the external prover expects,
// with Branch naming the disjunction branch taken. Apply emits no
// statements for the unused branches.
type Statement struct {
	PredicateRef predicate.Ref
	Branch       string
	Old          [32]byte
	New          [32]byte
	OpDigest     [32]byte
}

// Builder collects proof obligations as operations are witnessed. The real
// implementation is owned by the external proof system; this interface is
// the seam statehelper talks to.
type Builder interface {
	AddStatement(s Statement)
}

// Apply witnesses a single operation against old, producing the new
// container and the Statement proving update(new, old, op) under the given
// predicate batch. Deterministic local failures return one of the sentinel
// errors above and never touch builder.
func Apply(builder Builder, batch *predicate.Batch, old *Container, op Op) (*Container, *Statement, error) {
	updateRef, err := batch.Update()
	if err != nil {
		return nil, nil, err
	}

	switch o := op.(type) {
	case InitOp:
		if hasAnyMember(old) {
			return nil, nil, ErrNotEmpty
		}
		// Init is witnessed against the unchanged empty container.
		stmt := &Statement{PredicateRef: updateRef, Branch: predicate.NameInit, Old: old.Commitment(), New: old.Commitment(), OpDigest: opDigest(o)}
		builder.AddStatement(*stmt)
		return old.Clone(), stmt, nil

	case AddOp:
		if _, ok := old.groups.indexOf(o.Group); !ok {
			return nil, nil, ErrUnknownGroup
		}
		if old.Contains(o.Group, o.User) {
			return nil, nil, ErrAlreadyPresent
		}
		next := old.Clone()
		if next.sets[o.Group] == nil {
			next.sets[o.Group] = make(map[string]bool)
		}
		next.sets[o.Group][o.User] = true
		if err := next.setGroupLeaf(o.Group); err != nil {
			return nil, nil, err
		}
		stmt := &Statement{PredicateRef: updateRef, Branch: predicate.NameAdd, Old: old.Commitment(), New: next.Commitment(), OpDigest: opDigest(o)}
		builder.AddStatement(*stmt)
		return next, stmt, nil

	case DelOp:
		if _, ok := old.groups.indexOf(o.Group); !ok {
			return nil, nil, ErrUnknownGroup
		}
		if !old.Contains(o.Group, o.User) {
			return nil, nil, ErrAbsent
		}
		next := old.Clone()
		delete(next.sets[o.Group], o.User)
		if err := next.setGroupLeaf(o.Group); err != nil {
			return nil, nil, err
		}
		stmt := &Statement{PredicateRef: updateRef, Branch: predicate.NameDel, Old: old.Commitment(), New: next.Commitment(), OpDigest: opDigest(o)}
		builder.AddStatement(*stmt)
		return next, stmt, nil

	default:
		return nil, nil, ErrMalformedOp
	}
}

func hasAnyMember(c *Container) bool {
	for _, users := range c.sets {
		if len(users) > 0 {
			return true
		}
	}
	return false
}

func opDigest(op Op) [32]byte {
	h := sha256.New()
	switch o := op.(type) {
	case InitOp:
		h.Write([]byte("init"))
	case AddOp:
		h.Write([]byte("add"))
		h.Write([]byte(o.Group))
		h.Write([]byte{0})
		h.Write([]byte(o.User))
	case DelOp:
		h.Write([]byte("del"))
		h.Write([]byte(o.Group))
		h.Write([]byte{0})
		h.Write([]byte(o.User))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
