// Copyright 2025 Certen Protocol
//
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/certen/ad-server/internal/blobtx"
	"github.com/certen/ad-server/internal/merkletree"
	"github.com/certen/ad-server/internal/payload"
	"github.com/certen/ad-server/internal/predicate"
	"github.com/certen/ad-server/internal/statehelper"
	"github.com/certen/ad-server/internal/workerpool"
	"github.com/certen/ad-server/internal/wrapper"
)

// queueCapacity is the request channel's buffer.
const queueCapacity = 8

// Config wires a Queue's external collaborators.
type Config struct {
	Groups    statehelper.Groups
	Batch     *predicate.Batch
	VDSRoot   [32]byte
	Store     *Store
	Artifacts *ArtifactStore
	Prover    Prover
	Wrapper   wrapper.Wrapper
	Sender    *blobtx.Sender
	Pool      *workerpool.Pool
	Logger    *log.Logger
}

// listState is the coordinator's authoritative in-memory pre-image for one
// list, mutated only by the consumer goroutine.
type listState struct {
	num       uint64
	container *statehelper.Container
}

// Queue is the coordinator's single-consumer request pipeline: exactly one
// goroutine drains jobs serially, eliminating concurrency on any list's
// state pre-image, while CPU-bound proving is offloaded to a bounded
// worker pool.
type Queue struct {
	groups    statehelper.Groups
	batch     *predicate.Batch
	vdsRoot   [32]byte
	store     *Store
	artifacts *ArtifactStore
	prover    Prover
	wrapper   wrapper.Wrapper
	sender    *blobtx.Sender
	pool      *workerpool.Pool
	logger    *log.Logger

	dir  *directory
	jobs chan job

	nextListID uint64

	// containersMu guards containers against the Read API's concurrent
	// lookups. The consumer goroutine is containers' only writer; it takes
	// containersMu only around the write itself, giving the Read API a
	// many-readers/one-writer view of container state.
	containersMu sync.RWMutex
	containers   map[uint64]*listState
}

type job interface{ requestID() uuid.UUID }

type createJob struct{ id uuid.UUID }

func (j createJob) requestID() uuid.UUID { return j.id }

type updateJob struct {
	id     uuid.UUID
	listID uint64
	op     statehelper.Op
}

func (j updateJob) requestID() uuid.UUID { return j.id }

type updateRevJob struct {
	id     uuid.UUID
	listID uint64
	num    uint64
}

func (j updateRevJob) requestID() uuid.UUID { return j.id }

type queryJob struct {
	id     uuid.UUID
	listID uint64
	user   string
}

func (j queryJob) requestID() uuid.UUID { return j.id }

// New builds a Queue, reloading any previously-persisted lists from cfg.Store
// so a restarted coordinator resumes with the same pre-images and list-id
// counter it had before.
func New(cfg Config) (*Queue, error) {
	if cfg.Batch == nil || cfg.Store == nil || cfg.Artifacts == nil || cfg.Prover == nil || cfg.Wrapper == nil || cfg.Sender == nil || cfg.Pool == nil {
		return nil, fmt.Errorf("coordinator: incomplete queue configuration")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[Coordinator] ", log.LstdFlags)
	}

	rows, err := cfg.Store.LoadAll(context.Background())
	if err != nil {
		return nil, err
	}
	containers := make(map[uint64]*listState, len(rows))
	var maxID uint64
	for id, row := range rows {
		containers[id] = &listState{num: row.Num, container: row.Container}
		if id > maxID {
			maxID = id
		}
	}

	return &Queue{
		groups:     cfg.Groups,
		batch:      cfg.Batch,
		vdsRoot:    cfg.VDSRoot,
		store:      cfg.Store,
		artifacts:  cfg.Artifacts,
		prover:     cfg.Prover,
		wrapper:    cfg.Wrapper,
		sender:     cfg.Sender,
		pool:       cfg.Pool,
		logger:     logger,
		dir:        newDirectory(),
		jobs:       make(chan job, queueCapacity),
		nextListID: maxID,
		containers: containers,
	}, nil
}

// Start launches the single consumer goroutine. It returns immediately.
func (q *Queue) Start(ctx context.Context) { go q.run(ctx) }

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			q.dispatch(ctx, j)
		}
	}
}

// dispatch processes one job, recovering from any panic so a single bad
// request never takes down the consumer: failure is recorded on the
// request, never panics the process.
func (q *Queue) dispatch(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Printf("recovered panic processing request %s: %v", j.requestID(), r)
			q.dir.fail(j.requestID(), fmt.Errorf("coordinator: internal error: %v", r))
		}
	}()
	switch t := j.(type) {
	case createJob:
		q.handleCreate(ctx, t)
	case updateJob:
		q.handleUpdate(ctx, t)
	case updateRevJob:
		q.handleUpdateRev(ctx, t)
	case queryJob:
		q.handleQuery(ctx, t)
	}
}

// Request returns a request's current snapshot, or false if unknown.
func (q *Queue) Request(id uuid.UUID) (Request, bool) { return q.dir.get(id) }

// KnownGroup reports whether name is one of the coordinator's fixed group
// enumeration, letting the HTTP layer reject an unknown group synchronously
// instead of enqueueing a request doomed to fail deep inside handleUpdate.
func (q *Queue) KnownGroup(name string) bool {
	for _, g := range q.groups {
		if g == name {
			return true
		}
	}
	return false
}

// Container returns list listID's current in-memory state, or false if the
// list is unknown. Safe to call concurrently with the consumer goroutine.
func (q *Queue) Container(listID uint64) (num uint64, container *statehelper.Container, ok bool) {
	q.containersMu.RLock()
	defer q.containersMu.RUnlock()
	ls, found := q.containers[listID]
	if !found {
		return 0, nil, false
	}
	return ls.num, ls.container, true
}

// SubmitCreate enqueues a Create request and returns its id immediately.
func (q *Queue) SubmitCreate(ctx context.Context) (uuid.UUID, error) {
	req := q.dir.create(KindCreate)
	return q.enqueue(ctx, req.ID, createJob{id: req.ID})
}

// SubmitUpdate enqueues an Update request for listID.
func (q *Queue) SubmitUpdate(ctx context.Context, listID uint64, op statehelper.Op) (uuid.UUID, error) {
	req := q.dir.create(KindUpdate)
	return q.enqueue(ctx, req.ID, updateJob{id: req.ID, listID: listID, op: op})
}

// SubmitQuery enqueues a Query request for user against listID.
func (q *Queue) SubmitQuery(ctx context.Context, listID uint64, user string) (uuid.UUID, error) {
	req := q.dir.create(KindQuery)
	return q.enqueue(ctx, req.ID, queryJob{id: req.ID, listID: listID, user: user})
}

func (q *Queue) enqueue(ctx context.Context, id uuid.UUID, j job) (uuid.UUID, error) {
	select {
	case q.jobs <- j:
		return id, nil
	case <-ctx.Done():
		return id, ctx.Err()
	}
}

func (q *Queue) runOnPool(ctx context.Context, fn workerpool.Job) error {
	return <-q.pool.Submit(ctx, fn)
}

func (q *Queue) handleCreate(ctx context.Context, j createJob) {
	container, err := statehelper.NewContainer(q.groups)
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	collector := &StatementCollector{}
	if _, _, err := statehelper.Apply(collector, q.batch, container, statehelper.InitOp{}); err != nil {
		q.dir.fail(j.id, err)
		return
	}

	initRef, err := q.batch.Init()
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	listID := atomic.AddUint64(&q.nextListID, 1)
	wire, err := payload.Encode(payload.Payload{Init: &payload.Init{
		ID:           listIDHash(listID),
		PredicateRef: payload.PredicateRef{BatchID: initRef.BatchID, Index: initRef.Index},
		VDSRoot:      q.vdsRoot,
	}})
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	q.dir.setPhase(j.id, PhaseSendingBlobTx)
	txHash, err := q.sender.Send(ctx, wire)
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	// The DB write happens only after blob confirmation.
	if err := q.store.PutList(ctx, listID, 0, container); err != nil {
		q.logger.Printf("list %d confirmed on chain but local persist failed: %v", listID, err)
		q.dir.fail(j.id, fmt.Errorf("coordinator: persist after confirmation: %w", err))
		return
	}
	q.containersMu.Lock()
	q.containers[listID] = &listState{num: 0, container: container}
	q.containersMu.Unlock()

	q.dir.completeCreate(j.id, CreateResult{ListID: listID, TxHash: txHash})
}

func (q *Queue) handleUpdate(ctx context.Context, j updateJob) {
	ls, ok := q.containers[j.listID]
	if !ok {
		q.dir.fail(j.id, ErrListNotFound)
		return
	}

	collector := &StatementCollector{}
	next, stmt, err := statehelper.Apply(collector, q.batch, ls.container, j.op)
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	q.dir.setPhase(j.id, PhaseProvingMainPod)
	var pod *wrapper.ProvedPod
	if err := q.runOnPool(ctx, func(ctx context.Context) error {
		p, err := q.prover.ProveMainPod(collector.Statements)
		if err != nil {
			return err
		}
		pod = p
		return nil
	}); err != nil {
		q.dir.fail(j.id, err)
		return
	}
	pod.Statement.VDSRoot = q.vdsRoot

	q.dir.setPhase(j.id, PhaseWrappingMainPod)
	var wrapped []byte
	if err := q.runOnPool(ctx, func(ctx context.Context) error {
		w, err := q.wrapper.Wrap(pod)
		if err != nil {
			return err
		}
		wrapped = w
		return nil
	}); err != nil {
		q.dir.fail(j.id, err)
		return
	}

	nextNum := ls.num + 1
	wire, err := payload.Encode(payload.Payload{Update: &payload.Update{
		ID:              listIDHash(j.listID),
		CompressedProof: wrapped,
		NewState:        stmt.New,
		OpDigest:        stmt.OpDigest,
	}})
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	q.dir.setPhase(j.id, PhaseSendingBlobTx)
	txHash, err := q.sender.Send(ctx, wire)
	if err != nil {
		q.dir.fail(j.id, err)
		return
	}

	if err := q.artifacts.WriteMainPod(j.listID, nextNum, pod.Proof); err != nil {
		q.logger.Printf("list %d/%d confirmed but artifact write failed: %v", j.listID, nextNum, err)
	}
	if err := q.store.PutList(ctx, j.listID, nextNum, next); err != nil {
		q.logger.Printf("list %d/%d confirmed on chain but local persist failed: %v", j.listID, nextNum, err)
		q.dir.fail(j.id, fmt.Errorf("coordinator: persist after confirmation: %w", err))
		return
	}
	q.containersMu.Lock()
	q.containers[j.listID] = &listState{num: nextNum, container: next}
	q.containersMu.Unlock()

	q.dir.completeUpdate(j.id, UpdateResult{TxHash: txHash})
	q.scheduleUpdateRev(j.listID, nextNum)
}

// scheduleUpdateRev enqueues the out-of-band reverse-index update required
// after every successful Update. It never blocks: a full
// queue drops the scheduled work and records why, rather than stalling the
// consumer that would otherwise drain it.
func (q *Queue) scheduleUpdateRev(listID, num uint64) {
	req := q.dir.create(KindUpdateRev)
	select {
	case q.jobs <- updateRevJob{id: req.ID, listID: listID, num: num}:
	default:
		err := fmt.Errorf("coordinator: queue full, rev-index update for %d/%d not scheduled", listID, num)
		q.logger.Print(err)
		q.dir.fail(req.ID, err)
	}
}

func (q *Queue) handleUpdateRev(ctx context.Context, j updateRevJob) {
	q.dir.setPhase(j.id, PhaseProvingRevMainPod)

	var artifacts [][]byte
	for num := uint64(1); num <= j.num; num++ {
		data, err := q.artifacts.ReadMainPod(j.listID, num)
		if err != nil {
			q.dir.fail(j.id, err)
			return
		}
		artifacts = append(artifacts, data)
	}

	var pod *wrapper.ProvedPod
	if err := q.runOnPool(ctx, func(ctx context.Context) error {
		p, err := q.prover.ProveRevMainPod(artifacts)
		if err != nil {
			return err
		}
		pod = p
		return nil
	}); err != nil {
		// A known prover instability here is recorded on the request and
		// never panics the process.
		q.dir.fail(j.id, err)
		return
	}

	if err := q.artifacts.WriteRevMainPod(j.listID, j.num, pod.Proof); err != nil {
		q.dir.fail(j.id, err)
		return
	}
	if err := q.store.PutRevList(ctx, j.listID, j.num, pod.Statement.StatementsHash[:]); err != nil {
		q.dir.fail(j.id, err)
		return
	}

	q.dir.completeUpdateRev(j.id)
}

// handleQuery computes, for each group containing j.user, a Merkle
// membership proof, and returns the map.
func (q *Queue) handleQuery(ctx context.Context, j queryJob) {
	ls, ok := q.containers[j.listID]
	if !ok {
		q.dir.fail(j.id, ErrListNotFound)
		return
	}

	proofs := make(map[string]*merkletree.InclusionProof)
	for _, group := range ls.container.GroupNames() {
		if !ls.container.Contains(group, j.user) {
			continue
		}
		proof, err := ls.container.ProveGroup(group)
		if err != nil {
			q.dir.fail(j.id, err)
			return
		}
		proofs[group] = proof
	}

	q.dir.completeQuery(j.id, QueryResult{Proofs: proofs})
}

func listIDHash(id uint64) [32]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return sha256.Sum256(b[:])
}
