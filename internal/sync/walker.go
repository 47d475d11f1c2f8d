// Copyright 2025 Certen Protocol
//
package sync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"

	"github.com/certen/ad-server/internal/blobtx"
	"github.com/certen/ad-server/internal/payload"
	"github.com/certen/ad-server/internal/sync/ledger"
	"github.com/certen/ad-server/internal/wrapper"
)

// pollInterval is how often Run re-checks the beacon head once the walker
// has caught up to it.
const pollInterval = 4 * time.Second

// Config wires a Walker's external collaborators and settlement parameters.
type Config struct {
	GenesisSlot uint64
	ToAddr      common.Address
	RequestRate int      // requests per slot budget, 0 = unthrottled
	EmptyState  [32]byte // the num=0 state commitment every Init records
	Wrapper     wrapper.Wrapper
	Logger      *log.Logger
}

// Walker is the synchronizer's resumable beacon-chain follower: it scans
// slots from a configured genesis, filters execution transactions by
// destination address, decodes matching blob payloads, verifies proofs
// against the configured wrapper, and persists the result to a ledger.
//
// Grounded on pkg/ethereum/client.go's dial-once/typed-call client shape
// generalized to a polling walk, with the "process one unit, persist,
// advance the cursor" discipline of pkg/database/client.go's migration
// runner applied to slots instead of schema files.
type Walker struct {
	beacon      BeaconSource
	execution   ExecutionSource
	ledger      *ledger.Store
	toAddr      common.Address
	requestRate int
	emptyState  [32]byte
	wrapper     wrapper.Wrapper
	logger      *log.Logger

	next uint64
}

// New builds a Walker, resuming from max(cfg.GenesisSlot, last visited
// slot + 1).
func New(beacon BeaconSource, execution ExecutionSource, led *ledger.Store, cfg Config) (*Walker, error) {
	if beacon == nil || execution == nil || led == nil {
		return nil, fmt.Errorf("sync: beacon, execution, and ledger are all required")
	}
	if cfg.Wrapper == nil {
		return nil, fmt.Errorf("sync: wrapper is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[Synchronizer] ", log.LstdFlags)
	}

	last, err := led.LastVisitedSlot(context.Background())
	if err != nil {
		return nil, err
	}
	next := cfg.GenesisSlot
	if last+1 > next {
		next = last + 1
	}

	return &Walker{
		beacon:      beacon,
		execution:   execution,
		ledger:      led,
		toAddr:      cfg.ToAddr,
		requestRate: cfg.RequestRate,
		emptyState:  cfg.EmptyState,
		wrapper:     cfg.Wrapper,
		logger:      logger,
		next:        next,
	}, nil
}

// Run walks slots until ctx is cancelled, sleeping between polls once it
// has caught up to the chain head.
func (w *Walker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		advanced, err := w.Step(ctx)
		if err != nil {
			return err
		}
		if !advanced {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}
		if w.requestRate > 0 {
			time.Sleep(time.Duration(1000/w.requestRate) * time.Millisecond)
		}
	}
}

// Step processes exactly one slot if the beacon head has reached it,
// reporting whether the cursor advanced. Exposed for tests that need to
// drive the walker deterministically rather than through Run's poll loop.
func (w *Walker) Step(ctx context.Context) (bool, error) {
	head, err := w.beacon.HeadSlot(ctx)
	if err != nil {
		return false, fmt.Errorf("sync: head slot: %w", err)
	}
	if w.next > head {
		return false, nil
	}

	slot := w.next
	if err := w.processSlot(ctx, slot); err != nil {
		return false, fmt.Errorf("sync: process slot %d: %w", slot, err)
	}
	w.next++
	return true, nil
}

// emptySlot records slot as visited with no blob/ad activity.
func (w *Walker) emptySlot(ctx context.Context, slot uint64) error {
	return w.ledger.ApplySlot(ctx, slot, func(*ledger.TxOps) error { return nil })
}

// processSlot walks one slot end to end: header presence, blob
// commitments, execution-block transaction filtering, sidecar matching,
// payload decode, and dispatch.
func (w *Walker) processSlot(ctx context.Context, slot uint64) error {
	_, present, err := w.beacon.Header(ctx, slot)
	if err != nil {
		return fmt.Errorf("fetch header: %w", err)
	}
	if !present {
		return w.emptySlot(ctx, slot)
	}

	block, err := w.beacon.Block(ctx, slot)
	if err != nil {
		return fmt.Errorf("fetch block: %w", err)
	}
	if block == nil || !block.HasExecutionPayload || len(block.KZGCommitments) == 0 {
		return w.emptySlot(ctx, slot)
	}

	execBlock, err := w.execution.BlockByHash(ctx, block.ExecutionBlockHash)
	if err != nil {
		return fmt.Errorf("fetch execution block %s: %w", block.ExecutionBlockHash, err)
	}

	var targets []common.Hash
	for _, tx := range execBlock.Transactions() {
		if tx.To() == nil || *tx.To() != w.toAddr {
			continue
		}
		targets = append(targets, tx.BlobHashes()...)
	}
	if len(targets) == 0 {
		return w.emptySlot(ctx, slot)
	}

	sidecars, err := w.beacon.BlobSidecars(ctx, slot)
	if err != nil {
		return fmt.Errorf("fetch blob sidecars: %w", err)
	}

	type matchedBlob struct {
		versionedHash common.Hash
		index         uint64
		payload       []byte
	}
	var matched []matchedBlob
	for _, target := range targets {
		for _, sc := range sidecars {
			commitment := kzg4844.Commitment(sc.KZGCommitment)
			if kzg4844.CalcBlobHashV1(sha256.New(), &commitment) != target {
				continue
			}
			raw, decodeErr := blobtx.DecodeBlob(&sc.Blob)
			if decodeErr != nil {
				w.logger.Printf("slot %d: dropping unparseable blob %s: %v", slot, target, decodeErr)
				break
			}
			matched = append(matched, matchedBlob{versionedHash: target, index: sc.Index, payload: raw})
			break
		}
	}

	return w.ledger.ApplySlot(ctx, slot, func(tx *ledger.TxOps) error {
		for _, m := range matched {
			if err := w.applyPayload(ctx, tx, m.payload, m.versionedHash); err != nil {
				w.logger.Printf("slot %d: dropping blob %s: %v", slot, m.versionedHash, err)
				continue
			}
			if err := tx.InsertBlob(ctx, m.versionedHash, slot, block.ExecutionBlockNumber, m.index, block.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Walker) applyPayload(ctx context.Context, tx *ledger.TxOps, raw []byte, blobHash common.Hash) error {
	p, err := payload.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	switch {
	case p.Init != nil:
		return w.applyInit(ctx, tx, p.Init, blobHash)
	case p.Update != nil:
		return w.applyUpdate(ctx, tx, p.Update, blobHash)
	default:
		return fmt.Errorf("payload carries neither init nor update")
	}
}

func (w *Walker) applyInit(ctx context.Context, tx *ledger.TxOps, init *payload.Init, blobHash common.Hash) error {
	exists, err := tx.AdExists(ctx, init.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("list %x already exists, rejecting duplicate init", init.ID)
	}
	if err := tx.InsertAd(ctx, init.ID, init.PredicateRef.BatchID, init.PredicateRef.Index, init.VDSRoot, blobHash); err != nil {
		return err
	}
	return tx.InsertAdUpdate(ctx, init.ID, 0, w.emptyState, blobHash)
}

func (w *Walker) applyUpdate(ctx context.Context, tx *ledger.TxOps, upd *payload.Update, blobHash common.Hash) error {
	predicateBatch, predicateIndex, vdsRoot, found, err := tx.GetAd(ctx, upd.ID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update for unknown list %x", upd.ID)
	}

	num, prevState, found, err := tx.LatestAdUpdate(ctx, upd.ID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no prior state recorded for list %x", upd.ID)
	}

	stHash := statementsHash(predicateBatch, predicateIndex, upd.NewState, prevState)
	ok, err := w.wrapper.Verify(upd.CompressedProof, &wrapper.Statement{StatementsHash: stHash, VDSRoot: vdsRoot})
	if err != nil {
		return fmt.Errorf("verify proof for %x/%d: %w", upd.ID, num+1, err)
	}
	if !ok {
		return fmt.Errorf("proof rejected for %x/%d", upd.ID, num+1)
	}
	return tx.InsertAdUpdate(ctx, upd.ID, num+1, upd.NewState, blobHash)
}

// statementsHash computes statements_hash(custom_statement(predicate_ref,
// [new_state, prev_state])) as a sha256 over the concatenation of
// its four fixed-width components, the same "hash a canonical byte layout"
// approach internal/predicate uses for batch identity.
func statementsHash(predicateBatch [32]byte, predicateIndex uint8, newState, prevState [32]byte) [32]byte {
	h := sha256.New()
	h.Write(predicateBatch[:])
	h.Write([]byte{predicateIndex})
	h.Write(newState[:])
	h.Write(prevState[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
