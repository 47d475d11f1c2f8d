// Copyright 2025 Certen Protocol
//
// Package ledger is the synchronizer's append-only SQLite store: the
// ad/ad_update/blob/visited_slot tables, kept under the same
// connection-pool/migration discipline as internal/coordinator's Store,
// generalized from pkg/database/client.go.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the synchronizer's single-writer ledger connection.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenStore opens (creating if needed) the SQLite ledger at path and applies
// any pending migrations. A single connection is held open for the store's
// lifetime: the synchronizer is itself single-writer, so there is never a
// reason to pool.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: log.New(log.Writer(), "[Ledger] ", log.LstdFlags)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Health pings the database, for the synchronizer's /health endpoint.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ledger: health check: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ledger: create schema_migrations: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("ledger: read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		err := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("ledger: check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}
		if err := s.applyMigration(name); err != nil {
			return err
		}
		s.logger.Printf("applied migration %s", name)
	}
	return nil
}

func (s *Store) applyMigration(name string) error {
	sqlBytes, err := migrationFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("ledger: read migration %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		tx.Rollback()
		return fmt.Errorf("ledger: apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, strftime('%s','now'))`, name); err != nil {
		tx.Rollback()
		return fmt.Errorf("ledger: record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit migration %s: %w", name, err)
	}
	return nil
}

// LastVisitedSlot returns the greatest recorded slot, or 0 if none have
// been visited yet.
func (s *Store) LastVisitedSlot(ctx context.Context) (uint64, error) {
	var slot sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(slot) FROM visited_slot`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("ledger: last visited slot: %w", err)
	}
	if !slot.Valid {
		return 0, nil
	}
	return uint64(slot.Int64), nil
}

// LatestCommitment returns the most recently recorded state for id, for
// the read API's /ad_state/{id} route.
func (s *Store) LatestCommitment(ctx context.Context, id [32]byte) (num uint64, commitment [32]byte, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT num, state_commitment FROM ad_update WHERE id = ? ORDER BY num DESC LIMIT 1`, id[:])
	var enc []byte
	if scanErr := row.Scan(&num, &enc); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, commitment, false, nil
		}
		return 0, commitment, false, fmt.Errorf("ledger: latest commitment %x: %w", id, scanErr)
	}
	copy(commitment[:], enc)
	return num, commitment, true, nil
}

// TxOps scopes one slot's writes to a single transaction: matched blobs,
// ad/ad_update rows, and the closing visited_slot row, all committed
// together or not at all.
type TxOps struct {
	tx *sql.Tx
}

// InsertBlob records a matched blob's chain location.
func (t *TxOps) InsertBlob(ctx context.Context, versionedHash common.Hash, slot, block, blobIndex, timestamp uint64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO blob (versioned_hash, slot, block, blob_index, timestamp) VALUES (?, ?, ?, ?, ?)`,
		versionedHash[:], slot, block, blobIndex, timestamp)
	if err != nil {
		return fmt.Errorf("ledger: insert blob %s: %w", versionedHash, err)
	}
	return nil
}

// AdExists reports whether id already has an ad row, to reject duplicate
// Init payloads.
func (t *TxOps) AdExists(ctx context.Context, id [32]byte) (bool, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM ad WHERE id = ?`, id[:]).Scan(&n); err != nil {
		return false, fmt.Errorf("ledger: check ad %x: %w", id, err)
	}
	return n > 0, nil
}

// InsertAd records a list's genesis row.
func (t *TxOps) InsertAd(ctx context.Context, id, predicateBatch [32]byte, predicateIndex uint8, vdsRoot [32]byte, genesisBlobHash common.Hash) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ad (id, predicate_batch, predicate_index, vds_root, genesis_blob_hash) VALUES (?, ?, ?, ?, ?)`,
		id[:], predicateBatch[:], predicateIndex, vdsRoot[:], genesisBlobHash[:])
	if err != nil {
		return fmt.Errorf("ledger: insert ad %x: %w", id, err)
	}
	return nil
}

// GetAd fetches a list's genesis row.
func (t *TxOps) GetAd(ctx context.Context, id [32]byte) (predicateBatch [32]byte, predicateIndex uint8, vdsRoot [32]byte, found bool, err error) {
	row := t.tx.QueryRowContext(ctx, `SELECT predicate_batch, predicate_index, vds_root FROM ad WHERE id = ?`, id[:])
	var batchEnc, vdsEnc []byte
	if scanErr := row.Scan(&batchEnc, &predicateIndex, &vdsEnc); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return predicateBatch, 0, vdsRoot, false, nil
		}
		return predicateBatch, 0, vdsRoot, false, fmt.Errorf("ledger: get ad %x: %w", id, scanErr)
	}
	copy(predicateBatch[:], batchEnc)
	copy(vdsRoot[:], vdsEnc)
	return predicateBatch, predicateIndex, vdsRoot, true, nil
}

// InsertAdUpdate records an accepted transition.
func (t *TxOps) InsertAdUpdate(ctx context.Context, id [32]byte, num uint64, stateCommitment [32]byte, blobHash common.Hash) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ad_update (id, num, state_commitment, blob_hash) VALUES (?, ?, ?, ?)`,
		id[:], num, stateCommitment[:], blobHash[:])
	if err != nil {
		return fmt.Errorf("ledger: insert ad_update %x/%d: %w", id, num, err)
	}
	return nil
}

// LatestAdUpdate returns the highest-numbered recorded state for id.
func (t *TxOps) LatestAdUpdate(ctx context.Context, id [32]byte) (num uint64, commitment [32]byte, found bool, err error) {
	row := t.tx.QueryRowContext(ctx, `SELECT num, state_commitment FROM ad_update WHERE id = ? ORDER BY num DESC LIMIT 1`, id[:])
	var enc []byte
	if scanErr := row.Scan(&num, &enc); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, commitment, false, nil
		}
		return 0, commitment, false, fmt.Errorf("ledger: latest ad_update %x: %w", id, scanErr)
	}
	copy(commitment[:], enc)
	return num, commitment, true, nil
}

// ApplySlot runs fn inside a transaction and, only if fn succeeds, records
// slot as visited and commits. A failing fn rolls the whole slot back so
// the cursor never advances past data it didn't actually persist.
func (s *Store) ApplySlot(ctx context.Context, slot uint64, fn func(*TxOps) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin slot %d: %w", slot, err)
	}
	ops := &TxOps{tx: tx}
	if err := fn(ops); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO visited_slot (slot) VALUES (?)`, slot); err != nil {
		tx.Rollback()
		return fmt.Errorf("ledger: record visited slot %d: %w", slot, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit slot %d: %w", slot, err)
	}
	return nil
}
