// Copyright 2025 Certen Protocol
//
// Package coordinator implements the single-consumer request pipeline that
// turns client mutations into proven, blob-anchored state transitions,
// grounded on the consumer context+WaitGroup lifecycle shape of
// pkg/batch/consensus_coordinator.go and the state-machine/custody-chain
// idioms of pkg/proof/lifecycle.go.
//
// Store persists list state to SQLite, adapted from
// pkg/database/client.go's connection-pool/migration/health shape: a
// connection pool of Postgres connections becomes a single
// modernc.org/sqlite connection (SetMaxOpenConns(1), enforcing a
// single-writer discipline), and embedded migrations are applied the same
// apply-then-record way, one transaction per migration file.
package coordinator

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"sort"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/certen/ad-server/internal/statehelper"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the coordinator's local SQLite-backed list/rev-list storage.
// Its only writer is the queue's single consumer goroutine; readers (the
// Read API) go through Queue's lock-guarded in-memory containers instead of
// querying Store directly, since the consumer's own pre-image is always at
// least as fresh as the last persisted row.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// StoreOption configures a Store at construction time.
type StoreOption func(*Store)

// WithStoreLogger overrides the store's default logger.
func WithStoreLogger(l *log.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// OpenStore opens (creating if absent) the SQLite database at path and
// applies any pending migrations.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: log.New(log.Writer(), "[CoordinatorStore] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Health reports whether the database connection is reachable.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("coordinator: health check: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("coordinator: create schema_migrations: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("coordinator: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("coordinator: check migration %s: %w", name, err)
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
		return fmt.Errorf("coordinator: read migration %s: %w", name, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("coordinator: begin migration %s: %w", name, err)
	}
	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		tx.Rollback()
		return fmt.Errorf("coordinator: apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, datetime('now'))`, name); err != nil {
		tx.Rollback()
		return fmt.Errorf("coordinator: record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("coordinator: commit migration %s: %w", name, err)
	}
	return nil
}

// ListRow is one persisted membership_list row, decoded back into a live
// Container.
type ListRow struct {
	Num       uint64
	Container *statehelper.Container
}

// LoadAll reads every persisted list, used at startup to rebuild the
// queue's in-memory pre-images after a restart.
func (s *Store) LoadAll(ctx context.Context) (map[uint64]ListRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, num, state FROM membership_list`)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load lists: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]ListRow)
	for rows.Next() {
		var id, num uint64
		var enc []byte
		if err := rows.Scan(&id, &num, &enc); err != nil {
			return nil, fmt.Errorf("coordinator: scan list row: %w", err)
		}
		var snap statehelper.Snapshot
		if err := cbor.Unmarshal(enc, &snap); err != nil {
			return nil, fmt.Errorf("coordinator: decode snapshot %d: %w", id, err)
		}
		c, err := statehelper.Restore(snap)
		if err != nil {
			return nil, fmt.Errorf("coordinator: restore container %d: %w", id, err)
		}
		out[id] = ListRow{Num: num, Container: c}
	}
	return out, rows.Err()
}

// PutList writes (or overwrites) the membership_list row for id.
func (s *Store) PutList(ctx context.Context, id, num uint64, c *statehelper.Container) error {
	enc, err := cbor.Marshal(c.Snapshot())
	if err != nil {
		return fmt.Errorf("coordinator: encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO membership_list (id, num, state) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET num = excluded.num, state = excluded.state`, id, num, enc)
	if err != nil {
		return fmt.Errorf("coordinator: put list %d: %w", id, err)
	}
	return nil
}

// PutRevList writes (or overwrites) the rev_membership_list row for id.
func (s *Store) PutRevList(ctx context.Context, id, num uint64, state []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO rev_membership_list (id, num, state) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET num = excluded.num, state = excluded.state`, id, num, state)
	if err != nil {
		return fmt.Errorf("coordinator: put rev list %d: %w", id, err)
	}
	return nil
}
