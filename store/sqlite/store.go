// Package sqlite implements store.Store on a single SQLite file using the
// pure-Go modernc.org/sqlite driver. This is the default on-device backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xraph/getanswer"
	getanswerstore "github.com/xraph/getanswer/store"
)

// compile-time interface check
var _ getanswerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pragmas.
// Call Migrate before first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("getanswer/sqlite: open %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("getanswer/sqlite: %s: %w", p, err)
		}
	}

	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the key-value table.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("getanswer/sqlite: migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM getanswer_kv WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, getanswer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getanswer/sqlite: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, entries ...getanswerstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("getanswer/sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
INSERT INTO getanswer_kv (key, value, updated_at)
VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			e.Key, e.Value,
		)
		if err != nil {
			return fmt.Errorf("getanswer/sqlite: put %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("getanswer/sqlite: commit: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("getanswer/sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM getanswer_kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("getanswer/sqlite: delete %s: %w", k, err)
		}
	}
	return tx.Commit()
}
