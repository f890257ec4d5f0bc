// Package dal is the hub's data-access layer: typed operations over
// servers, users, categories, channels, messages, read-states, moderation
// actions, ban rules, folder files, and RSS dedupe rows. It talks to
// PostgreSQL directly through pgx — no ORM — using raw SQL with $N
// placeholders throughout. Single-writer semantics are assumed at the SQL
// engine; the Store performs no client-side locking.
package dal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("dal: not found")

// Store wraps a pgx connection pool and exposes entity-scoped operations.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool's lifecycle (including migrations)
// is owned by internal/database; Store only issues queries against it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// wrapNotFound maps pgx.ErrNoRows to the package's sentinel so callers don't
// need to import pgx themselves.
func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("dal: %s: %w", op, wrapNotFound(err))
}

// Tx runs fn inside a single transaction, committing on nil return and
// rolling back otherwise, for operations that must be atomic across more
// than one statement. No Store method currently calls it.
func (s *Store) Tx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dal: commit tx: %w", err)
	}
	return nil
}
