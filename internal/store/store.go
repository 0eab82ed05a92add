// Package store implements the Postgres-backed persistence seam behind
// every domain package's Store interface. A single Store value satisfies
// catalog.Store, pricing.Store, providermatch.Store, lifecycle.Store,
// assignment.Store, sla.Store, and scoring.Store — the domain packages
// never see pgx directly.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fielddispatch/gateway/internal/config"
)

// Store wraps a pgx connection pool plus the open-transaction registry used
// to span a "load for update" / "save" pair across the two calls each
// domain Store interface makes, while holding the underlying Postgres row
// lock for the whole of that unit of work.
type Store struct {
	pool *pgxpool.Pool

	mu  sync.Mutex
	txs map[string]pgx.Tx
}

// New connects to the configured database and returns a ready Store.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool, txs: make(map[string]pgx.Tx)}, nil
}

// Close releases the pool. Any transaction left open by a caller that
// loaded-for-update and never saved is abandoned; Postgres reclaims the
// lock when the underlying connection is closed.
func (s *Store) Close() {
	s.pool.Close()
}

// beginFor opens a transaction keyed by key and parks it in the registry,
// returning the Tx for the caller to issue its locking SELECT on.
func (s *Store) beginFor(ctx context.Context, key string) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	s.mu.Lock()
	s.txs[key] = tx
	s.mu.Unlock()
	return tx, nil
}

// takeFor pops the transaction parked under key, for the Save half of a
// load-for-update/save pair. Returns nil if none is open (caller should
// treat this as a programmer error: Save called without a matching Load).
func (s *Store) takeFor(key string) pgx.Tx {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.txs[key]
	delete(s.txs, key)
	return tx
}

// abortFor rolls back and discards a parked transaction, used when the
// locking read comes back empty or errors before a Save can occur.
func (s *Store) abortFor(ctx context.Context, key string, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
	s.mu.Lock()
	delete(s.txs, key)
	s.mu.Unlock()
}
