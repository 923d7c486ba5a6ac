package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx executed by the repositories. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so the same repository code runs
// inside and outside transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store aggregates the per-entity repositories and provides transaction
// scoping. Multi-row mutations (password reset, vault create with audit row)
// must run through InTx; partial application of those writes is a
// correctness violation, not a degraded mode.
type Store interface {
	Users() UserRepository
	OTPs() OTPRepository
	Sessions() SessionRepository
	VaultEntries() VaultRepository
	Activity() ActivityRepository

	// InTx runs fn with a Store bound to a single transaction. The
	// transaction commits iff fn returns nil. Calling InTx on a Store that
	// is already transactional reuses the open transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

// pgStore implements Store on PostgreSQL
type pgStore struct {
	pool *pgxpool.Pool
	q    Querier
}

// NewStore creates a Store backed by the given connection pool
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, q: pool}
}

func (s *pgStore) Users() UserRepository        { return &userRepository{q: s.q} }
func (s *pgStore) OTPs() OTPRepository          { return &otpRepository{q: s.q} }
func (s *pgStore) Sessions() SessionRepository  { return &sessionRepository{q: s.q} }
func (s *pgStore) VaultEntries() VaultRepository {
	return &vaultRepository{q: s.q}
}
func (s *pgStore) Activity() ActivityRepository { return &activityRepository{q: s.q} }

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(pgx.Tx); ok {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	txStore := &pgStore{pool: s.pool, q: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
