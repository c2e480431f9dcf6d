// Package pgstore implements store.Store on a single Postgres table using
// serializable transactions.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-service/internal/store"
)

const (
	defaultMaxRetries = 5

	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// Options tunes the Postgres store.
type Options struct {
	Prefix       string
	ReclaimGrace time.Duration
	MaxRetries   int
}

// Store persists records in the records table.
type Store struct {
	pool *pgxpool.Pool
	opts Options
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Sweeper = (*Store)(nil)
)

// New wraps a connection pool. The records table must already exist.
func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Store{pool: pool, opts: opts}
}

func (s *Store) key(k store.Key) string {
	return s.opts.Prefix + string(k)
}

// Get reads a single record.
func (s *Store) Get(ctx context.Context, key store.Key) (*store.Record, error) {
	const query = `SELECT attributes, expires_at FROM records WHERE key = $1`

	rec, err := scanRecord(key, s.pool.QueryRow(ctx, query, s.key(key)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return rec, nil
}

// Transact locks every touched row, evaluates conditions and applies the
// writes inside one serializable transaction.
func (s *Store) Transact(ctx context.Context, tx *store.Tx) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	ops := tx.Ops()

	var err error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(dbtx pgx.Tx) error {
			return s.apply(ctx, dbtx, ops)
		})
		if err == nil {
			return nil
		}
		if retryable(err) {
			continue
		}
		return classify(err)
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", store.ErrUnavailable, err)
}

func (s *Store) apply(ctx context.Context, dbtx pgx.Tx, ops []store.Op) error {
	const (
		lockQuery   = `SELECT attributes, expires_at FROM records WHERE key = $1 FOR UPDATE`
		deleteQuery = `DELETE FROM records WHERE key = $1`
		upsertQuery = `
        INSERT INTO records (key, attributes, expires_at, updated_at)
        VALUES ($1, $2::jsonb, $3, NOW())
        ON CONFLICT (key) DO UPDATE
        SET attributes = EXCLUDED.attributes, expires_at = EXCLUDED.expires_at, updated_at = NOW()`
	)

	current := make([]*store.Record, len(ops))
	for i, op := range ops {
		rec, err := scanRecord(op.Key, dbtx.QueryRow(ctx, lockQuery, s.key(op.Key)))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		current[i] = rec
	}

	if failed := store.Evaluate(ops, current); len(failed) > 0 {
		return &store.CanceledError{Tags: failed}
	}

	for i, op := range ops {
		switch op.Type {
		case store.OpCheck:
			continue
		case store.OpDelete:
			if _, err := dbtx.Exec(ctx, deleteQuery, s.key(op.Key)); err != nil {
				return err
			}
		default:
			next, err := store.Apply(op, current[i])
			if err != nil {
				return err
			}
			attrs, err := json.Marshal(next.Attributes)
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrInvalidOperation, err)
			}
			var expiresAt *time.Time
			if !next.ExpiresAt.IsZero() {
				exp := next.ExpiresAt.UTC()
				expiresAt = &exp
			}
			if _, err := dbtx.Exec(ctx, upsertQuery, s.key(op.Key), string(attrs), expiresAt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sweep removes records whose expiry plus the reclaim grace lies before the
// given instant.
func (s *Store) Sweep(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at < $1`

	cmd, err := s.pool.Exec(ctx, query, before.Add(-s.opts.ReclaimGrace).UTC())
	if err != nil {
		return 0, classify(err)
	}
	return cmd.RowsAffected(), nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func scanRecord(key store.Key, row pgx.Row) (*store.Record, error) {
	var (
		raw       []byte
		expiresAt *time.Time
	)
	if err := row.Scan(&raw, &expiresAt); err != nil {
		return nil, err
	}
	rec := &store.Record{Key: key, Attributes: map[string]any{}}
	if err := json.Unmarshal(raw, &rec.Attributes); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, key, err)
	}
	if expiresAt != nil {
		rec.ExpiresAt = expiresAt.UTC()
	}
	return rec, nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeUniqueViolation
}

func classify(err error) error {
	var canceled *store.CanceledError
	switch {
	case errors.As(err, &canceled),
		errors.Is(err, store.ErrCorrupt),
		errors.Is(err, store.ErrInvalidOperation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}
