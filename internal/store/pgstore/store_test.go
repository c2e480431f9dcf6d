package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/persistence"
	"github.com/spec-kit/account-service/internal/store"
	"github.com/spec-kit/account-service/internal/store/pgstore"
	"github.com/spec-kit/account-service/internal/store/storetest"
)

const dsnEnv = "ACCOUNTS_TEST_POSTGRES_DSN"

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, persistence.RunMigrations(ctx, pool, zap.NewNop()))
	return pool
}

func newStore(t *testing.T, pool *pgxpool.Pool) *pgstore.Store {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE records`)
	require.NoError(t, err)
	return pgstore.New(pool, pgstore.Options{Prefix: "test:", ReclaimGrace: time.Hour, MaxRetries: 32})
}

func TestStoreBehaviour(t *testing.T) {
	pool := newPool(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return newStore(t, pool)
	})
}

func TestSweepHonoursGrace(t *testing.T) {
	pool := newPool(t)
	s := newStore(t, pool)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Transact(ctx, store.NewTx().
		Put("stale", store.Record{Key: "TOKEN#stale", Attributes: map[string]any{}, ExpiresAt: now.Add(-2 * time.Hour)}, store.Always).
		Put("recent", store.Record{Key: "TOKEN#recent", Attributes: map[string]any{}, ExpiresAt: now.Add(-time.Minute)}, store.Always).
		Put("account", store.Record{Key: "ACCOUNT#1", Attributes: map[string]any{"id": "1"}}, store.Always)))

	removed, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.Get(ctx, "TOKEN#stale")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "TOKEN#recent")
	require.NoError(t, err)
	_, err = s.Get(ctx, "ACCOUNT#1")
	require.NoError(t, err)
}
