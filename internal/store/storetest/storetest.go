// Package storetest holds behaviour checks every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/account-service/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the shared backend checks.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "ACCOUNT#missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)

		err := s.Transact(ctx, store.NewTx().Put("item", store.Record{
			Key: "TOKEN#a",
			Attributes: map[string]any{
				"accountId": "acc-1",
				"active":    true,
				"billing":   map[string]any{"customer": map[string]any{"id": "cus_1"}},
			},
			ExpiresAt: expires,
		}, store.NotExists()))
		require.NoError(t, err)

		rec, err := s.Get(ctx, "TOKEN#a")
		require.NoError(t, err)
		assert.Equal(t, store.Key("TOKEN#a"), rec.Key)
		assert.Equal(t, "acc-1", rec.Attributes["accountId"])
		assert.Equal(t, true, rec.Attributes["active"])
		billing, ok := rec.Attributes["billing"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"id": "cus_1"}, billing["customer"])
		assert.WithinDuration(t, expires, rec.ExpiresAt, time.Second)
	})

	t.Run("not exists guard reports tag", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put := func() error {
			return s.Transact(ctx, store.NewTx().Put("email", store.Record{
				Key:        "EMAIL#a@x.com",
				Attributes: map[string]any{"accountId": "1"},
			}, store.NotExists()))
		}
		require.NoError(t, put())

		err := put()
		var canceled *store.CanceledError
		require.ErrorAs(t, err, &canceled)
		assert.Equal(t, []store.Tag{"email"}, canceled.Tags)
	})

	t.Run("attr equals guard", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Transact(ctx, store.NewTx().Put("email", store.Record{
			Key:        "EMAIL#a@x.com",
			Attributes: map[string]any{"accountId": "1"},
		}, store.NotExists())))

		err := s.Transact(ctx, store.NewTx().Delete("old_email", "EMAIL#a@x.com", store.AttrEquals("accountId", "2")))
		var canceled *store.CanceledError
		require.ErrorAs(t, err, &canceled)
		assert.Equal(t, []store.Tag{"old_email"}, canceled.Tags)

		require.NoError(t, s.Transact(ctx, store.NewTx().Delete("old_email", "EMAIL#a@x.com", store.AttrEquals("accountId", "1"))))
		_, err = s.Get(ctx, "EMAIL#a@x.com")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("failed condition applies nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.Transact(ctx, store.NewTx().
			Put("account", store.Record{Key: "ACCOUNT#1", Attributes: map[string]any{"id": "1"}}, store.NotExists()).
			Delete("token", "SETUPACCOUNT#nope", store.Exists()))
		var canceled *store.CanceledError
		require.ErrorAs(t, err, &canceled)
		assert.True(t, canceled.Has("token"))
		assert.False(t, canceled.Has("account"))

		_, err = s.Get(ctx, "ACCOUNT#1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("every failed tag in order", func(t *testing.T) {
		s := newStore(t)
		err := s.Transact(context.Background(), store.NewTx().
			Check("first", "ACCOUNT#x", store.Exists()).
			Check("second", "ACCOUNT#y", store.NotExists()).
			Check("third", "ACCOUNT#z", store.Exists()))
		var canceled *store.CanceledError
		require.ErrorAs(t, err, &canceled)
		assert.Equal(t, []store.Tag{"first", "third"}, canceled.Tags)
	})

	t.Run("live condition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, s.Transact(ctx, store.NewTx().
			Put("a", store.Record{Key: "TOKEN#old", Attributes: map[string]any{"k": "v"}, ExpiresAt: now.Add(-time.Minute)}, store.Always).
			Put("b", store.Record{Key: "TOKEN#new", Attributes: map[string]any{"k": "v"}, ExpiresAt: now.Add(time.Hour)}, store.Always)))

		err := s.Transact(ctx, store.NewTx().Delete("token", "TOKEN#old", store.Live(now)))
		var canceled *store.CanceledError
		require.ErrorAs(t, err, &canceled)
		assert.Equal(t, []store.Tag{"token"}, canceled.Tags)

		rec, err := s.Get(ctx, "TOKEN#old")
		require.NoError(t, err)
		assert.True(t, !rec.ExpiresAt.After(now))

		require.NoError(t, s.Transact(ctx, store.NewTx().Delete("token", "TOKEN#new", store.Live(now))))
		_, err = s.Get(ctx, "TOKEN#new")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update sets paths and keeps the rest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Transact(ctx, store.NewTx().Put("account", store.Record{
			Key: "ACCOUNT#1",
			Attributes: map[string]any{
				"id":       "1",
				"fullName": "A",
				"billing":  map[string]any{"customer": map[string]any{"id": "cus_1"}},
			},
		}, store.NotExists())))

		require.NoError(t, s.Transact(ctx, store.NewTx().Update("account", "ACCOUNT#1", map[string]any{
			"fullName":             "B",
			"billing.subscription": map[string]any{"id": "sub_1"},
		}, store.Exists())))

		rec, err := s.Get(ctx, "ACCOUNT#1")
		require.NoError(t, err)
		assert.Equal(t, "1", rec.Attributes["id"])
		assert.Equal(t, "B", rec.Attributes["fullName"])
		billing, ok := rec.Attributes["billing"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"id": "cus_1"}, billing["customer"])
		assert.Equal(t, map[string]any{"id": "sub_1"}, billing["subscription"])
	})

	t.Run("update missing record", func(t *testing.T) {
		s := newStore(t)
		err := s.Transact(context.Background(), store.NewTx().
			Update("account", "ACCOUNT#missing", map[string]any{"fullName": "B"}, store.Exists()))
		var canceled *store.CanceledError
		require.ErrorAs(t, err, &canceled)
		assert.True(t, canceled.Has("account"))
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Transact(context.Background(), store.NewTx().
			Check("a", "ACCOUNT#1", store.Exists()).
			Delete("b", "ACCOUNT#1", store.Always))
		require.ErrorIs(t, err, store.ErrDuplicateKey)
	})

	t.Run("single consumer wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, s.Transact(ctx, store.NewTx().Put("token", store.Record{
			Key:        "TOKEN#race",
			Attributes: map[string]any{"accountId": "1"},
			ExpiresAt:  now.Add(time.Hour),
		}, store.NotExists())))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			failures  int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Transact(ctx, store.NewTx().Delete("token", "TOKEN#race", store.Live(now)))
				mu.Lock()
				defer mu.Unlock()
				var canceled *store.CanceledError
				switch {
				case err == nil:
					successes++
				case errors.As(err, &canceled):
					failures++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, failures)
	})
}
