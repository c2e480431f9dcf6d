// Package redisstore implements store.Store on Redis using optimistic
// WATCH/MULTI/EXEC transactions.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/account-service/internal/store"
)

const defaultMaxRetries = 8

// Options tunes the Redis store.
type Options struct {
	// Prefix is prepended to every key.
	Prefix string
	// ReclaimGrace delays passive expiry past a record's ExpiresAt.
	ReclaimGrace time.Duration
	// MaxRetries bounds EXEC retries after concurrent modification.
	MaxRetries int
}

// Store is a Redis-backed record store.
type Store struct {
	client redis.UniversalClient
	opts   Options
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, opts Options) *Store {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Store{client: client, opts: opts}
}

type envelope struct {
	Attributes map[string]any `json:"a"`
	ExpiresAt  int64          `json:"e,omitempty"`
}

func (s *Store) key(k store.Key) string {
	return s.opts.Prefix + string(k)
}

// Get reads a single record.
func (s *Store) Get(ctx context.Context, key store.Key) (*store.Record, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return decode(key, data)
}

// Transact watches every key, evaluates conditions against the watched
// values and commits the writes in one MULTI/EXEC block.
func (s *Store) Transact(ctx context.Context, tx *store.Tx) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	ops := tx.Ops()
	keys := make([]string, len(ops))
	for i, op := range ops {
		keys[i] = s.key(op.Key)
	}

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			current := make([]*store.Record, len(ops))
			for i, op := range ops {
				data, err := rtx.Get(ctx, keys[i]).Bytes()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					return err
				}
				rec, err := decode(op.Key, data)
				if err != nil {
					return err
				}
				current[i] = rec
			}

			if failed := store.Evaluate(ops, current); len(failed) > 0 {
				return &store.CanceledError{Tags: failed}
			}

			next := make([]*store.Record, len(ops))
			for i, op := range ops {
				rec, err := store.Apply(op, current[i])
				if err != nil {
					return err
				}
				next[i] = rec
			}

			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for i, op := range ops {
					switch op.Type {
					case store.OpCheck:
						continue
					case store.OpDelete:
						pipe.Del(ctx, keys[i])
					default:
						data, err := encode(next[i])
						if err != nil {
							return err
						}
						pipe.Set(ctx, keys[i], data, 0)
						if !next[i].ExpiresAt.IsZero() {
							pipe.PExpireAt(ctx, keys[i], next[i].ExpiresAt.Add(s.opts.ReclaimGrace))
						}
					}
				}
				return nil
			})
			return err
		}, keys...)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			var canceled *store.CanceledError
			switch {
			case errors.As(err, &canceled),
				errors.Is(err, store.ErrCorrupt),
				errors.Is(err, store.ErrInvalidOperation):
				return err
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
			}
		}
		return nil
	}

	return fmt.Errorf("%w: transaction retries exhausted", store.ErrUnavailable)
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func encode(rec *store.Record) ([]byte, error) {
	env := envelope{Attributes: rec.Attributes}
	if !rec.ExpiresAt.IsZero() {
		env.ExpiresAt = rec.ExpiresAt.UnixMilli()
	}
	return json.Marshal(env)
}

func decode(key store.Key, data []byte) (*store.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", store.ErrCorrupt, key, err)
	}
	rec := &store.Record{Key: key, Attributes: env.Attributes}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}
	if env.ExpiresAt > 0 {
		rec.ExpiresAt = time.UnixMilli(env.ExpiresAt).UTC()
	}
	return rec, nil
}
