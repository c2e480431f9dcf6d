// Package store defines the record store contract shared by every backend:
// single-item reads and atomic, all-or-nothing multi-item transactions whose
// operations carry named condition tags.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when no record exists under the key.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps transport and backend failures. Safe to retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrCorrupt is returned when a persisted record cannot be decoded.
	ErrCorrupt = errors.New("store record corrupt")
	// ErrDuplicateKey rejects transactions that touch one key more than once.
	ErrDuplicateKey = errors.New("transaction touches a key more than once")
	// ErrEmptyTransaction rejects transactions without operations.
	ErrEmptyTransaction = errors.New("transaction has no operations")
	// ErrInvalidOperation rejects malformed operations.
	ErrInvalidOperation = errors.New("invalid transaction operation")
)

// Key addresses a single record.
type Key string

// Record is a stored item. ExpiresAt is zero for records that never expire.
type Record struct {
	Key        Key
	Attributes map[string]any
	ExpiresAt  time.Time
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Transact(ctx context.Context, tx *Tx) error
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by backends without native per-item expiry.
type Sweeper interface {
	Sweep(ctx context.Context, before time.Time) (int64, error)
}

// Tag names an operation so a failed condition can be attributed without
// relying on the operation's position.
type Tag string

// CanceledError reports a transaction aborted because one or more conditions
// did not hold. Tags are listed in operation order.
type CanceledError struct {
	Tags []Tag
}

func (e *CanceledError) Error() string {
	names := make([]string, 0, len(e.Tags))
	for _, tag := range e.Tags {
		names = append(names, string(tag))
	}
	return fmt.Sprintf("transaction canceled: condition failed for [%s]", strings.Join(names, ", "))
}

// Has reports whether the condition of the tagged operation failed.
func (e *CanceledError) Has(tag Tag) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
