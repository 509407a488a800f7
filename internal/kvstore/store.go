// Package kvstore defines the shared key-value store contract that every
// other component coordinates through, plus a Redis implementation for real
// deployments and an in-memory one for dev mode and tests.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrEmpty is returned by Pop when no entry arrived within the timeout.
	ErrEmpty = errors.New("kvstore: queue empty")
	// ErrConflict is returned by Update when the optimistic transaction kept
	// losing against concurrent writers.
	ErrConflict = errors.New("kvstore: update conflict")
)

// Store is the single point of coordination for rate windows, cache entries,
// job records and the job queue. Every record carries an explicit expiry.
type Store interface {
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Update atomically applies fn to the current value at key and writes the
	// result back with the given TTL. fn errors abort the write and are
	// returned verbatim; concurrent modification retries internally.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(cur []byte) ([]byte, error)) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists keys matching prefix. Meant for low-volume sweeps, not hot paths.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// RecordAndCount appends now to the timestamp log at key, drops entries
	// older than the window, and returns the remaining count together with
	// the oldest surviving timestamp.
	RecordAndCount(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, oldest time.Time, err error)

	// Push appends value to the tail of the named queue.
	Push(ctx context.Context, queue string, value []byte) error

	// Pop removes and returns the head of the named queue, blocking up to
	// timeout. Returns ErrEmpty when nothing arrived in time.
	Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)

	// Len returns the number of entries waiting in the named queue.
	Len(ctx context.Context, queue string) (int64, error)

	Close() error
}
