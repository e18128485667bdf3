// Package store provides the shared counter store used for rate limiting,
// idempotency locks and account restrictions.
package store

import (
	"context"
	"time"
)

// Store is the full contract of the shared counter store.
type Store interface {
	// IncrementWithTTL atomically increments key, setting ttl when the key is created.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetIfAbsent stores value only when key does not exist. It reports whether it stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// CompareAndDelete deletes key only when it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
