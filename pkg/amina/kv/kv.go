// Package kv provides the shared key-value store used for rate-limit
// counters and bot records. The canonical backend is Redis; an in-memory
// implementation with the same interface serves tests and single-instance
// fallback. Eventual consistency is acceptable for every caller.
package kv

import (
	"context"
	"time"
)

// Store is the contract the authorization core needs from a key-value
// cache. A ttl of zero means no expiry.
type Store interface {
	// Get returns the value and whether the key exists. A missing key is
	// not an error; errors mean the store itself is unreachable.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores a value with the given ttl.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments a counter, creating it with the given
	// ttl on first use, and returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
