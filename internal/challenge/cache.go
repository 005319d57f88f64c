// ABOUTME: Cache abstraction for short-lived single-use keys
// ABOUTME: Implemented in memory and on Redis; Take is the atomic check-and-delete

package challenge

import (
	"context"
	"time"
)

// Cache stores presence-only keys with a per-key time-to-live.
type Cache interface {
	// Set stores key until ttl elapses. Setting an existing key refreshes it.
	Set(ctx context.Context, key string, ttl time.Duration) error
	// Get reports whether key is present and unexpired.
	Get(ctx context.Context, key string) (bool, error)
	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
	// Take atomically removes key and reports whether it was present and
	// unexpired. Concurrent Takes of one key succeed at most once.
	Take(ctx context.Context, key string) (bool, error)
	// Close releases background resources.
	Close() error
}
