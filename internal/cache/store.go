package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with per-entry expiry.
type Store interface {
	// Get returns the value and true on a live hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value until ttl elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Close releases the underlying resources.
	Close() error
}
