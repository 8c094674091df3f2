// Package cache holds the string-keyed byte stores that back the
// discount code read cache.
package cache

import (
	"context"
	"time"
)

// Store is a string-keyed cache of opaque payloads. It offers no cross-key
// atomicity and no compare-and-swap.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Remove(ctx context.Context, key string) (bool, error)
}
