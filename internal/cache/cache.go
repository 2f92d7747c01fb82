// Package cache provides a byte-value cache with per-key TTLs, used to
// avoid repeat model calls for images the service has already classified.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys. Get returns (nil, nil)
// on a miss so callers can treat an absent value and a disabled cache
// uniformly.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Nop is a disabled cache. Every Get misses and every write succeeds.
type Nop struct{}

var _ Cache = Nop{}

func (Nop) Get(context.Context, string) ([]byte, error)              { return nil, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                     { return nil }
func (Nop) Close() error                                             { return nil }
