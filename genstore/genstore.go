package genstore

import (
	"context"
)

// GenStore abstracts where scene generation counters live.
// Use LocalGenStore (default) for an in-process counter, or RedisGenStore
// when several viewer processes must agree on one generation.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
