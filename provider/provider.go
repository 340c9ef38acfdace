// Package provider defines the session store the save manager writes to.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// The keyspaces "tmp:" and "ses:" are owned by the save manager. Foreign values
// under these prefixes fail record validation and are deleted on read.
//
// Nothing here persists to disk: stores are in-process (bigcache, ristretto)
// or owned by a server whose lifetime bounds the session (redis).
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry). May ignore
	// cost if unsupported. Returns ok=false when the store rejected the write
	// under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Lister is implemented by providers that can enumerate their keys. The save
// manager uses it for exports; without it, only keys written through the
// same manager are exported.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
