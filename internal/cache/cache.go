// Package cache provides the shared state store for better-ccflare.
//
// Dispatcher instances use it to share refreshed OAuth credentials and
// usage snapshots, so a token refreshed by one instance is visible to
// its peers. Three backends hide behind one interface:
//   - Single mode (Ristretto): local in-memory cache for one instance
//   - HA mode (Olric): distributed cache shared by a cluster
//   - Disabled mode (noop): writes vanish, reads always miss
//
// All implementations are safe for concurrent use. Values are opaque
// byte slices; callers own serialization.
//
//	c, err := cache.New(ctx, &cache.Config{Mode: cache.ModeSingle, Ristretto: cache.DefaultRistrettoConfig()})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	err = c.SetWithTTL(ctx, "token:acct-1", blob, 10*time.Minute)
//	data, err := c.Get(ctx, "token:acct-1")
//	if errors.Is(err, cache.ErrNotFound) {
//		// miss
//	}
package cache

import (
	"context"
	"time"
)

// Cache is the store shared by dispatcher instances.
// All implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. Returns ErrNotFound when the key does not
	// exist and ErrClosed after Close.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with no expiration.
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases backend resources. Operations on a closed cache
	// return ErrClosed. Close is idempotent.
	Close() error
}

// Stats describes cache activity for the check command and logs.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeyCount  uint64 `json:"key_count"`
	BytesUsed uint64 `json:"bytes_used"`
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is implemented by backends that can report statistics.
//
//	if sp, ok := c.(cache.StatsProvider); ok {
//		stats := sp.Stats()
//	}
type StatsProvider interface {
	Stats() Stats
}

// Pinger is implemented by backends with a meaningful health check.
// Local backends always report healthy; distributed backends verify
// cluster connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
