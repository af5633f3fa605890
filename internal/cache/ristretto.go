package cache

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// ristrettoCache is the local in-memory backend. Entry cost equals the
// byte length of the value, so MaxCost bounds total cached bytes.
type ristrettoCache struct {
	cache  *ristretto.Cache[string, []byte]
	log    zerolog.Logger
	mu     sync.RWMutex
	closed atomic.Bool
}

var (
	_ Cache         = (*ristrettoCache)(nil)
	_ StatsProvider = (*ristrettoCache)(nil)
)

func newRistrettoCache(cfg RistrettoConfig) (*ristrettoCache, error) {
	log := logger().With().Str("backend", "ristretto").Logger()

	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: bufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("num_counters", cfg.NumCounters).
		Int64("max_cost", cfg.MaxCost).
		Msg("ristretto cache created")

	return &ristrettoCache{cache: c, log: log}, nil
}

// acquire takes the read lock after verifying the cache is open, and
// rechecks under the lock so a concurrent Close cannot race a write to
// the freed backend. The caller must invoke the returned release func.
func (r *ristrettoCache) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}
	r.mu.RLock()
	if r.closed.Load() {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	return r.mu.RUnlock, nil
}

func (r *ristrettoCache) Get(ctx context.Context, key string) ([]byte, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	value, found := r.cache.Get(key)
	if !found {
		r.log.Debug().Str("key", key).Bool("hit", false).Msg("cache get")
		return nil, ErrNotFound
	}
	r.log.Debug().Str("key", key).Bool("hit", true).Int("size", len(value)).Msg("cache get")

	// Copy so callers cannot mutate the cached slice.
	return bytes.Clone(value), nil
}

func (r *ristrettoCache) Set(ctx context.Context, key string, value []byte) error {
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	r.cache.Set(key, bytes.Clone(value), int64(len(value)))
	r.log.Debug().Str("key", key).Int("size", len(value)).Msg("cache set")
	return nil
}

func (r *ristrettoCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	r.cache.SetWithTTL(key, bytes.Clone(value), int64(len(value)), ttl)
	r.log.Debug().Str("key", key).Int("size", len(value)).Dur("ttl", ttl).Msg("cache set")
	return nil
}

func (r *ristrettoCache) Delete(ctx context.Context, key string) error {
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	r.cache.Del(key)
	r.log.Debug().Str("key", key).Msg("cache delete")
	return nil
}

func (r *ristrettoCache) Exists(ctx context.Context, key string) (bool, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	_, found := r.cache.Get(key)
	return found, nil
}

func (r *ristrettoCache) Close() error {
	if r.closed.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return nil
	}
	r.closed.Store(true)

	// Flush pending writes before freeing the backend.
	r.cache.Wait()
	r.cache.Close()

	r.log.Info().Msg("ristretto cache closed")
	return nil
}

func (r *ristrettoCache) Stats() Stats {
	release, err := r.acquire(context.Background())
	if err != nil {
		return Stats{}
	}
	defer release()

	m := r.cache.Metrics
	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeyCount:  m.KeysAdded() - m.KeysEvicted(),
		BytesUsed: m.CostAdded() - m.CostEvicted(),
		Evictions: m.KeysEvicted(),
	}
}

// wait blocks until buffered writes are visible. Tests use this to
// observe Set results deterministically.
func (r *ristrettoCache) wait() {
	r.cache.Wait()
}
