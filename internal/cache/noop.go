package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// noopCache stores nothing. Reads always miss, writes succeed and
// vanish. Used when caching is disabled: each dispatcher instance then
// refreshes tokens independently.
type noopCache struct {
	log    zerolog.Logger
	closed atomic.Bool
}

var (
	_ Cache         = (*noopCache)(nil)
	_ StatsProvider = (*noopCache)(nil)
)

func newNoopCache() *noopCache {
	log := logger().With().Str("backend", "noop").Logger()
	log.Debug().Msg("caching disabled")
	return &noopCache{log: log}
}

func (c *noopCache) Get(_ context.Context, _ string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return nil, ErrNotFound
}

func (c *noopCache) Set(_ context.Context, _ string, _ []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) SetWithTTL(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Delete(_ context.Context, _ string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *noopCache) Exists(_ context.Context, _ string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	return false, nil
}

func (c *noopCache) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *noopCache) Stats() Stats {
	return Stats{}
}
