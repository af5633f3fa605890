package config

import "sync/atomic"

// Runtime provides atomic access to configuration for hot-reload support.
// In-flight dispatches keep working with the config they read; the next
// dispatch observes the updated one.
type Runtime struct {
	ptr atomic.Pointer[Config]
}

// NewRuntime creates a Runtime holding the initial configuration.
func NewRuntime(initial *Config) *Runtime {
	r := &Runtime{}
	r.ptr.Store(initial)
	return r
}

// Get returns the current configuration. Lock-free; safe for concurrent use.
func (r *Runtime) Get() *Config {
	return r.ptr.Load()
}

// Store swaps in a new configuration atomically. Called by the watcher when
// the config file changes.
func (r *Runtime) Store(cfg *Config) {
	r.ptr.Store(cfg)
}

var _ RuntimeConfig = (*Runtime)(nil)
