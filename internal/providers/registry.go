package providers

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/tombii/better-ccflare/internal/auth"
)

// Registry maps provider names to adapters. Registration happens at
// startup; request handling only reads, so lookups take the read lock.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Provider
	oauth  map[string]auth.OAuthProvider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Provider),
		oauth:  make(map[string]auth.OAuthProvider),
	}
}

// Register adds a provider under its own name, replacing any previous
// registration. Providers with an OAuth flow get their OAuthProvider
// registered under the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[p.Name()] = p
	if p.SupportsOAuth() {
		r.oauth[p.Name()] = p.OAuthProvider()
	} else {
		delete(r.oauth, p.Name())
	}
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	return p, ok
}

// OAuth returns the OAuth flow registered under name.
func (r *Registry) OAuth(name string) (auth.OAuthProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.oauth[name]
	return o, ok
}

// Names lists the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.byName)
	sort.Strings(names)
	return names
}

// Unregister removes a provider. Intended for tests.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byName, name)
	delete(r.oauth, name)
}

// Clear empties the registry. Intended for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName = make(map[string]Provider)
	r.oauth = make(map[string]auth.OAuthProvider)
}
