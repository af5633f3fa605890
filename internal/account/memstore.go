package account

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and by embedders that manage
// accounts elsewhere. All methods are safe for concurrent use; accounts are
// copied on the way in and out so callers never share the stored struct.
type MemStore struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	nameToID map[string]string
}

// NewMemStore creates a MemStore seeded with the given accounts.
func NewMemStore(accounts ...*Account) *MemStore {
	s := &MemStore{
		byID:     make(map[string]*Account, len(accounts)),
		nameToID: make(map[string]string, len(accounts)),
	}
	for _, a := range accounts {
		s.byID[a.ID] = a.Clone()
		s.nameToID[a.Name] = a.ID
	}
	return s
}

// Put inserts or replaces an account.
func (s *MemStore) Put(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[a.ID]; ok {
		delete(s.nameToID, old.Name)
	}
	s.byID[a.ID] = a.Clone()
	s.nameToID[a.Name] = a.ID
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// GetByName implements Store.
func (s *MemStore) GetByName(_ context.Context, name string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nameToID[name]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.Clone())
	}
	return out, nil
}

// UpdateTokens implements Store.
func (s *MemStore) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.mutate(id, func(a *Account) {
		a.AccessToken = accessToken
		if refreshToken != "" {
			a.RefreshToken = refreshToken
		}
		a.ExpiresAt = expiresAt
	})
}

// SetPaused implements Store.
func (s *MemStore) SetPaused(_ context.Context, id string, paused bool) error {
	return s.mutate(id, func(a *Account) { a.Paused = paused })
}

// SetPriority implements Store.
func (s *MemStore) SetPriority(_ context.Context, id string, priority int) error {
	return s.mutate(id, func(a *Account) { a.Priority = priority })
}

// SetRateLimitedUntil implements Store.
func (s *MemStore) SetRateLimitedUntil(_ context.Context, id string, until time.Time) error {
	return s.mutate(id, func(a *Account) { a.RateLimitedUntil = until })
}

// Touch implements Store.
func (s *MemStore) Touch(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(a *Account) {
		a.LastUsed = at
		a.RequestCount++
		a.TotalRequests++
		a.SessionRequestCount++
	})
}

func (s *MemStore) mutate(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	return nil
}

var _ Store = (*MemStore)(nil)
