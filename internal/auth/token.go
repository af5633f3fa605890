package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/cache"
)

const (
	// defaultRefreshInterval throttles refresh attempts per account.
	defaultRefreshInterval = 30 * time.Second
	defaultRefreshBurst    = 3
)

// cachedToken is the wire form of a token shared through the cache.
type cachedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenManagerOptions configures a TokenManager.
type TokenManagerOptions struct {
	// Store receives token writebacks. Required.
	Store account.Store

	// Cache shares refreshed tokens across dispatcher instances.
	// Optional; nil disables sharing.
	Cache cache.Cache

	// Skew is how far before expiry a token counts as expiring.
	Skew time.Duration

	// RefreshInterval and RefreshBurst bound refresh attempts per
	// account. Zero values take the defaults.
	RefreshInterval time.Duration
	RefreshBurst    int

	Logger zerolog.Logger
}

// TokenManager gates upstream access tokens: it returns the current
// token while it is fresh, and otherwise drives one refresh per account
// at a time, writing results back to the store and the shared cache.
type TokenManager struct {
	store           account.Store
	cache           cache.Cache
	skew            time.Duration
	refreshInterval time.Duration
	refreshBurst    int
	log             zerolog.Logger

	mu      sync.Mutex
	entries map[string]*tokenEntry
}

// tokenEntry serializes refreshes for one account. static memoizes
// results for credentials that are never written back (API keys, cloud
// credential chains), so those providers resolve once per expiry
// instead of once per request.
type tokenEntry struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	static  *cachedToken
}

// NewTokenManager builds a TokenManager.
func NewTokenManager(opts TokenManagerOptions) (*TokenManager, error) {
	if opts.Store == nil {
		return nil, errors.New("auth: token manager requires a store")
	}
	if opts.Skew <= 0 {
		opts.Skew = time.Minute
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = defaultRefreshBurst
	}

	return &TokenManager{
		store:           opts.Store,
		cache:           opts.Cache,
		skew:            opts.Skew,
		refreshInterval: opts.RefreshInterval,
		refreshBurst:    opts.RefreshBurst,
		log:             opts.Logger,
		entries:         make(map[string]*tokenEntry),
	}, nil
}

// AccessToken returns a usable access token for the account, refreshing
// through the provider when the current one is missing or expiring.
// The account's token fields are updated in place so the caller sees
// what was sent upstream.
func (m *TokenManager) AccessToken(ctx context.Context, acct *account.Account, refresher TokenRefresher) (string, error) {
	if !acct.NeedsRefresh(m.skew) {
		return acct.AccessToken, nil
	}

	entry := m.entry(acct.ID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Static credentials resolved earlier in this process.
	if tok := entry.static; tok != nil && !time.Now().Add(m.skew).After(tok.ExpiresAt) {
		applyTokens(acct, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
		return acct.AccessToken, nil
	}

	// Another goroutine may have refreshed while we waited for the
	// lock; the store holds the latest writeback.
	if fresh, err := m.store.Get(ctx, acct.ID); err == nil {
		if !fresh.NeedsRefresh(m.skew) {
			applyTokens(acct, fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresAt)
			return acct.AccessToken, nil
		}
	}

	// A peer instance may have refreshed and shared through the cache.
	if tok, ok := m.lookupShared(ctx, acct.ID); ok {
		applyTokens(acct, tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
		return acct.AccessToken, nil
	}

	if !entry.limiter.Allow() {
		// Inside the skew window the old token is still valid, so a
		// throttled refresh can fall back to it.
		if acct.AccessToken != "" && time.Now().Before(acct.ExpiresAt) {
			m.log.Debug().Str("account", acct.Name).Msg("refresh throttled, using current token")
			return acct.AccessToken, nil
		}
		return "", fmt.Errorf("auth: refresh attempts throttled for account %q", acct.Name)
	}

	result, err := refresher.RefreshToken(ctx, acct)
	if err != nil {
		return "", err
	}

	applyTokens(acct, result.AccessToken, result.RefreshToken, result.ExpiresAt)

	// Static credentials (empty refresh token) are never written back;
	// memoize them locally instead.
	if result.RefreshToken == "" {
		entry.static = &cachedToken{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresAt}
		return result.AccessToken, nil
	}

	if err := m.store.UpdateTokens(ctx, acct.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		m.log.Error().Err(err).Str("account", acct.Name).Msg("token writeback failed")
	}
	m.shareToken(ctx, acct.ID, result)

	return result.AccessToken, nil
}

func (m *TokenManager) entry(id string) *tokenEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &tokenEntry{
			limiter: rate.NewLimiter(rate.Every(m.refreshInterval), m.refreshBurst),
		}
		m.entries[id] = e
	}
	return e
}

func (m *TokenManager) lookupShared(ctx context.Context, id string) (cachedToken, bool) {
	if m.cache == nil {
		return cachedToken{}, false
	}

	data, err := m.cache.Get(ctx, TokenCacheKey(id))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.log.Debug().Err(err).Str("account_id", id).Msg("shared token lookup failed")
		}
		return cachedToken{}, false
	}

	var tok cachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		m.log.Debug().Err(fmt.Errorf("%w: %w", cache.ErrSerializationFailed, err)).
			Str("account_id", id).Msg("shared token decode failed")
		return cachedToken{}, false
	}

	if time.Now().Add(m.skew).After(tok.ExpiresAt) {
		return cachedToken{}, false
	}
	return tok, true
}

func (m *TokenManager) shareToken(ctx context.Context, id string, result TokenRefreshResult) {
	if m.cache == nil {
		return
	}

	ttl := time.Until(result.ExpiresAt)
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(cachedToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
	})
	if err != nil {
		m.log.Debug().Err(err).Str("account_id", id).Msg("shared token encode failed")
		return
	}

	if err := m.cache.SetWithTTL(ctx, TokenCacheKey(id), data, ttl); err != nil && !errors.Is(err, cache.ErrClosed) {
		m.log.Debug().Err(err).Str("account_id", id).Msg("shared token store failed")
	}
}

// Invalidate drops the shared cache entry for an account, forcing the
// next request through a full refresh.
func (m *TokenManager) Invalidate(ctx context.Context, id string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, TokenCacheKey(id)); err != nil && !errors.Is(err, cache.ErrClosed) {
		m.log.Debug().Err(err).Str("account_id", id).Msg("shared token invalidate failed")
	}
}

func applyTokens(acct *account.Account, access, refresh string, expiresAt time.Time) {
	acct.AccessToken = access
	if refresh != "" {
		acct.RefreshToken = refresh
	}
	acct.ExpiresAt = expiresAt
}

// TokenCacheKey is the shared-cache key for an account's token entry.
// Every instance pointed at the same cache must agree on this format.
func TokenCacheKey(id string) string {
	return "token:" + id
}
