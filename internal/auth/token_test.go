package auth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/cache"
)

// fakeRefresher returns canned results and counts invocations.
type fakeRefresher struct {
	mu     sync.Mutex
	calls  atomic.Int64
	result auth.TokenRefreshResult
	err    error
	delay  time.Duration
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _ *account.Account) (auth.TokenRefreshResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

func oauthAccount(expiresAt time.Time) *account.Account {
	return &account.Account{
		ID:           "acct-1",
		Name:         "work",
		Provider:     account.ProviderAnthropic,
		AccessToken:  "current-token",
		RefreshToken: "current-refresh",
		ExpiresAt:    expiresAt,
	}
}

func newManager(t *testing.T, store account.Store, c cache.Cache) *auth.TokenManager {
	t.Helper()
	m, err := auth.NewTokenManager(auth.TokenManagerOptions{
		Store: store,
		Cache: c,
		Skew:  time.Minute,
	})
	require.NoError(t, err)
	return m
}

func TestTokenManagerRequiresStore(t *testing.T) {
	_, err := auth.NewTokenManager(auth.TokenManagerOptions{})
	require.Error(t, err)
}

func TestAccessTokenFreshTokenSkipsRefresh(t *testing.T) {
	acct := oauthAccount(time.Now().Add(time.Hour))
	store := account.NewMemStore(acct)
	ref := &fakeRefresher{}

	m := newManager(t, store, nil)

	tok, err := m.AccessToken(context.Background(), acct, ref)
	require.NoError(t, err)
	assert.Equal(t, "current-token", tok)
	assert.Zero(t, ref.calls.Load())
}

func TestAccessTokenRefreshesExpiring(t *testing.T) {
	acct := oauthAccount(time.Now().Add(10 * time.Second))
	store := account.NewMemStore(acct)
	ref := &fakeRefresher{result: auth.TokenRefreshResult{
		AccessToken:  "new-token",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().Add(8 * time.Hour),
	}}

	m := newManager(t, store, nil)

	tok, err := m.AccessToken(context.Background(), acct, ref)
	require.NoError(t, err)
	assert.Equal(t, "new-token", tok)
	assert.EqualValues(t, 1, ref.calls.Load())

	// Account copy carries the fresh credentials.
	assert.Equal(t, "new-token", acct.AccessToken)
	assert.Equal(t, "new-refresh", acct.RefreshToken)

	// Store received the writeback.
	stored, err := store.Get(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.AccessToken)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
}

func TestAccessTokenStaticCredentialsNotWrittenBack(t *testing.T) {
	acct := &account.Account{
		ID:       "acct-key",
		Name:     "keyed",
		Provider: account.ProviderAnthropic,
		APIKey:   "sk-ant-xxx",
	}
	store := account.NewMemStore(acct)
	ref := &fakeRefresher{result: auth.TokenRefreshResult{
		AccessToken: "sk-ant-xxx",
		ExpiresAt:   time.Now().Add(365 * 24 * time.Hour),
	}}

	m := newManager(t, store, nil)

	tok, err := m.AccessToken(context.Background(), acct, ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-xxx", tok)

	stored, err := store.Get(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AccessToken, "static credentials must not be written back")

	// Second call serves from the in-process memo.
	tok, err = m.AccessToken(context.Background(), acct, ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-xxx", tok)
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestAccessTokenSerializesConcurrentRefreshes(t *testing.T) {
	acct := oauthAccount(time.Now().Add(-time.Minute))
	store := account.NewMemStore(acct)
	ref := &fakeRefresher{
		delay: 20 * time.Millisecond,
		result: auth.TokenRefreshResult{
			AccessToken:  "new-token",
			RefreshToken: "new-refresh",
			ExpiresAt:    time.Now().Add(8 * time.Hour),
		},
	}

	m := newManager(t, store, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clone := acct.Clone()
			tok, err := m.AccessToken(context.Background(), clone, ref)
			assert.NoError(t, err)
			assert.Equal(t, "new-token", tok)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ref.calls.Load(), "concurrent callers share one refresh")
}

func TestAccessTokenUsesSharedCache(t *testing.T) {
	ctx := context.Background()

	c, err := cache.New(ctx, &cache.Config{Mode: cache.ModeSingle, Ristretto: cache.DefaultRistrettoConfig()})
	require.NoError(t, err)
	defer c.Close()

	acct := oauthAccount(time.Now().Add(-time.Minute))
	store := account.NewMemStore(acct)
	ref := &fakeRefresher{result: auth.TokenRefreshResult{
		AccessToken:  "refreshed",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().Add(8 * time.Hour),
	}}

	m := newManager(t, store, c)

	tok, err := m.AccessToken(ctx, acct, ref)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok)
	assert.EqualValues(t, 1, ref.calls.Load())

	// Ristretto applies writes asynchronously; wait for the shared
	// entry to land before the peer reads it.
	require.Eventually(t, func() bool {
		_, err := c.Get(ctx, auth.TokenCacheKey(acct.ID))
		return err == nil
	}, time.Second, 10*time.Millisecond)

	// A second manager simulates a peer instance sharing the cache. Its
	// store copy is stale, so only the cache can satisfy the lookup
	// without another upstream refresh.
	staleCopy := oauthAccount(time.Now().Add(-time.Minute))
	peerStore := account.NewMemStore(staleCopy)
	peer := newManager(t, peerStore, c)

	tok, err = peer.AccessToken(ctx, staleCopy.Clone(), ref)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok)
	assert.EqualValues(t, 1, ref.calls.Load(), "peer reused the cached token")
}

func TestAccessTokenThrottlesRefreshStorms(t *testing.T) {
	acct := oauthAccount(time.Now().Add(-time.Minute))
	store := account.NewMemStore(acct)

	// Every refresh hands back an already-expired token, so each call
	// wants another refresh until the limiter steps in.
	ref := &fakeRefresher{result: auth.TokenRefreshResult{
		AccessToken:  "stillborn",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(-time.Second),
	}}

	m, err := auth.NewTokenManager(auth.TokenManagerOptions{
		Store:           store,
		Skew:            time.Minute,
		RefreshInterval: time.Hour,
		RefreshBurst:    1,
	})
	require.NoError(t, err)

	_, err = m.AccessToken(context.Background(), acct.Clone(), ref)
	require.NoError(t, err)

	_, err = m.AccessToken(context.Background(), acct.Clone(), ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestAccessTokenPropagatesReauthErrors(t *testing.T) {
	acct := oauthAccount(time.Now().Add(-time.Minute))
	store := account.NewMemStore(acct)
	ref := &fakeRefresher{err: &auth.TokenRefreshError{
		Provider:       account.ProviderAnthropic,
		Account:        "work",
		StatusCode:     401,
		Message:        "invalid_grant",
		ReauthRequired: true,
	}}

	m := newManager(t, store, nil)

	_, err := m.AccessToken(context.Background(), acct, ref)
	require.Error(t, err)
	assert.True(t, auth.IsReauthRequired(err))
}
