package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/account"
)

func TestMode(t *testing.T) {
	max := &account.Account{RefreshToken: "rt"}
	assert.Equal(t, account.AuthModeMax, max.Mode())

	console := &account.Account{APIKey: "sk"}
	assert.Equal(t, account.AuthModeConsole, console.Mode())
}

func TestNeedsRefresh(t *testing.T) {
	skew := time.Minute

	missing := &account.Account{}
	assert.True(t, missing.NeedsRefresh(skew))

	noExpiry := &account.Account{AccessToken: "tok"}
	assert.False(t, noExpiry.NeedsRefresh(skew))

	fresh := &account.Account{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, fresh.NeedsRefresh(skew))

	expiring := &account.Account{AccessToken: "tok", ExpiresAt: time.Now().Add(30 * time.Second)}
	assert.True(t, expiring.NeedsRefresh(skew))
}

func TestRateLimited(t *testing.T) {
	assert.False(t, (&account.Account{}).RateLimited())
	assert.False(t, (&account.Account{RateLimitedUntil: time.Now().Add(-time.Minute)}).RateLimited())
	assert.True(t, (&account.Account{RateLimitedUntil: time.Now().Add(time.Minute)}).RateLimited())
}

func TestMappings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty string", "", nil},
		{"not an object", `["a"]`, nil},
		{"invalid json", `{broken`, nil},
		{"empty object", `{}`, nil},
		{"only empty values", `{"sonnet": ""}`, nil},
		{
			name: "valid with custom key",
			raw:  `{"sonnet": "glm-4.6", "custom": "my-model", "haiku": ""}`,
			want: map[string]string{"sonnet": "glm-4.6", "custom": "my-model"},
		},
		{
			name: "non-string values dropped",
			raw:  `{"sonnet": "glm-4.6", "opus": 42}`,
			want: map[string]string{"sonnet": "glm-4.6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &account.Account{ModelMappings: tt.raw}
			assert.Equal(t, tt.want, a.Mappings())
		})
	}
}

func TestClone(t *testing.T) {
	a := &account.Account{ID: "1", Name: "a", AccessToken: "tok"}
	cp := a.Clone()
	cp.AccessToken = "changed"
	assert.Equal(t, "tok", a.AccessToken)
}

func TestKnownProvider(t *testing.T) {
	assert.True(t, account.KnownProvider(account.ProviderZai))
	assert.True(t, account.KnownProvider(account.ProviderVertexAI))
	assert.False(t, account.KnownProvider("aol"))
}

func TestMemStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemStore(&account.Account{ID: "1", Name: "one"})

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Name)

	// Stored accounts are copies; mutating the result is invisible.
	got.Name = "mutated"
	again, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "one", again.Name)

	byName, err := store.GetByName(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "1", byName.ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, account.ErrNotFound)

	store.Put(&account.Account{ID: "2", Name: "two"})
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemStoreMutations(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemStore(&account.Account{ID: "1", Name: "one"})

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, store.UpdateTokens(ctx, "1", "at", "rt", expiry))
	require.NoError(t, store.SetPaused(ctx, "1", true))
	require.NoError(t, store.SetPriority(ctx, "1", 5))

	until := time.Now().Add(time.Minute)
	require.NoError(t, store.SetRateLimitedUntil(ctx, "1", until))

	now := time.Now()
	require.NoError(t, store.Touch(ctx, "1", now))
	require.NoError(t, store.Touch(ctx, "1", now))

	got, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.True(t, got.Paused)
	assert.Equal(t, 5, got.Priority)
	assert.WithinDuration(t, until, got.RateLimitedUntil, time.Second)
	assert.Equal(t, int64(2), got.RequestCount)
	assert.Equal(t, int64(2), got.TotalRequests)

	// Empty refresh token keeps the stored one.
	require.NoError(t, store.UpdateTokens(ctx, "1", "at2", "", expiry))
	got, err = store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "rt", got.RefreshToken)

	assert.ErrorIs(t, store.Touch(ctx, "missing", now), account.ErrNotFound)
}

func TestMemStorePutReplacesName(t *testing.T) {
	ctx := context.Background()
	store := account.NewMemStore(&account.Account{ID: "1", Name: "old"})
	store.Put(&account.Account{ID: "1", Name: "new"})

	_, err := store.GetByName(ctx, "old")
	assert.ErrorIs(t, err, account.ErrNotFound)

	got, err := store.GetByName(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
}
