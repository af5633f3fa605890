// Package auth manages upstream credentials for better-ccflare.
//
// It implements the OAuth 2.0 authorization-code flow with PKCE used by
// Anthropic subscription accounts, and a token manager that refreshes
// expiring access tokens, serializes refreshes per account, and shares
// refreshed tokens across dispatcher instances through the cache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tombii/better-ccflare/internal/account"
)

// TokenRefreshResult carries fresh credentials for one account.
// An empty RefreshToken means the credentials are static (API key or
// ambient cloud credentials) and nothing should be written back.
type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// AuthURL is a generated authorization URL plus the PKCE verifier the
// caller must hold on to for the code exchange.
type AuthURL struct {
	URL      string
	Verifier string
}

// OAuthProvider generates authorization URLs and exchanges pasted
// authorization codes for tokens.
type OAuthProvider interface {
	AuthorizeURL(mode account.AuthMode) (AuthURL, error)
	ExchangeCode(ctx context.Context, code, verifier string) (TokenRefreshResult, error)
}

// TokenRefresher refreshes credentials for one account. Providers
// implement this as part of their adapter surface.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, acct *account.Account) (TokenRefreshResult, error)
}

// TokenRefreshError describes a failed token refresh. ReauthRequired
// marks refresh tokens the upstream has revoked; retrying is pointless
// and the account needs a fresh OAuth flow.
type TokenRefreshError struct {
	Provider       string
	Account        string
	StatusCode     int
	Message        string
	ReauthRequired bool
}

func (e *TokenRefreshError) Error() string {
	msg := fmt.Sprintf("auth: token refresh failed for %s account %q: %s", e.Provider, e.Account, e.Message)
	if e.ReauthRequired {
		msg += " (re-authentication required)"
	}
	return msg
}

// IsReauthRequired reports whether err carries a refresh failure that
// demands a new OAuth flow.
func IsReauthRequired(err error) bool {
	var tre *TokenRefreshError
	return errors.As(err, &tre) && tre.ReauthRequired
}
