package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tombii/better-ccflare/internal/account"
)

// Anthropic OAuth endpoints. Authorization happens on console.anthropic.com
// (console accounts) or claude.ai (max subscriptions); the token endpoint is
// shared.
const (
	consoleAuthorizeBase = "https://console.anthropic.com"
	maxAuthorizeBase     = "https://claude.ai"

	// DefaultTokenURL exchanges authorization codes and refresh tokens.
	DefaultTokenURL = "https://console.anthropic.com/v1/oauth/token"

	// RedirectURI is Anthropic's hosted callback page. It displays the
	// authorization code for the user to paste back.
	RedirectURI = "https://console.anthropic.com/oauth/code/callback"

	// Scopes requested during authorization.
	Scopes = "org:create_api_key user:profile user:inference"
)

// Refresh tokens rejected with these markers are revoked; a new OAuth
// flow is the only way forward.
var reauthMarkers = []string{
	"OAuth authentication is currently not supported",
	"invalid_grant",
	"invalid_refresh_token",
}

const maxTokenResponseBytes = 1 << 20

// AnthropicOAuth implements the Anthropic authorization-code flow with
// PKCE, plus the refresh-token grant used on expiring accounts.
type AnthropicOAuth struct {
	clientID string
	tokenURL string
	client   *http.Client
	log      zerolog.Logger
}

var _ OAuthProvider = (*AnthropicOAuth)(nil)

// AnthropicOAuthOption adjusts an AnthropicOAuth.
type AnthropicOAuthOption func(*AnthropicOAuth)

// WithHTTPClient swaps the HTTP client used for token requests.
func WithHTTPClient(c *http.Client) AnthropicOAuthOption {
	return func(o *AnthropicOAuth) { o.client = c }
}

// WithTokenURL points token requests at an alternate endpoint.
func WithTokenURL(u string) AnthropicOAuthOption {
	return func(o *AnthropicOAuth) { o.tokenURL = u }
}

// WithLogger sets the logger for OAuth operations.
func WithLogger(log zerolog.Logger) AnthropicOAuthOption {
	return func(o *AnthropicOAuth) { o.log = log }
}

// NewAnthropicOAuth builds the OAuth client for the given client ID.
func NewAnthropicOAuth(clientID string, opts ...AnthropicOAuthOption) *AnthropicOAuth {
	o := &AnthropicOAuth{
		clientID: clientID,
		tokenURL: DefaultTokenURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AuthorizeURL generates a fresh PKCE pair and the authorization URL
// for the given mode. Console accounts authorize on console.anthropic.com
// directly; max subscriptions go through the claude.ai login page with a
// returnTo redirect. The OAuth state parameter carries the verifier so
// the callback page can echo it back alongside the code.
func (o *AnthropicOAuth) AuthorizeURL(mode account.AuthMode) (AuthURL, error) {
	codes, err := GeneratePKCE()
	if err != nil {
		return AuthURL{}, err
	}

	params := url.Values{}
	params.Set("code", "true")
	params.Set("client_id", o.clientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", RedirectURI)
	params.Set("scope", Scopes)
	params.Set("code_challenge", codes.Challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("state", codes.Verifier)

	authPath := "/oauth/authorize?" + params.Encode()

	u := consoleAuthorizeBase + authPath
	if mode == account.AuthModeMax {
		u = maxAuthorizeBase + "/login?selectAccount=true&returnTo=" + url.QueryEscape(authPath)
	}

	return AuthURL{URL: u, Verifier: codes.Verifier}, nil
}

// ExchangeCode trades a pasted authorization code for tokens. The
// callback page appends the state after a "#", so the raw input splits
// into code and state; input without a "#" sends no state field at all.
func (o *AnthropicOAuth) ExchangeCode(ctx context.Context, raw, verifier string) (TokenRefreshResult, error) {
	code, state, hasState := strings.Cut(raw, "#")

	payload := map[string]any{
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  RedirectURI,
		"client_id":     o.clientID,
		"code_verifier": verifier,
	}
	if hasState {
		payload["state"] = state
	}

	status, body, err := o.postToken(ctx, payload)
	if err != nil {
		return TokenRefreshResult{}, err
	}
	if status < 200 || status >= 300 {
		return TokenRefreshResult{}, fmt.Errorf("auth: code exchange failed: %s", oauthErrorMessage(status, body))
	}

	res, err := parseTokenResponse(body, "")
	if err != nil {
		return TokenRefreshResult{}, err
	}

	o.log.Info().Time("expires_at", res.ExpiresAt).Msg("oauth code exchanged")
	return res, nil
}

// RefreshGrant exchanges a refresh token for a new access token.
// Revoked refresh tokens come back as a TokenRefreshError with
// ReauthRequired set. When the response omits a refresh token, the old
// one is carried forward.
func (o *AnthropicOAuth) RefreshGrant(ctx context.Context, accountName, refreshToken string) (TokenRefreshResult, error) {
	payload := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     o.clientID,
	}

	status, body, err := o.postToken(ctx, payload)
	if err != nil {
		return TokenRefreshResult{}, err
	}
	if status < 200 || status >= 300 {
		return TokenRefreshResult{}, &TokenRefreshError{
			Provider:       account.ProviderAnthropic,
			Account:        accountName,
			StatusCode:     status,
			Message:        oauthErrorMessage(status, body),
			ReauthRequired: refreshRejected(status, body),
		}
	}

	res, err := parseTokenResponse(body, refreshToken)
	if err != nil {
		return TokenRefreshResult{}, err
	}

	o.log.Debug().Str("account", accountName).Time("expires_at", res.ExpiresAt).Msg("oauth token refreshed")
	return res, nil
}

func (o *AnthropicOAuth) postToken(ctx context.Context, payload map[string]any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("auth: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("auth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("auth: token request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("auth: read token response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// parseTokenResponse decodes a successful token grant. fallbackRefresh
// fills in when the grant response omits refresh_token.
func parseTokenResponse(body []byte, fallbackRefresh string) (TokenRefreshResult, error) {
	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return TokenRefreshResult{}, fmt.Errorf("auth: parse token response: %w", err)
	}

	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	return TokenRefreshResult{
		AccessToken:  tr.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// oauthErrorMessage extracts a human-readable failure reason, preferring
// error_description, then error, then the HTTP status text.
func oauthErrorMessage(status int, body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.ErrorDescription != "" {
			return e.ErrorDescription
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return http.StatusText(status)
}

func refreshRejected(status int, body []byte) bool {
	if status != http.StatusUnauthorized {
		return false
	}
	text := string(body)
	for _, marker := range reauthMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
