package account

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no account matches the lookup.
var ErrNotFound = errors.New("account: not found")

// Store is the persistence seam between the relay core and the enclosing
// application. Implementations must be safe for concurrent use. The core
// writes tokens back only when a refresh produced a non-empty refresh token
// and the values actually changed.
type Store interface {
	// Get returns the account with the given id.
	Get(ctx context.Context, id string) (*Account, error)

	// GetByName returns the account with the given unique name.
	GetByName(ctx context.Context, name string) (*Account, error)

	// List returns all accounts.
	List(ctx context.Context) ([]*Account, error)

	// UpdateTokens persists a refreshed credential set.
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error

	// SetPaused pauses or resumes an account.
	SetPaused(ctx context.Context, id string, paused bool) error

	// SetPriority reorders an account for the host's scheduler.
	SetPriority(ctx context.Context, id string, priority int) error

	// SetRateLimitedUntil records the parsed rate-limit window. A zero
	// time clears it.
	SetRateLimitedUntil(ctx context.Context, id string, until time.Time) error

	// Touch records a served request for usage accounting.
	Touch(ctx context.Context, id string, at time.Time) error
}
