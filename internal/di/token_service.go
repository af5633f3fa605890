package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/tombii/better-ccflare/internal/auth"
)

// TokenService wraps the token manager.
type TokenService struct {
	Tokens *auth.TokenManager
}

// NewTokens builds the token manager over the account store and the
// shared cache.
func NewTokens(i do.Injector) (*TokenService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	storeSvc := do.MustInvoke[*StoreService](i)
	cacheSvc := do.MustInvoke[*CacheService](i)

	tm, err := auth.NewTokenManager(auth.TokenManagerOptions{
		Store:  storeSvc.Store,
		Cache:  cacheSvc.Cache,
		Skew:   cfgSvc.Get().RefreshSkew(),
		Logger: logSvc.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	return &TokenService{Tokens: tm}, nil
}
