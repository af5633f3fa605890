package di

import (
	"github.com/samber/do/v2"

	"github.com/tombii/better-ccflare/internal/account"
)

// StoreService wraps the account store. The default is the in-memory
// store; embedding applications override this provider with their own
// persistence before invoking anything that depends on it.
type StoreService struct {
	Store account.Store
}

// NewStore provides the default in-memory account store.
func NewStore(_ do.Injector) (*StoreService, error) {
	return &StoreService{Store: account.NewMemStore()}, nil
}
