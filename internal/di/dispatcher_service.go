package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/tombii/better-ccflare/internal/relay"
	"github.com/tombii/better-ccflare/internal/usage"
)

// DispatcherService wraps the relay dispatcher, the single entry point
// for forwarding a client request through a provider adapter.
type DispatcherService struct {
	Dispatcher *relay.Dispatcher
}

// NewDispatcher assembles the dispatcher from the registry, token
// manager, and account store.
func NewDispatcher(i do.Injector) (*DispatcherService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)
	regSvc := do.MustInvoke[*RegistryService](i)
	tokSvc := do.MustInvoke[*TokenService](i)
	storeSvc := do.MustInvoke[*StoreService](i)

	cfg := cfgSvc.Get()
	d, err := relay.NewDispatcher(relay.DispatcherOptions{
		Registry: regSvc.Registry,
		Tokens:   tokSvc.Tokens,
		Store:    storeSvc.Store,
		Extractor: usage.ExtractorOptions{
			CapBytes:         cfg.StreamUsageCapBytes,
			ReadTimeout:      cfg.StreamReadTimeout(),
			OperationTimeout: cfg.StreamOperationTimeout(),
			Logger:           logSvc.Logger,
		},
		Logger: logSvc.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	return &DispatcherService{Dispatcher: d}, nil
}
