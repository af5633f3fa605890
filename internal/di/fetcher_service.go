package di

import (
	"github.com/samber/do/v2"

	"github.com/tombii/better-ccflare/internal/usage"
)

// FetcherService wraps the background usage fetcher.
type FetcherService struct {
	Fetcher *usage.Fetcher
}

// NewFetcher builds the usage fetcher. Polling starts per account via
// StartPolling; the container only owns the shared instance.
func NewFetcher(i do.Injector) (*FetcherService, error) {
	cfgSvc := do.MustInvoke[*ConfigService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	f := usage.NewFetcher(usage.FetcherOptions{
		Interval: cfgSvc.Get().UsagePollingInterval(),
		Logger:   logSvc.Logger,
	})

	return &FetcherService{Fetcher: f}, nil
}

// Shutdown implements do.Shutdowner, stopping all pollers.
func (f *FetcherService) Shutdown() error {
	f.Fetcher.StopAll()
	return nil
}
