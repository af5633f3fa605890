package usage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/ro"
	roratelimit "github.com/samber/ro/plugins/ratelimit/native"
	"github.com/sony/gobreaker/v2"

	"github.com/tombii/better-ccflare/internal/account"
)

// Usage endpoints per provider family. NanoGPT's is relative to the
// account's configured endpoint.
const (
	anthropicUsageURL  = "https://api.anthropic.com/api/oauth/usage"
	anthropicUsageBeta = "oauth-2025-04-20"
	nanogptUsagePath   = "/subscription/v1/usage"
	zaiUsageURL        = "https://api.z.ai/api/monitor/usage/quota/limit"
)

// Fetcher defaults.
const (
	DefaultPollInterval = 90 * time.Second
	DefaultPollJitter   = 5 * time.Second
	DefaultCacheTTL     = 10 * time.Minute

	// sweepEvery triggers a proactive expired-entry sweep after this many
	// cache writes.
	sweepEvery = 100

	// pollBurstLimit caps fetches per account per minute, covering both
	// scheduled ticks and forced refreshes.
	pollBurstLimit = 10

	maxUsageResponseBytes = 1 << 20
)

// ErrNotPolling is returned by RefreshNow for unknown account ids.
var ErrNotPolling = errors.New("usage: account is not being polled")

// TokenProvider returns a fresh credential for each poll. For API-key
// providers it is constant; for OAuth accounts it should route through the
// token manager so polls never run on an expired token.
type TokenProvider func(ctx context.Context) (string, error)

// Target describes one account to poll.
type Target struct {
	AccountID string
	Name      string

	// Provider selects the endpoint branch: anthropic, nanogpt, or zai.
	// Other tags are rejected by StartPolling.
	Provider string

	// Endpoint overrides the NanoGPT base URL. Ignored elsewhere.
	Endpoint string

	Token TokenProvider
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Interval   time.Duration
	Jitter     time.Duration
	TTL        time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Fetcher polls provider usage endpoints on a per-account timer and caches
// the latest snapshot. Polling failures only age the cache; they never
// surface on the request path.
type Fetcher struct {
	interval time.Duration
	jitter   time.Duration
	ttl      time.Duration
	client   *http.Client
	log      zerolog.Logger

	anthropicURL string
	zaiURL       string

	mu       sync.Mutex
	pollers  map[string]*poller
	data     map[string]Data
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	writes   int
}

type poller struct {
	target Target
	cancel context.CancelFunc
	force  chan chan error
}

// NewFetcher builds a Fetcher. Zero options take the defaults.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Jitter <= 0 {
		opts.Jitter = DefaultPollJitter
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Fetcher{
		anthropicURL: anthropicUsageURL,
		zaiURL:       zaiUsageURL,

		interval: opts.Interval,
		jitter:   opts.Jitter,
		ttl:      opts.TTL,
		client:   opts.HTTPClient,
		log:      opts.Logger,
		pollers:  make(map[string]*poller),
		data:     make(map[string]Data),
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

// StartPolling begins polling for the target, replacing any existing poller
// for the same account id.
func (f *Fetcher) StartPolling(target Target) error {
	switch target.Provider {
	case account.ProviderAnthropic, account.ProviderNanoGPT, account.ProviderZai:
	default:
		return fmt.Errorf("usage: provider %q has no usage endpoint", target.Provider)
	}
	if target.Token == nil {
		return errors.New("usage: target needs a token provider")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		target: target,
		cancel: cancel,
		force:  make(chan chan error),
	}

	f.mu.Lock()
	if old, ok := f.pollers[target.AccountID]; ok {
		old.cancel()
	}
	f.pollers[target.AccountID] = p
	f.mu.Unlock()

	go f.run(ctx, p)
	return nil
}

// StopPolling cancels the account's poller and drops its cache entry.
func (f *Fetcher) StopPolling(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.pollers[id]; ok {
		p.cancel()
		delete(f.pollers, id)
	}
	delete(f.data, id)
	delete(f.breakers, id)
}

// StopAll tears down every poller and clears the cache.
func (f *Fetcher) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, p := range f.pollers {
		p.cancel()
		delete(f.pollers, id)
	}
	f.data = make(map[string]Data)
	f.breakers = make(map[string]*gobreaker.CircuitBreaker[[]byte])
}

// RefreshNow forces an immediate fetch for the account and waits for it.
func (f *Fetcher) RefreshNow(ctx context.Context, id string) error {
	f.mu.Lock()
	p, ok := f.pollers[id]
	f.mu.Unlock()
	if !ok {
		return ErrNotPolling
	}

	done := make(chan error, 1)
	select {
	case p.force <- done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the cached snapshot for the account. Expired entries are
// evicted on read.
func (f *Fetcher) Get(id string) (Data, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.data[id]
	if !ok {
		return Data{}, false
	}
	if time.Since(d.FetchedAt) > f.ttl {
		delete(f.data, id)
		return Data{}, false
	}
	return d, true
}

// run drives one account's poll loop. Ticks (scheduled plus forced) flow
// through a per-account rate limiter so a refresh storm cannot hammer the
// upstream usage endpoint; the subscription ends when the poller context is
// cancelled.
func (f *Fetcher) run(ctx context.Context, p *poller) {
	ticks := ro.NewObservable(func(obs ro.Observer[chan error]) ro.Teardown {
		// First fetch immediately so the cache is warm.
		obs.Next(nil)

		timer := time.NewTimer(f.nextInterval())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				obs.Complete()
				return nil
			case <-timer.C:
				obs.Next(nil)
				timer.Reset(f.nextInterval())
			case done := <-p.force:
				obs.Next(done)
			}
		}
	})

	limited := ro.Pipe1(ticks, roratelimit.NewRateLimiter[chan error](
		pollBurstLimit, time.Minute,
		func(chan error) string { return p.target.AccountID },
	))

	limited.Subscribe(ro.NewObserver(
		func(done chan error) {
			err := f.pollOnce(ctx, p.target)
			if done != nil {
				done <- err
			}
		},
		func(error) {},
		func() {},
	))
}

// nextInterval jitters the base interval so a fleet of pollers spreads out.
func (f *Fetcher) nextInterval() time.Duration {
	spread := time.Duration(rand.Int63n(int64(2*f.jitter))) - f.jitter
	return f.interval + spread
}

func (f *Fetcher) pollOnce(ctx context.Context, target Target) error {
	runID := uuid.NewString()
	log := f.log.With().
		Str("account", target.Name).
		Str("provider", target.Provider).
		Str("poll_id", runID).
		Logger()

	body, err := f.breaker(target.AccountID).Execute(func() ([]byte, error) {
		return f.fetch(ctx, target)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Debug().Msg("usage poll skipped, breaker open")
		} else {
			log.Warn().Err(err).Msg("usage poll failed")
		}
		return err
	}

	f.store(Data{
		AccountID: target.AccountID,
		Provider:  target.Provider,
		Raw:       body,
		FetchedAt: time.Now(),
	})
	log.Debug().Int("bytes", len(body)).Msg("usage snapshot refreshed")
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, target Target) ([]byte, error) {
	token, err := target.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("usage: token for account %q: %w", target.Name, err)
	}

	req, err := f.usageRequest(ctx, target, token)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage: fetch for account %q: %w", target.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUsageResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("usage: read response for account %q: %w", target.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("usage: endpoint returned %d for account %q", resp.StatusCode, target.Name)
	}
	return body, nil
}

func (f *Fetcher) usageRequest(ctx context.Context, target Target, token string) (*http.Request, error) {
	var u string
	switch target.Provider {
	case account.ProviderAnthropic:
		u = f.anthropicURL
	case account.ProviderNanoGPT:
		endpoint := target.Endpoint
		if endpoint == "" {
			return nil, fmt.Errorf("usage: nanogpt account %q has no endpoint", target.Name)
		}
		u = endpoint + nanogptUsagePath
	case account.ProviderZai:
		u = f.zaiURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("usage: build request: %w", err)
	}

	if target.Provider == account.ProviderAnthropic {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("anthropic-beta", anthropicUsageBeta)
	} else {
		req.Header.Set("x-api-key", token)
	}
	return req, nil
}

func (f *Fetcher) store(d Data) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// A StopPolling racing this write must win, or the entry would
	// outlive its poller.
	if _, ok := f.pollers[d.AccountID]; !ok {
		return
	}

	f.data[d.AccountID] = d
	f.writes++
	if f.writes%sweepEvery == 0 {
		now := time.Now()
		for id, entry := range f.data {
			if now.Sub(entry.FetchedAt) > f.ttl {
				delete(f.data, id)
			}
		}
	}
}

func (f *Fetcher) breaker(id string) *gobreaker.CircuitBreaker[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[id]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "usage:" + id,
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
		f.breakers[id] = cb
	}
	return cb
}
