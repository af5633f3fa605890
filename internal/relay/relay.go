package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/auth"
	"github.com/tombii/better-ccflare/internal/logging"
	"github.com/tombii/better-ccflare/internal/providers"
	"github.com/tombii/better-ccflare/internal/usage"
)

// Request is one client request the dispatcher should relay.
type Request struct {
	// Method defaults to POST when empty.
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte

	// Account supplies credentials and provider selection. The dispatcher
	// mutates its transient fields; hand in a Clone when sharing.
	Account *account.Account
}

// Result is the outcome of one dispatch.
type Result struct {
	// Response is always non-nil: the translated upstream response, or an
	// Anthropic-shaped error envelope when dispatch failed.
	Response *http.Response

	// RateLimit carries the provider's parsed rate-limit signals.
	RateLimit providers.RateLimitInfo

	// Usage delivers at most one usage record once extraction finishes,
	// then closes. Extraction is bounded and never delays Response.
	Usage <-chan usage.Info

	// RequestID tags the dispatch in logs.
	RequestID string
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Registry resolves provider adapters. Required.
	Registry *providers.Registry

	// Tokens gates credential refresh. Required.
	Tokens *auth.TokenManager

	// Store receives rate-limit and usage-accounting writebacks.
	// Optional; nil disables writeback.
	Store account.Store

	// Client overrides the upstream HTTP client.
	Client *http.Client

	Extractor usage.ExtractorOptions
	Logger    zerolog.Logger
}

// Dispatcher relays requests to upstream providers in a fixed operation
// order: resolve, refresh, transform, build, exchange, process, parse rate
// limit, extract usage.
type Dispatcher struct {
	registry  *providers.Registry
	tokens    *auth.TokenManager
	store     account.Store
	client    *http.Client
	extractor usage.ExtractorOptions
	log       zerolog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("relay: dispatcher requires a provider registry")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("relay: dispatcher requires a token manager")
	}

	client := opts.Client
	if client == nil {
		client = defaultClient()
	}

	return &Dispatcher{
		registry:  opts.Registry,
		tokens:    opts.Tokens,
		store:     opts.Store,
		client:    client,
		extractor: opts.Extractor,
		log:       opts.Logger,
	}, nil
}

// defaultClient tunes the upstream transport for long-lived streaming
// responses over HTTP/2.
func defaultClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	// Streaming bodies rule out a client-level timeout; per-request
	// contexts bound the exchange instead.
	_ = http2.ConfigureTransport(transport)
	return &http.Client{Transport: transport}
}

// Dispatch relays one request. The returned Result always carries a
// response; err is non-nil when that response is a locally produced error
// envelope rather than an upstream answer.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	acct := req.Account

	log := d.log.With().
		Str("request_id", requestID).
		Str("account", acct.Name).
		Str("provider", acct.Provider).
		Logger()
	ctx = log.WithContext(ctx)

	resp, rateLimit, err := d.dispatch(ctx, req, log)
	if err != nil {
		log.Error().Err(err).Str("path", req.Path).Msg("dispatch failed")
		return &Result{
			Response:  responseForError(err),
			RequestID: requestID,
			Usage:     closedUsage(),
		}, err
	}

	d.writeback(ctx, acct, rateLimit, log)

	usageCh := d.spawnUsageExtraction(acct, resp, log)
	return &Result{
		Response:  resp,
		RateLimit: rateLimit,
		Usage:     usageCh,
		RequestID: requestID,
	}, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request, log zerolog.Logger) (*http.Response, providers.RateLimitInfo, error) {
	var none providers.RateLimitInfo
	acct := req.Account

	provider, ok := d.registry.Get(acct.Provider)
	if !ok {
		return nil, none, fmt.Errorf("relay: no provider registered for %q", acct.Provider)
	}
	if !provider.CanHandle(req.Path) {
		return nil, none, fmt.Errorf("relay: provider %s cannot serve %s", provider.Name(), req.Path)
	}

	accessToken, err := d.tokens.AccessToken(ctx, acct, provider)
	if err != nil {
		return nil, none, err
	}

	body, err := provider.TransformRequestBody(ctx, req.Body, acct)
	if err != nil {
		return nil, none, err
	}

	resp, err := d.exchange(ctx, provider, req, body, accessToken)
	if err != nil {
		return nil, none, err
	}

	resp, err = provider.ProcessResponse(ctx, resp, acct)
	if err != nil {
		return nil, none, err
	}

	rateLimit := provider.ParseRateLimit(resp)
	if rateLimit.Limited {
		log.Warn().Time("reset_at", rateLimit.ResetAt).Str("status", rateLimit.StatusHeader).
			Msg("account rate limited upstream")
	}
	return resp, rateLimit, nil
}

// exchange round-trips the request: providers that own their transport
// (Bedrock) are called directly, everything else goes over HTTP.
func (d *Dispatcher) exchange(ctx context.Context, provider providers.Provider, req *Request, body []byte, accessToken string) (*http.Response, error) {
	acct := req.Account

	if ex, ok := provider.(providers.Exchanger); ok {
		return ex.Exchange(ctx, body, acct)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	url := provider.BuildURL(req.Path, req.Query, acct)
	if url == "" {
		return nil, fmt.Errorf("relay: provider %s produced no url for %s", provider.Name(), req.Path)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: build upstream request: %w", err)
	}
	httpReq.Header = provider.PrepareHeaders(req.Header, accessToken, acct.APIKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay: upstream exchange: %w", err)
	}
	return resp, nil
}

// writeback records rate-limit state and usage accounting on the store.
func (d *Dispatcher) writeback(ctx context.Context, acct *account.Account, rateLimit providers.RateLimitInfo, log zerolog.Logger) {
	if d.store == nil {
		return
	}

	if rateLimit.Limited {
		until := rateLimit.ResetAt
		if until.IsZero() {
			until = time.Now().Add(time.Minute)
		}
		if err := d.store.SetRateLimitedUntil(ctx, acct.ID, until); err != nil {
			log.Warn().Err(err).Msg("rate-limit writeback failed")
		}
	}

	if err := d.store.Touch(ctx, acct.ID, time.Now()); err != nil {
		log.Warn().Err(err).Msg("usage-accounting touch failed")
	}
}

// spawnUsageExtraction tees the response body and runs the provider's
// bounded usage extraction on the side copy. The client stream is never
// blocked by the extractor.
func (d *Dispatcher) spawnUsageExtraction(acct *account.Account, resp *http.Response, log zerolog.Logger) <-chan usage.Info {
	provider, ok := d.registry.Get(acct.Provider)
	if !ok || resp.Body == nil {
		return closedUsage()
	}

	capBytes := d.extractor.CapBytes
	if capBytes <= 0 {
		capBytes = usage.DefaultCapBytes
	}

	client, side := boundedTee(resp.Body, capBytes)
	resp.Body = client

	sideResp := &http.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       side,
	}

	out := make(chan usage.Info, 1)
	go func() {
		defer close(out)
		defer side.Close()

		// The request context ends when the client response is done;
		// extraction has its own operation timeout.
		if info, found := provider.ExtractUsageInfo(context.Background(), sideResp).Get(); found {
			out <- info
		} else {
			log.Debug().Msg("no usage extracted")
		}
	}()
	return out
}

func closedUsage() <-chan usage.Info {
	ch := make(chan usage.Info)
	close(ch)
	return ch
}

// Drain consumes a response body fully and closes it; callers use it for
// responses they do not stream to a client.
func Drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
