package bedrock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"

	"github.com/tombii/better-ccflare/internal/account"
	"github.com/tombii/better-ccflare/internal/sse"
)

// Runtime is the slice of the Bedrock Runtime client the service invokes;
// satisfied by *bedrockruntime.Client and by test fakes.
type Runtime interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// RuntimeFactory builds a runtime client for a target.
type RuntimeFactory func(ctx context.Context, target Target) (Runtime, error)

// DefaultRuntimeFactory resolves the target's credential chain and builds a
// real Bedrock Runtime client.
func DefaultRuntimeFactory(ctx context.Context, target Target) (Runtime, error) {
	cfg, err := LoadAWSConfig(ctx, target)
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// DefaultModelListerFactory builds a real control-plane client for the
// model cache. The profile cache shares the same client shape.
func DefaultModelListerFactory(ctx context.Context, region string) (ModelLister, error) {
	cfg, err := LoadAWSConfig(ctx, Target{Region: region})
	if err != nil {
		return nil, err
	}
	return awsbedrock.NewFromConfig(cfg), nil
}

// DefaultProfileListerFactory builds a real control-plane client for the
// inference-profile cache.
func DefaultProfileListerFactory(ctx context.Context, region string) (ProfileLister, error) {
	cfg, err := LoadAWSConfig(ctx, Target{Region: region})
	if err != nil {
		return nil, err
	}
	return awsbedrock.NewFromConfig(cfg), nil
}

// Service executes Anthropic Messages requests against Bedrock Converse.
// It owns per-target runtime clients and the two catalog caches.
type Service struct {
	factory  RuntimeFactory
	models   *ModelCache
	profiles *ProfileCache
	log      zerolog.Logger

	mu       sync.Mutex
	runtimes map[string]Runtime
}

// ServiceOptions configures the service; zero values select the real SDK
// factories and the default TTL.
type ServiceOptions struct {
	Runtime         RuntimeFactory
	Models          ModelListerFactory
	Profiles        ProfileListerFactory
	ModelCacheTTL   time.Duration
	ProfileCacheTTL time.Duration
	Logger          zerolog.Logger
}

// NewService builds the Bedrock execution service.
func NewService(opts ServiceOptions) *Service {
	runtime := opts.Runtime
	if runtime == nil {
		runtime = DefaultRuntimeFactory
	}
	models := opts.Models
	if models == nil {
		models = DefaultModelListerFactory
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = DefaultProfileListerFactory
	}

	return &Service{
		factory:  runtime,
		models:   NewModelCache(models, opts.ModelCacheTTL, opts.Logger),
		profiles: NewProfileCache(profiles, opts.ProfileCacheTTL, opts.Logger),
		log:      opts.Logger,
		runtimes: make(map[string]Runtime),
	}
}

// Execute runs one request: parse, resolve the model, apply the
// cross-region profile prefix, invoke Converse or ConverseStream, and wrap
// the result as an HTTP response in Anthropic shape. SDK failures come back
// as *TranslatedError.
func (s *Service) Execute(ctx context.Context, body []byte, acct *account.Account) (*http.Response, error) {
	target, err := ParseTarget(acct.CustomEndpoint)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest(body, s.log)
	if err != nil {
		return nil, err
	}

	clientModel := req.ModelID
	resolved := s.resolveModel(ctx, target.Region, clientModel, acct)
	req.ModelID = s.applyCrossRegion(ctx, target.Region, resolved, acct.CrossRegionMode)
	acct.ClientModel = clientModel
	acct.ResolvedModel = req.ModelID

	runtime, err := s.runtime(ctx, target)
	if err != nil {
		return nil, err
	}

	if req.Streaming {
		resp, err := s.executeStream(ctx, runtime, req, clientModel, target.Region)
		if err == nil || !IsStreamingUnsupported(err) {
			return resp, err
		}
		s.log.Warn().Str("model", req.ModelID).
			Msg("model rejected streaming, retrying non-streaming")
	}

	out, err := runtime.Converse(ctx, req.Input())
	if err != nil {
		return nil, s.translate(ctx, err, target.Region, clientModel)
	}

	respBody, _, err := TranslateResponse(out, clientModel)
	if err != nil {
		return nil, err
	}
	return jsonResponse(respBody), nil
}

func (s *Service) executeStream(ctx context.Context, runtime Runtime, req *ConverseRequest, clientModel, region string) (*http.Response, error) {
	out, err := runtime.ConverseStream(ctx, req.StreamInput())
	if err != nil {
		if IsStreamingUnsupported(err) {
			return nil, err
		}
		return nil, s.translate(ctx, err, region, clientModel)
	}

	stream := out.GetStream()
	if stream == nil {
		return nil, fmt.Errorf("bedrock: converse stream output has no event stream")
	}

	header := http.Header{}
	header.Set("Content-Type", sse.ContentType)
	header.Set("Cache-Control", "no-cache")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        http.StatusText(http.StatusOK),
		Header:        header,
		Body:          ForwardStream(stream, clientModel, s.log),
		ContentLength: -1,
	}, nil
}

// resolveModel picks the Bedrock model id: an explicit "custom" mapping
// wins, then the catalog fuzzy match, then the client name unchanged.
func (s *Service) resolveModel(ctx context.Context, region, clientModel string, acct *account.Account) string {
	if custom, ok := acct.Mappings()["custom"]; ok {
		return custom
	}
	if m, ok := s.models.Resolve(ctx, region, clientModel); ok {
		return m.ID
	}
	return clientModel
}

// applyCrossRegion prefixes (or strips) the inference-profile scope. When
// the profile cache reports the wanted flavor unsupported, the fallback
// order is global, then geographic, then bare regional id.
func (s *Service) applyCrossRegion(ctx context.Context, region, modelID string, mode account.CrossRegionMode) string {
	bare := stripGeoPrefix(modelID)

	var want string
	switch mode {
	case account.CrossRegionGlobal:
		want = "global"
	case account.CrossRegionRegional:
		return bare
	default:
		want = GeoPrefix(region)
	}

	for _, prefix := range crossRegionCandidates(want, region) {
		if prefix == "" {
			return bare
		}
		if s.supportsPrefix(ctx, region, modelID, prefix) {
			return prefix + "." + bare
		}
	}
	return bare
}

// crossRegionCandidates orders the prefixes to try: the wanted one, then
// global, then the geographic prefix, then none.
func crossRegionCandidates(want, region string) []string {
	candidates := []string{want}
	for _, next := range []string{"global", GeoPrefix(region)} {
		if next != want {
			candidates = append(candidates, next)
		}
	}
	return append(candidates, "")
}

func (s *Service) supportsPrefix(ctx context.Context, region, modelID, prefix string) bool {
	if prefix == "global" {
		return s.profiles.SupportsGlobal(ctx, region, modelID)
	}
	return s.profiles.SupportsGeographic(ctx, region, modelID)
}

func stripGeoPrefix(id string) string {
	lower := strings.ToLower(id)
	for _, prefix := range geoPrefixes {
		if strings.HasPrefix(lower, prefix+".") {
			return id[len(prefix)+1:]
		}
	}
	return id
}

// translate wraps an SDK error, attaching a model suggestion to not-found
// failures.
func (s *Service) translate(ctx context.Context, err error, region, clientModel string) error {
	return Translate(err, func() string {
		return s.models.Suggest(ctx, region, clientModel)
	})
}

func (s *Service) runtime(ctx context.Context, target Target) (Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.runtimes[target.Key()]; ok {
		return rt, nil
	}
	rt, err := s.factory(ctx, target)
	if err != nil {
		return nil, err
	}
	s.runtimes[target.Key()] = rt
	return rt, nil
}

func jsonResponse(body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        http.StatusText(http.StatusOK),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
