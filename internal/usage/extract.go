package usage

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/tombii/better-ccflare/internal/sse"
)

// Extractor budgets. The SSE scan stops at the byte cap, at the operation
// deadline, or when a single read stalls past the read timeout, whichever
// comes first.
const (
	DefaultCapBytes         = 100 * 1024
	DefaultReadTimeout      = 5 * time.Second
	DefaultOperationTimeout = 10 * time.Second
)

// ExtractorOptions bound a streaming usage scan.
type ExtractorOptions struct {
	CapBytes         int
	ReadTimeout      time.Duration
	OperationTimeout time.Duration
	Logger           zerolog.Logger
}

func (o ExtractorOptions) withDefaults() ExtractorOptions {
	if o.CapBytes <= 0 {
		o.CapBytes = DefaultCapBytes
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	return o
}

// ScanAnthropicStream reads an Anthropic-format SSE body and returns the
// usage it carries. The scan honors the byte cap and both timeouts; on any
// failure it reports whatever was decoded so far, or not-found.
//
// message_start establishes the model and the initial counters;
// a later message_delta with usage authoritatively overrides the output,
// input, and cache-read counts.
func ScanAnthropicStream(ctx context.Context, body io.Reader, opts ExtractorOptions) (Info, bool) {
	opts = opts.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, opts.OperationTimeout)
	defer cancel()

	limited := io.LimitReader(body, int64(opts.CapBytes))
	timed := newTimedReader(ctx, limited, opts.ReadTimeout)
	defer timed.stop()

	scanner := sse.NewScanner(timed)

	var info Info
	found := false

	for {
		ev, err := scanner.Next()
		if err != nil {
			if err != io.EOF {
				opts.Logger.Debug().Err(err).Msg("usage stream scan stopped early")
			}
			return info, found
		}

		switch ev.Event {
		case "message_start":
			msg := gjson.GetBytes(ev.Data, "message")
			if !msg.Exists() {
				continue
			}
			info.Model = msg.Get("model").String()
			u := msg.Get("usage")
			info.InputTokens = u.Get("input_tokens").Int()
			info.OutputTokens = u.Get("output_tokens").Int()
			info.CacheReadInputTokens = u.Get("cache_read_input_tokens").Int()
			info.CacheCreationInputTokens = u.Get("cache_creation_input_tokens").Int()
			found = true

		case "message_delta":
			u := gjson.GetBytes(ev.Data, "usage")
			if !u.Exists() {
				continue
			}
			if v := u.Get("output_tokens"); v.Exists() {
				info.OutputTokens = v.Int()
			}
			if v := u.Get("input_tokens"); v.Exists() {
				info.InputTokens = v.Int()
			}
			if v := u.Get("cache_read_input_tokens"); v.Exists() {
				info.CacheReadInputTokens = v.Int()
			}
			found = true
			// The delta carries the final counts; nothing after it
			// changes usage.
			return info, found
		}
	}
}

// ExtractAnthropicJSON reads usage from a non-streaming Anthropic response
// body.
func ExtractAnthropicJSON(body []byte) (Info, bool) {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return Info{}, false
	}
	return Info{
		Model:                    gjson.GetBytes(body, "model").String(),
		InputTokens:              u.Get("input_tokens").Int(),
		OutputTokens:             u.Get("output_tokens").Int(),
		CacheReadInputTokens:     u.Get("cache_read_input_tokens").Int(),
		CacheCreationInputTokens: u.Get("cache_creation_input_tokens").Int(),
	}, true
}

// ExtractOpenAIJSON reads usage from a non-streaming OpenAI chat-completions
// response body.
func ExtractOpenAIJSON(body []byte) (Info, bool) {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return Info{}, false
	}
	return Info{
		Model:        gjson.GetBytes(body, "model").String(),
		InputTokens:  u.Get("prompt_tokens").Int(),
		OutputTokens: u.Get("completion_tokens").Int(),
	}, true
}

// timedReader enforces a per-read timeout plus the context deadline on top
// of an underlying reader. Reads run in a dedicated goroutine; on timeout
// the reader reports errReadTimeout and the goroutine is abandoned until the
// underlying body is closed by the owner.
type timedReader struct {
	ctx     context.Context
	timeout time.Duration
	data    chan readResult
	reqs    chan []byte
	done    chan struct{}
}

type readResult struct {
	n   int
	err error
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "usage: read budget exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return false }

var errReadTimeout = timeoutError{}

func newTimedReader(ctx context.Context, r io.Reader, timeout time.Duration) *timedReader {
	t := &timedReader{
		ctx:     ctx,
		timeout: timeout,
		data:    make(chan readResult),
		reqs:    make(chan []byte),
		done:    make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-t.done:
				return
			case buf := <-t.reqs:
				n, err := r.Read(buf)
				select {
				case t.data <- readResult{n: n, err: err}:
				case <-t.done:
					return
				}
			}
		}
	}()

	return t
}

func (t *timedReader) Read(p []byte) (int, error) {
	select {
	case t.reqs <- p:
	case <-t.ctx.Done():
		return 0, errReadTimeout
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case res := <-t.data:
		return res.n, res.err
	case <-timer.C:
		return 0, errReadTimeout
	case <-t.ctx.Done():
		return 0, errReadTimeout
	}
}

func (t *timedReader) stop() {
	close(t.done)
}
