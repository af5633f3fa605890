package providers

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/ro"
	"github.com/tidwall/gjson"

	"github.com/tombii/better-ccflare/internal/sse"
)

// openAIStreamState tracks the Anthropic envelope events already emitted
// while an OpenAI chat-completions stream is being rewritten.
type openAIStreamState struct {
	w io.Writer

	started      bool
	blockOpen    bool
	finished     bool
	stopReason   string
	inputTokens  int64
	outputTokens int64
	sawUsage     bool
}

// translateOpenAIStream rewrites an OpenAI chat-completions SSE stream into
// the Anthropic Messages stream envelope: one message_start, a single text
// content block carrying every delta, then message_delta and message_stop.
// Chunks that fail to parse are dropped; a missing [DONE] sentinel still
// finalizes the envelope on EOF.
func translateOpenAIStream(body io.ReadCloser, log zerolog.Logger) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		defer body.Close()

		state := &openAIStreamState{w: pw}
		sse.Stream(body).Subscribe(ro.NewObserver(
			func(ev sse.Event) {
				if err := state.consume(ev); err != nil {
					log.Debug().Err(err).Msg("dropped untranslatable stream chunk")
				}
			},
			func(err error) {
				log.Warn().Err(err).Msg("upstream stream ended with error")
			},
			func() {},
		))

		// Finalize even when the upstream never sent [DONE].
		state.finish()
		pw.Close()
	}()

	return pr
}

func (s *openAIStreamState) consume(ev sse.Event) error {
	if len(ev.Data) == 0 {
		return nil
	}
	if string(ev.Data) == "[DONE]" {
		s.finish()
		return nil
	}

	chunk := gjson.ParseBytes(ev.Data)
	if !chunk.IsObject() {
		return fmt.Errorf("chunk is not an object")
	}

	if usage := chunk.Get("usage"); usage.Exists() {
		s.sawUsage = true
		s.inputTokens = usage.Get("prompt_tokens").Int()
		s.outputTokens = usage.Get("completion_tokens").Int()
	}

	choice := chunk.Get("choices.0")
	if !choice.Exists() {
		return nil
	}

	s.start(chunk)

	if text := choice.Get("delta.content"); text.Exists() && text.String() != "" {
		s.emitDelta(text.String())
	}
	if finish := choice.Get("finish_reason"); finish.Exists() && finish.String() != "" {
		s.stopReason = stopReasonFor(finish.String())
	}
	return nil
}

// start emits message_start and the ping Anthropic clients expect, once.
func (s *openAIStreamState) start(chunk gjson.Result) {
	if s.started {
		return
	}
	s.started = true

	id := chunk.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("msg_%d", time.Now().UnixMilli())
	}

	s.emit("message_start", fmt.Sprintf(
		`{"type":"message_start","message":{"id":%q,"type":"message","role":"assistant","model":%q,"content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`,
		id, chunk.Get("model").String()))
	s.emit("ping", `{"type":"ping"}`)
}

func (s *openAIStreamState) emitDelta(text string) {
	if !s.blockOpen {
		s.blockOpen = true
		s.emit("content_block_start",
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
	}
	s.emit("content_block_delta", fmt.Sprintf(
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%s}}`,
		jsonString(text)))
}

// finish closes the open block and emits the terminal events. Safe to call
// more than once; only the first call writes.
func (s *openAIStreamState) finish() {
	if s.finished {
		return
	}
	s.finished = true

	if !s.started {
		// Nothing arrived; an empty envelope would confuse clients more
		// than an empty body.
		return
	}

	if s.blockOpen {
		s.emit("content_block_stop", `{"type":"content_block_stop","index":0}`)
	}

	reason := s.stopReason
	if reason == "" {
		reason = "end_turn"
	}
	delta := fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":%q,"stop_sequence":null}`, reason)
	if s.sawUsage {
		delta += fmt.Sprintf(`,"usage":{"input_tokens":%d,"output_tokens":%d}`, s.inputTokens, s.outputTokens)
	}
	delta += "}"
	s.emit("message_delta", delta)
	s.emit("message_stop", `{"type":"message_stop"}`)
}

func (s *openAIStreamState) emit(event, data string) {
	ev := sse.Event{Event: event, Data: []byte(data)}
	s.w.Write(ev.Bytes()) //nolint:errcheck // a broken pipe means the client went away
}

// jsonString encodes a string as a JSON literal without an encoder round
// trip allocating a buffer per delta.
func jsonString(s string) string {
	b := make([]byte, 0, len(s)+2)
	b = append(b, '"')
	for _, r := range s {
		switch r {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			if r < 0x20 {
				b = append(b, []byte(fmt.Sprintf(`\u%04x`, r))...)
			} else {
				b = append(b, []byte(string(r))...)
			}
		}
	}
	return string(append(b, '"'))
}
