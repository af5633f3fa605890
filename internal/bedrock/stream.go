package bedrock

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/rs/zerolog"
	"github.com/samber/ro"

	"github.com/tombii/better-ccflare/internal/sse"
)

// ForwardStream turns a ConverseStream into an Anthropic-flavored SSE body.
// Content events are forwarded as they arrive. Converse delivers usage in a
// metadata event after messageStop, so the terminal message_delta and
// message_stop are held back until the stream ends and carry that usage.
func ForwardStream(stream *bedrockruntime.ConverseStreamEventStream, clientModel string, log zerolog.Logger) io.ReadCloser {
	pr, pw := io.Pipe()

	events := ro.NewObservable(func(observer ro.Observer[types.ConverseStreamOutput]) ro.Teardown {
		for event := range stream.Events() {
			observer.Next(event)
		}
		if err := stream.Err(); err != nil {
			observer.Error(err)
		} else {
			observer.Complete()
		}
		return func() { _ = stream.Close() }
	})

	go func() {
		fw := &streamForwarder{w: pw, model: clientModel}
		events.Subscribe(ro.NewObserver(
			fw.forward,
			func(err error) {
				log.Warn().Err(err).Msg("bedrock stream ended with error")
			},
			func() {},
		))
		fw.finish()
		pw.Close()
	}()

	return pr
}

// streamForwarder serializes Converse events into Anthropic SSE events.
type streamForwarder struct {
	w     io.Writer
	model string

	stopReason   string
	sawUsage     bool
	inputTokens  int32
	outputTokens int32
	finished     bool
}

func (f *streamForwarder) forward(event types.ConverseStreamOutput) {
	switch e := event.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:
		f.emit("message_start", fmt.Sprintf(
			`{"type":"message_start","message":{"id":"msg_%d","type":"message","role":%q,"model":%q,"content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`,
			time.Now().UnixMilli(), string(e.Value.Role), f.model))

	case *types.ConverseStreamOutputMemberContentBlockStart:
		f.emit("content_block_start", fmt.Sprintf(
			`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`,
			aws.ToInt32(e.Value.ContentBlockIndex)))

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if text, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			f.emit("content_block_delta", fmt.Sprintf(
				`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":%s}}`,
				aws.ToInt32(e.Value.ContentBlockIndex), jsonQuote(text.Value)))
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		f.emit("content_block_stop", fmt.Sprintf(
			`{"type":"content_block_stop","index":%d}`,
			aws.ToInt32(e.Value.ContentBlockIndex)))

	case *types.ConverseStreamOutputMemberMessageStop:
		f.stopReason = anthropicStopReason(e.Value.StopReason)

	case *types.ConverseStreamOutputMemberMetadata:
		if u := e.Value.Usage; u != nil {
			f.sawUsage = true
			f.inputTokens = aws.ToInt32(u.InputTokens)
			f.outputTokens = aws.ToInt32(u.OutputTokens)
		}
	}
}

// finish emits the terminal events once, folding in any metadata usage.
func (f *streamForwarder) finish() {
	if f.finished {
		return
	}
	f.finished = true

	reason := f.stopReason
	if reason == "" {
		reason = "end_turn"
	}
	delta := fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":%q,"stop_sequence":null}`, reason)
	if f.sawUsage {
		delta += fmt.Sprintf(`,"usage":{"input_tokens":%d,"output_tokens":%d}`, f.inputTokens, f.outputTokens)
	}
	delta += "}"
	f.emit("message_delta", delta)
	f.emit("message_stop", `{"type":"message_stop"}`)
}

func (f *streamForwarder) emit(event, data string) {
	ev := sse.Event{Event: event, Data: []byte(data)}
	f.w.Write(ev.Bytes()) //nolint:errcheck // a broken pipe means the client went away
}

// jsonQuote renders a string as a JSON literal.
func jsonQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
