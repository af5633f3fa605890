package usage_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/usage"
)

const anthropicStream = "event: message_start\n" +
	"data: {\"message\":{\"model\":\"claude-3-5-sonnet-20241022\",\"usage\":{\"input_tokens\":10,\"output_tokens\":2,\"cache_read_input_tokens\":3,\"cache_creation_input_tokens\":4}}}\n" +
	"\n" +
	"event: message_delta\n" +
	"data: {\"usage\":{\"output_tokens\":42}}\n" +
	"\n"

func TestScanAnthropicStreamAccumulates(t *testing.T) {
	info, ok := usage.ScanAnthropicStream(context.Background(), strings.NewReader(anthropicStream), usage.ExtractorOptions{})
	require.True(t, ok)

	assert.Equal(t, "claude-3-5-sonnet-20241022", info.Model)
	assert.Equal(t, int64(10), info.InputTokens)
	assert.Equal(t, int64(3), info.CacheReadInputTokens)
	assert.Equal(t, int64(4), info.CacheCreationInputTokens)
	assert.Equal(t, int64(42), info.OutputTokens)
	assert.Equal(t, int64(17), info.PromptTokens())
	assert.Equal(t, int64(42), info.CompletionTokens())
	assert.Equal(t, int64(59), info.TotalTokens())
}

func TestScanAnthropicStreamDeltaOverridesStart(t *testing.T) {
	stream := "event: message_start\n" +
		"data: {\"message\":{\"model\":\"claude-3-5-haiku-20241022\",\"usage\":{\"input_tokens\":5,\"output_tokens\":1}}}\n\n" +
		"event: message_delta\n" +
		"data: {\"usage\":{\"output_tokens\":9,\"input_tokens\":6,\"cache_read_input_tokens\":2}}\n\n"

	info, ok := usage.ScanAnthropicStream(context.Background(), strings.NewReader(stream), usage.ExtractorOptions{})
	require.True(t, ok)
	assert.Equal(t, int64(6), info.InputTokens)
	assert.Equal(t, int64(9), info.OutputTokens)
	assert.Equal(t, int64(2), info.CacheReadInputTokens)
}

func TestScanAnthropicStreamNoUsage(t *testing.T) {
	stream := "event: ping\ndata: {}\n\n"
	_, ok := usage.ScanAnthropicStream(context.Background(), strings.NewReader(stream), usage.ExtractorOptions{})
	assert.False(t, ok)
}

// countingReader tracks how many bytes were consumed from the source.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func TestScanAnthropicStreamHonorsByteCap(t *testing.T) {
	// A stream of filler events far larger than the cap and carrying no
	// usage. The scan must stop at the cap, not at EOF.
	filler := strings.Repeat("event: content_block_delta\ndata: {\"delta\":{\"text\":\"xxxxxxxxxxxxxxxx\"}}\n\n", 4096)
	src := &countingReader{r: strings.NewReader(filler)}

	capBytes := 8 * 1024
	_, ok := usage.ScanAnthropicStream(context.Background(), src, usage.ExtractorOptions{CapBytes: capBytes})
	assert.False(t, ok)
	// bufio may read one buffer past the limit boundary inside the cap.
	assert.LessOrEqual(t, src.n, capBytes)
}

// stallingReader blocks forever after serving its prefix.
type stallingReader struct {
	prefix io.Reader
	block  chan struct{}
}

func (s *stallingReader) Read(p []byte) (int, error) {
	n, err := s.prefix.Read(p)
	if n > 0 || err == nil {
		return n, nil
	}
	<-s.block
	return 0, io.EOF
}

func TestScanAnthropicStreamReadTimeout(t *testing.T) {
	src := &stallingReader{
		prefix: strings.NewReader("event: message_start\ndata: {\"message\":{\"model\":\"m\",\"usage\":{\"input_tokens\":1}}}\n\n"),
		block:  make(chan struct{}),
	}
	defer close(src.block)

	start := time.Now()
	info, ok := usage.ScanAnthropicStream(context.Background(), src, usage.ExtractorOptions{
		ReadTimeout:      50 * time.Millisecond,
		OperationTimeout: time.Second,
	})
	elapsed := time.Since(start)

	// The complete event before the stall is still reported.
	require.True(t, ok)
	assert.Equal(t, int64(1), info.InputTokens)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestExtractAnthropicJSON(t *testing.T) {
	body := `{"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":7,"output_tokens":11,"cache_read_input_tokens":1,"cache_creation_input_tokens":2}}`

	info, ok := usage.ExtractAnthropicJSON([]byte(body))
	require.True(t, ok)
	assert.Equal(t, int64(7), info.InputTokens)
	assert.Equal(t, int64(11), info.OutputTokens)
	assert.Equal(t, int64(21), info.TotalTokens())

	_, ok = usage.ExtractAnthropicJSON([]byte(`{"model":"m"}`))
	assert.False(t, ok)
}

func TestExtractOpenAIJSON(t *testing.T) {
	body := `{"model":"openai/gpt-5","usage":{"prompt_tokens":13,"completion_tokens":8,"total_tokens":21}}`

	info, ok := usage.ExtractOpenAIJSON([]byte(body))
	require.True(t, ok)
	assert.Equal(t, int64(13), info.InputTokens)
	assert.Equal(t, int64(8), info.OutputTokens)
}
