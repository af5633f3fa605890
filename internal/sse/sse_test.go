package sse_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/samber/ro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/sse"
)

func TestEventWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		event sse.Event
		want  string
	}{
		{
			name:  "data only",
			event: sse.Event{Data: []byte(`{"x":1}`)},
			want:  "data: {\"x\":1}\n\n",
		},
		{
			name:  "event and data",
			event: sse.Event{Event: "message_start", Data: []byte("{}")},
			want:  "event: message_start\ndata: {}\n\n",
		},
		{
			name:  "all fields",
			event: sse.Event{Event: "ping", ID: "7", Retry: 250, Data: []byte("{}")},
			want:  "event: ping\nid: 7\nretry: 250\ndata: {}\n\n",
		},
		{
			name:  "multi-line data",
			event: sse.Event{Data: []byte("line1\nline2")},
			want:  "data: line1\ndata: line2\n\n",
		},
		{
			name:  "empty event is a bare separator",
			event: sse.Event{},
			want:  "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.String())
			assert.Equal(t, []byte(tt.want), tt.event.Bytes())
		})
	}
}

func TestScanner(t *testing.T) {
	input := "event: message_start\ndata: {\"a\":1}\n\n" +
		": keepalive comment\n\n" +
		"data: first\ndata: second\n\n" +
		"id: 42\nretry: 100\ndata: tail\n\n"
	s := sse.NewScanner(strings.NewReader(input))

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "message_start", ev.Event)
	assert.Equal(t, `{"a":1}`, string(ev.Data))

	// The comment-only block has no data and is skipped entirely.
	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", string(ev.Data))

	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "42", ev.ID)
	assert.Equal(t, 100, ev.Retry)
	assert.Equal(t, "tail", string(ev.Data))

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScannerCRLF(t *testing.T) {
	s := sse.NewScanner(strings.NewReader("event: ping\r\ndata: {}\r\n\r\n"))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "ping", ev.Event)
	assert.Equal(t, "{}", string(ev.Data))
}

func TestScannerTruncatedStream(t *testing.T) {
	// No trailing blank line: the pending event is flushed before EOF.
	s := sse.NewScanner(strings.NewReader("event: done\ndata: {\"ok\":true}"))

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "done", ev.Event)
	assert.Equal(t, `{"ok":true}`, string(ev.Data))

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScannerValueWithoutSpace(t *testing.T) {
	s := sse.NewScanner(strings.NewReader("data:compact\n\n"))
	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "compact", string(ev.Data))
}

func collectStream(t *testing.T, obs ro.Observable[sse.Event]) ([]sse.Event, error, bool) {
	t.Helper()
	var events []sse.Event
	var streamErr error
	completed := false
	obs.Subscribe(ro.NewObserver(
		func(ev sse.Event) { events = append(events, ev) },
		func(err error) { streamErr = err },
		func() { completed = true },
	))
	return events, streamErr, completed
}

func TestStream(t *testing.T) {
	input := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	events, err, completed := collectStream(t, sse.Stream(strings.NewReader(input)))
	require.NoError(t, err)
	assert.True(t, completed)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Event)
	assert.Equal(t, "2", string(events[1].Data))
}

func TestStreamReadError(t *testing.T) {
	broken := io.MultiReader(strings.NewReader("data: 1\n\n"), iotest(errors.New("connection reset")))
	events, err, completed := collectStream(t, sse.Stream(broken))
	assert.EqualError(t, err, "connection reset")
	assert.False(t, completed)
	assert.Len(t, events, 1)
}

// iotest returns a reader that fails immediately with err.
func iotest(err error) io.Reader {
	return &errReader{err: err}
}

type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }

func TestFilterAndMapOperators(t *testing.T) {
	input := "event: message_start\ndata: {}\n\n" +
		"event: content_block_delta\ndata: x\n\n" +
		"event: content_block_stop\ndata: {}\n\n"

	filtered, _, _ := collectStream(t, ro.Pipe1(
		sse.Stream(strings.NewReader(input)),
		sse.FilterEventsByPrefix("content_block"),
	))
	require.Len(t, filtered, 2)

	mapped, _, _ := collectStream(t, ro.Pipe2(
		sse.Stream(strings.NewReader(input)),
		sse.FilterEvents("content_block_delta"),
		sse.MapEventData(func(data []byte) []byte {
			return append([]byte("mapped:"), data...)
		}),
	))
	require.Len(t, mapped, 1)
	assert.Equal(t, "mapped:x", string(mapped[0].Data))
}
