// Package sse implements Server-Sent Events parsing and serialization for
// better-ccflare. Upstream LLM responses and the proxy's own transformed
// streams both travel as text/event-stream bodies; this package provides a
// pull-based Scanner for bounded reads (usage extraction), a reactive
// Observable stream for event pipelines (stream rewriting), and the wire
// format serializer.
package sse

import (
	"bytes"
	"fmt"
	"strconv"
)

// ContentType is the media type of an SSE response body.
const ContentType = "text/event-stream"

// Event is a single Server-Sent Event.
// Fields follow https://html.spec.whatwg.org/multipage/server-sent-events.html
type Event struct {
	Event string
	ID    string
	Data  []byte
	Retry int
}

// String returns the SSE wire format representation of the event.
func (e Event) String() string {
	var buf bytes.Buffer
	if e.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", e.Event)
	}
	if e.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.ID)
	}
	if e.Retry > 0 {
		fmt.Fprintf(&buf, "retry: %d\n", e.Retry)
	}
	if len(e.Data) > 0 {
		// Multi-line data is emitted as one data: line per line.
		for _, line := range bytes.Split(e.Data, []byte("\n")) {
			fmt.Fprintf(&buf, "data: %s\n", line)
		}
	}
	buf.WriteString("\n")
	return buf.String()
}

// Bytes returns the SSE wire format representation as bytes.
func (e Event) Bytes() []byte {
	return []byte(e.String())
}

// parser accumulates field lines until a blank line completes an event.
// It is shared by Scanner and Stream.
type parser struct {
	dataLines [][]byte
	event     Event
}

// processLine consumes one raw line (including its line ending) and returns
// the completed event when the line was a separator, or nil.
func (p *parser) processLine(line []byte) *Event {
	if len(line) == 0 {
		return nil
	}

	line = trimLineEndings(line)

	if len(line) == 0 {
		return p.takeEvent()
	}

	p.parseField(line)
	return nil
}

// takeEvent returns the pending event and resets parser state.
// Events that accumulated no data lines are dropped; Anthropic and OpenAI
// streams always carry a data payload with every meaningful event.
func (p *parser) takeEvent() *Event {
	if len(p.dataLines) == 0 {
		p.event = Event{}
		return nil
	}

	ev := p.event
	ev.Data = bytes.Join(p.dataLines, []byte("\n"))
	p.event = Event{}
	p.dataLines = nil
	return &ev
}

func (p *parser) parseField(line []byte) {
	if isComment(line) {
		return
	}

	field, value := splitFieldValue(line)
	switch string(field) {
	case "event":
		p.event.Event = string(value)
	case "data":
		// Copy: the caller may reuse the line buffer.
		p.dataLines = append(p.dataLines, bytes.Clone(value))
	case "id":
		p.event.ID = string(value)
	case "retry":
		if n, err := strconv.Atoi(string(value)); err == nil {
			p.event.Retry = n
		}
	}
}

// trimLineEndings removes a trailing \n and \r from a line, tolerating both
// LF and CRLF streams.
func trimLineEndings(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

func isComment(line []byte) bool {
	return len(line) > 0 && line[0] == ':'
}

// splitFieldValue splits a field line at the first colon and strips the
// optional leading space from the value.
func splitFieldValue(line []byte) (field, value []byte) {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx == -1 {
		return line, nil
	}

	field = line[:colonIdx]
	value = line[colonIdx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
