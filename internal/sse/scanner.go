package sse

import (
	"bufio"
	"io"
)

// Scanner is a pull-based SSE reader. It yields one event per Next call,
// buffering partial lines so that chunks spanning event boundaries are
// handled correctly. A pending event is flushed before EOF is reported,
// so truncated streams still surface their last complete event.
//
// Scanner does not close the underlying reader. Bound the reader itself
// (io.LimitReader, deadline wrappers) to enforce byte caps or timeouts.
type Scanner struct {
	r   *bufio.Reader
	p   parser
	err error
}

// NewScanner returns a Scanner reading SSE events from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the next event in the stream. It returns io.EOF when the
// stream is exhausted and any other read error verbatim. After a non-nil
// error, all subsequent calls return the same error.
func (s *Scanner) Next() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}

	for {
		line, err := s.r.ReadBytes('\n')
		if ev := s.p.processLine(line); ev != nil {
			return *ev, nil
		}

		if err != nil {
			s.err = err
			// A stream that ends without a trailing blank line may
			// still hold a complete event.
			if ev := s.p.takeEvent(); ev != nil {
				return *ev, nil
			}
			return Event{}, s.err
		}
	}
}
