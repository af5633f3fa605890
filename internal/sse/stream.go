package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/samber/ro"
)

// Stream creates an Observable emitting the events parsed from an SSE body.
// The stream completes on EOF and errors on any other read failure. The
// caller remains responsible for closing the body after the observable
// terminates.
func Stream(body io.Reader) ro.Observable[Event] {
	return ro.NewObservable(func(observer ro.Observer[Event]) ro.Teardown {
		p := parser{}
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			if ev := p.processLine(line); ev != nil {
				observer.Next(*ev)
			}

			if err != nil {
				if ev := p.takeEvent(); ev != nil {
					observer.Next(*ev)
				}
				if errors.Is(err, io.EOF) {
					observer.Complete()
				} else {
					observer.Error(err)
				}
				return nil
			}
		}
	})
}

// FilterEvents keeps only events whose type matches exactly.
func FilterEvents(eventType string) func(ro.Observable[Event]) ro.Observable[Event] {
	return ro.Filter(func(e Event) bool {
		return e.Event == eventType
	})
}

// FilterEventsByPrefix keeps only events whose type has the given prefix.
func FilterEventsByPrefix(prefix string) func(ro.Observable[Event]) ro.Observable[Event] {
	return ro.Filter(func(e Event) bool {
		return strings.HasPrefix(e.Event, prefix)
	})
}

// MapEventData transforms the data payload of each event.
func MapEventData(mapper func([]byte) []byte) func(ro.Observable[Event]) ro.Observable[Event] {
	return ro.Map(func(e Event) Event {
		e.Data = mapper(e.Data)
		return e
	})
}
