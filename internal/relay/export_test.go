package relay

import "io"

// BoundedTee exposes the body tee for tests.
func BoundedTee(body io.ReadCloser, capBytes int) (io.ReadCloser, io.ReadCloser) {
	return boundedTee(body, capBytes)
}

var (
	ResponseForError   = responseForError
	ErrorTypeForStatus = errorTypeForStatus
)
