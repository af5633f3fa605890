// Package relay executes one request against one account: provider
// resolution, token refresh, body transform, the upstream exchange, response
// translation, rate-limit writeback, and bounded usage extraction. It is a
// library component; listeners and routing policy live in the embedding
// application.
package relay

import (
	"bytes"
	"io"
	"sync"
)

// boundedTee splits a response body into the client reader and a bounded
// side copy for usage extraction. The side reader sees at most capBytes
// bytes; past that, writes are dropped so a slow extractor can never
// backpressure the client stream.
func boundedTee(body io.ReadCloser, capBytes int) (client io.ReadCloser, side io.ReadCloser) {
	buf := &teeBuffer{capBytes: capBytes}
	buf.cond = sync.NewCond(&buf.mu)

	return &teeReader{src: body, buf: buf}, buf
}

// teeReader forwards reads from the upstream body to the client while
// copying bytes into the tee buffer.
type teeReader struct {
	src io.ReadCloser
	buf *teeBuffer
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.buf.write(p[:n])
	}
	if err != nil {
		t.buf.closeWrite()
	}
	return n, err
}

func (t *teeReader) Close() error {
	t.buf.closeWrite()
	return t.src.Close()
}

// teeBuffer is the side copy: an in-memory buffer bounded at capBytes that
// the extractor reads as an io.ReadCloser. Reads block until data arrives
// or the writer closes.
type teeBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     bytes.Buffer
	written  int
	capBytes int
	done     bool
	closed   bool
}

func (b *teeBuffer) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done || b.closed {
		return
	}

	room := b.capBytes - b.written
	if room <= 0 {
		return
	}
	if len(p) > room {
		p = p[:room]
	}
	b.data.Write(p)
	b.written += len(p)
	b.cond.Broadcast()
}

func (b *teeBuffer) closeWrite() {
	b.mu.Lock()
	b.done = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *teeBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.data.Len() == 0 {
		if b.done || b.closed {
			return 0, io.EOF
		}
		b.cond.Wait()
	}
	return b.data.Read(p)
}

// Close stops the side copy; subsequent writes are dropped.
func (b *teeBuffer) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}
