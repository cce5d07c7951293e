package terminal

import (
	"sync"
	"unicode/utf8"
)

// outputBuffer keeps the most recent limit bytes written to it. Once any
// byte has been dropped the buffer stays marked as truncated.
type outputBuffer struct {
	mu        sync.Mutex
	data      []byte
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) <= b.limit {
		return len(p), nil
	}
	drop := len(b.data) - b.limit
	// Never start the kept output in the middle of a multi-byte character.
	for drop < len(b.data) && !utf8.RuneStart(b.data[drop]) {
		drop++
	}
	n := copy(b.data, b.data[drop:])
	b.data = b.data[:n]
	b.truncated = true
	return len(p), nil
}

func (b *outputBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data), b.truncated
}
