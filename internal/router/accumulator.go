package router

import (
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"
)

// Accumulator buffers the content chunks of one stream for a single turn.
// Chunks are stored as received and never modified.
type Accumulator struct {
	mu     sync.RWMutex
	chunks []acp.ContentBlock
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func (a *Accumulator) AddChunk(block acp.ContentBlock) {
	a.mu.Lock()
	a.chunks = append(a.chunks, block)
	a.mu.Unlock()
}

// FullText concatenates the text chunks in order with no separator.
func (a *Accumulator) FullText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var builder strings.Builder
	for _, chunk := range a.chunks {
		if chunk.Text != nil {
			builder.WriteString(chunk.Text.Text)
		}
	}
	return builder.String()
}

// Chunks returns a copy of the buffered chunks.
func (a *Accumulator) Chunks() []acp.ContentBlock {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]acp.ContentBlock(nil), a.chunks...)
}

func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.chunks)
}

func (a *Accumulator) IsEmpty() bool {
	return a.Len() == 0
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.chunks = nil
	a.mu.Unlock()
}
