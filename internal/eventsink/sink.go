package eventsink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/events"
)

type Sink interface {
	Emit(ctx context.Context, record Record) error
}

// StreamSink writes records as NDJSON. Consecutive tool_call_updated
// snapshots of the same call arriving within the output interval are folded
// into the latest one.
type StreamSink struct {
	stream         *EventStream
	mu             sync.Mutex
	verboseOutput  bool
	outputInterval time.Duration
	lastOutputAt   time.Time
	pending        *Record
	pendingID      acp.ToolCallId
	pendingCount   int
}

type StreamSinkOptions struct {
	// VerboseOutput disables coalescing.
	VerboseOutput  bool
	OutputInterval time.Duration
}

func NewStreamSink(writer io.Writer) *StreamSink {
	return NewStreamSinkWithOptions(writer, StreamSinkOptions{})
}

func NewStreamSinkWithOptions(writer io.Writer, options StreamSinkOptions) *StreamSink {
	interval := options.OutputInterval
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &StreamSink{
		stream:         NewEventStream(writer),
		verboseOutput:  options.VerboseOutput,
		outputInterval: interval,
	}
}

func (s *StreamSink) Emit(_ context.Context, record Record) error {
	if s == nil || s.stream == nil {
		return nil
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, coalescable := toolCallID(record)
	if s.verboseOutput || !coalescable {
		if err := s.flushPendingLocked(); err != nil {
			return err
		}
		return s.stream.Write(record)
	}

	if s.pending != nil && s.pendingID != id {
		if err := s.flushPendingLocked(); err != nil {
			return err
		}
	}
	recordCopy := record
	now := record.Timestamp
	if s.lastOutputAt.IsZero() || now.Sub(s.lastOutputAt) >= s.outputInterval {
		if s.pending == nil {
			s.lastOutputAt = now
			return s.stream.Write(record)
		}
		s.pending = &recordCopy
		s.pendingCount++
		return s.flushPendingLocked()
	}
	s.pending = &recordCopy
	s.pendingID = id
	s.pendingCount++
	return nil
}

// Flush writes any held snapshot.
func (s *StreamSink) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushPendingLocked()
}

func (s *StreamSink) flushPendingLocked() error {
	if s.pending == nil {
		return nil
	}
	record := *s.pending
	if s.pendingCount > 1 {
		record.Coalesced = s.pendingCount - 1
	}
	s.pending = nil
	s.pendingID = ""
	s.pendingCount = 0
	s.lastOutputAt = record.Timestamp
	return s.stream.Write(record)
}

func toolCallID(record Record) (acp.ToolCallId, bool) {
	if record.Type != events.ToolCallUpdated {
		return "", false
	}
	var payload struct {
		ID acp.ToolCallId `json:"toolCallId"`
	}
	if err := json.Unmarshal(record.Payload, &payload); err != nil || payload.ID == "" {
		return "", false
	}
	return payload.ID, true
}

type FanoutSink struct {
	sinks []Sink
}

func NewFanoutSink(sinks ...Sink) *FanoutSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &FanoutSink{sinks: filtered}
}

func (f *FanoutSink) Emit(ctx context.Context, record Record) error {
	if f == nil {
		return nil
	}
	var err error
	for _, sink := range f.sinks {
		err = errors.Join(err, sink.Emit(ctx, record))
	}
	return err
}

func (f *FanoutSink) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Flush flushes every sink that buffers records.
func (f *FanoutSink) Flush() error {
	if f == nil {
		return nil
	}
	var err error
	for _, sink := range f.sinks {
		if flush, ok := sink.(flusher); ok {
			err = errors.Join(err, flush.Flush())
		}
	}
	return err
}
