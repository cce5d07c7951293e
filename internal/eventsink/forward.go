package eventsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/logging"
)

// Source is anything events can be subscribed on, typically the prompt
// orchestrator.
type Source interface {
	On(t events.Type, listener events.Listener) events.Subscription
	Off(sub events.Subscription) bool
}

type flusher interface {
	Flush() error
}

const forwardBuffer = 256

// Forwarder delivers every event of a source to a sink on its own
// goroutine, in emission order, so slow sinks never stall routing.
type Forwarder struct {
	source Source
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	subs    []events.Subscription
	records chan Record
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func Forward(source Source, sink Sink, logger *slog.Logger) *Forwarder {
	f := &Forwarder{
		source:  source,
		sink:    sink,
		logger:  logging.OrDiscard(logger),
		now:     time.Now,
		records: make(chan Record, forwardBuffer),
		done:    make(chan struct{}),
	}
	for _, t := range events.AllTypes() {
		f.subs = append(f.subs, source.On(t, f.enqueue))
	}
	go f.run()
	return f
}

func (f *Forwarder) enqueue(event events.Event) {
	record, err := FromEvent(event, f.now().UTC())
	if err != nil {
		f.logger.Warn("dropping unserializable event", "type", string(event.EventType()), "error", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.records <- record
}

func (f *Forwarder) run() {
	defer close(f.done)
	for record := range f.records {
		if err := f.sink.Emit(context.Background(), record); err != nil {
			f.logger.Warn("event sink failed", "type", string(record.Type), "error", err)
		}
	}
}

// Close unsubscribes, delivers what is queued and flushes the sink.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	for _, sub := range f.subs {
		f.source.Off(sub)
	}
	close(f.records)
	<-f.done
	if flush, ok := f.sink.(flusher); ok {
		return flush.Flush()
	}
	return nil
}
