package eventsink

import (
	"bytes"
	"testing"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/toolcall"
)

func TestForwardDeliversInOrderAndUnsubscribes(t *testing.T) {
	registry := toolcall.NewRegistry(nil)
	buf := &bytes.Buffer{}
	forwarder := Forward(registry, NewStreamSinkWithOptions(buf, StreamSinkOptions{VerboseOutput: true}), nil)

	registry.Register(acp.SessionUpdateToolCall{ToolCallId: "t1", Title: "Read file"})
	registry.Update(acp.SessionToolCallUpdate{ToolCallId: "t1", Status: acp.Ptr(acp.ToolCallStatusCompleted)})
	if err := forwarder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	registry.Register(acp.SessionUpdateToolCall{ToolCallId: "t2"})

	records := decodeAll(t, buf.Bytes())
	want := []events.Type{events.ToolCallRegistered, events.ToolCallUpdated, events.ToolCallCompleted}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, record := range records {
		if record.Type != want[i] {
			t.Fatalf("record %d: expected %s, got %s", i, want[i], record.Type)
		}
	}
	if err := forwarder.Close(); err != nil {
		t.Fatalf("expected second close to succeed, got %v", err)
	}
}
