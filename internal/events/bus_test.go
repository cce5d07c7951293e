package events

import (
	"testing"

	acp "github.com/coder/acp-go-sdk"
)

func TestEmitDeliversToListenersOfType(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.On(AgentMessageChunk, Handle(func(e ChunkEvent) {
		got = append(got, "first:"+e.Content.Text.Text)
	}))
	bus.On(AgentMessageChunk, Handle(func(e ChunkEvent) {
		got = append(got, "second:"+e.Content.Text.Text)
	}))
	bus.On(AgentThoughtChunk, func(Event) {
		t.Fatalf("thought listener must not receive message chunks")
	})

	bus.Emit(ChunkEvent{Kind: AgentMessageChunk, Content: acp.TextBlock("hi")})

	if len(got) != 2 || got[0] != "first:hi" || got[1] != "second:hi" {
		t.Fatalf("expected both listeners in registration order, got %v", got)
	}
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)
	delivered := false
	bus.On(Plan, func(Event) { panic("boom") })
	bus.On(Plan, func(Event) { delivered = true })

	bus.Emit(PlanEvent{Plan: acp.SessionUpdatePlan{}})

	if !delivered {
		t.Fatalf("expected second listener to run after first panicked")
	}
}

func TestOffRemovesOnlyThatListener(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	first := bus.On(CurrentMode, func(Event) { calls++ })
	bus.On(CurrentMode, func(Event) { calls += 10 })

	if !bus.Off(first) {
		t.Fatalf("expected first subscription to be removed")
	}
	if bus.Off(first) {
		t.Fatalf("expected second removal to report false")
	}
	bus.Emit(CurrentModeEvent{ModeID: "code"})

	if calls != 10 {
		t.Fatalf("expected only remaining listener to run, got %d", calls)
	}
	if bus.ListenerCount(CurrentMode) != 1 {
		t.Fatalf("expected one listener left, got %d", bus.ListenerCount(CurrentMode))
	}
}

func TestListenerMayUnsubscribeDuringEmit(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	var sub Subscription
	sub = bus.On(Plan, func(Event) {
		calls++
		bus.Off(sub)
	})

	bus.Emit(PlanEvent{})
	bus.Emit(PlanEvent{})

	if calls != 1 {
		t.Fatalf("expected listener to run once, got %d", calls)
	}
}

func TestRemoveAllClearsEveryType(t *testing.T) {
	bus := NewBus(nil)
	for _, eventType := range AllTypes() {
		bus.On(eventType, func(Event) {})
	}
	bus.RemoveAll()
	for _, eventType := range AllTypes() {
		if bus.ListenerCount(eventType) != 0 {
			t.Fatalf("expected no listeners for %s", eventType)
		}
	}
	if !IsUpdate(ToolCall) || IsUpdate(Complete) || IsUpdate(ToolCallRegistered) {
		t.Fatalf("unexpected update classification")
	}
}
