// Package events is the typed publish/subscribe layer shared by the router,
// the tool call registry and the prompt orchestrator.
package events

import (
	"log/slog"
	"sync"
)

type Type string

// Update-category events, produced by the update router.
const (
	AgentMessageChunk Type = "agent_message_chunk"
	AgentThoughtChunk Type = "agent_thought_chunk"
	UserMessageChunk  Type = "user_message_chunk"
	ToolCall          Type = "tool_call"
	ToolCallUpdate    Type = "tool_call_update"
	Plan              Type = "plan"
	AvailableCommands Type = "available_commands"
	CurrentMode       Type = "current_mode"
)

// Tool call lifecycle events, produced by the tool call registry.
const (
	ToolCallRegistered Type = "tool_call_registered"
	ToolCallUpdated    Type = "tool_call_updated"
	ToolCallCompleted  Type = "tool_call_completed"
	ToolCallFailed     Type = "tool_call_failed"
	PermissionPending  Type = "permission_pending"
)

// Turn events, produced by the prompt orchestrator.
const (
	Complete Type = "complete"
	Error    Type = "error"
)

func UpdateTypes() []Type {
	return []Type{AgentMessageChunk, AgentThoughtChunk, UserMessageChunk, ToolCall, ToolCallUpdate, Plan, AvailableCommands, CurrentMode}
}

func ToolCallTypes() []Type {
	return []Type{ToolCallRegistered, ToolCallUpdated, ToolCallCompleted, ToolCallFailed, PermissionPending}
}

func TurnTypes() []Type {
	return []Type{Complete, Error}
}

func AllTypes() []Type {
	all := append(UpdateTypes(), ToolCallTypes()...)
	return append(all, TurnTypes()...)
}

// IsUpdate reports whether t is emitted by the update router.
func IsUpdate(t Type) bool {
	for _, candidate := range UpdateTypes() {
		if candidate == t {
			return true
		}
	}
	return false
}

// Event is implemented by every payload published on a Bus.
type Event interface {
	EventType() Type
}

type Listener func(Event)

// Handle adapts a listener for one concrete payload type. Events of any
// other type are ignored.
func Handle[E Event](fn func(E)) Listener {
	return func(event Event) {
		if typed, ok := event.(E); ok {
			fn(typed)
		}
	}
}

// Subscription identifies one registered listener.
type Subscription struct {
	Type Type
	id   uint64
}

type entry struct {
	id       uint64
	listener Listener
}

// Bus maps each event type to its listener handles. A panicking listener is
// logged and skipped; delivery to the remaining listeners continues.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Type][]entry
	logger    *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{listeners: map[Type][]entry{}, logger: logger}
}

func (b *Bus) On(t Type, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[t] = append(b.listeners[t], entry{id: b.nextID, listener: listener})
	return Subscription{Type: t, id: b.nextID}
}

// Off removes a listener and reports whether it was registered.
func (b *Bus) Off(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.listeners[sub.Type]
	for i, candidate := range current {
		if candidate.id == sub.id {
			next := make([]entry, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			if len(next) == 0 {
				delete(b.listeners, sub.Type)
			} else {
				b.listeners[sub.Type] = next
			}
			return true
		}
	}
	return false
}

func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = map[Type][]entry{}
}

func (b *Bus) ListenerCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[t])
}

// Emit delivers event synchronously to the listeners registered for its
// type at the time of the call.
func (b *Bus) Emit(event Event) {
	if event == nil {
		return
	}
	t := event.EventType()
	b.mu.RLock()
	snapshot := b.listeners[t]
	b.mu.RUnlock()

	for _, candidate := range snapshot {
		b.deliver(t, candidate, event)
	}
}

func (b *Bus) deliver(t Type, candidate entry, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("event listener panicked", "event", string(t), "listener", candidate.id, "panic", recovered)
		}
	}()
	candidate.listener(event)
}
