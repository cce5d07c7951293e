package toolcall

import "github.com/egv/acp-host/internal/events"

// UpdateSource is the part of the update router the registry listens to.
type UpdateSource interface {
	On(t events.Type, listener events.Listener) events.Subscription
	Off(sub events.Subscription) bool
}

// Attach feeds tool_call and tool_call_update events from source into the
// registry. The returned function detaches it again.
func (r *Registry) Attach(source UpdateSource) func() {
	subs := []events.Subscription{
		source.On(events.ToolCall, events.Handle(func(e events.ToolCallEvent) {
			r.Register(e.Call)
		})),
		source.On(events.ToolCallUpdate, events.Handle(func(e events.ToolCallUpdateEvent) {
			r.Update(e.Update)
		})),
	}
	return func() {
		for _, sub := range subs {
			source.Off(sub)
		}
	}
}
