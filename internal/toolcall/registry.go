// Package toolcall tracks the lifecycle of the tool calls an agent reports
// during a prompt turn.
package toolcall

import (
	"log/slog"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/events"
)

// StatusPendingPermission is a client-only status held while the agent waits
// for a permission decision on the call.
const StatusPendingPermission acp.ToolCallStatus = "pending_permission"

// PermissionRequest is the permission prompt attached to a tool call.
type PermissionRequest struct {
	SessionID   acp.SessionId
	ToolCallID  acp.ToolCallId
	ToolCall    acp.RequestPermissionToolCall
	Options     []acp.PermissionOption
	RequestedAt time.Time
}

// State is a snapshot of one tool call.
type State struct {
	ID           acp.ToolCallId
	Title        string
	Kind         *acp.ToolKind
	Status       acp.ToolCallStatus
	Content      []acp.ToolCallContent
	Locations    []acp.ToolCallLocation
	RawInput     any
	RawOutput    any
	Permission   *PermissionRequest
	RegisteredAt time.Time
	UpdatedAt    time.Time

	statusBeforePermission acp.ToolCallStatus
}

// Active reports whether the call has not reached completed or failed.
func (s State) Active() bool {
	return !acpext.IsTerminalStatus(s.Status)
}

func (s State) clone() State {
	out := s
	out.Content = append([]acp.ToolCallContent(nil), s.Content...)
	out.Locations = append([]acp.ToolCallLocation(nil), s.Locations...)
	if s.Kind != nil {
		kind := *s.Kind
		out.Kind = &kind
	}
	if s.Permission != nil {
		permission := *s.Permission
		permission.Options = append([]acp.PermissionOption(nil), s.Permission.Options...)
		out.Permission = &permission
	}
	return out
}

// Event is published for every lifecycle change. Kind is one of the tool
// call event types.
type Event struct {
	Kind events.Type
	Call State
}

func (e Event) EventType() events.Type { return e.Kind }

// Registry holds the tool calls of the current turn. It is cleared by the
// prompt orchestrator at the start of each turn, never by itself.
type Registry struct {
	mu     sync.Mutex
	calls  map[acp.ToolCallId]*State
	order  []acp.ToolCallId
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		calls:  map[acp.ToolCallId]*State{},
		bus:    events.NewBus(logger),
		logger: logger,
		now:    time.Now,
	}
}

// Register inserts a tool call announced by the agent. A second announcement
// for a known id is merged like an update.
func (r *Registry) Register(call acp.SessionUpdateToolCall) State {
	update := acp.SessionToolCallUpdate{
		ToolCallId: call.ToolCallId,
		Content:    call.Content,
		Locations:  call.Locations,
		RawInput:   call.RawInput,
		RawOutput:  call.RawOutput,
	}
	if call.Title != "" {
		update.Title = &call.Title
	}
	if call.Kind != "" {
		update.Kind = &call.Kind
	}
	if call.Status != "" {
		update.Status = &call.Status
	}
	return r.apply(update)
}

// Update merges the fields present in update. An update for an unseen id
// registers the call; updates may arrive before the announcement.
func (r *Registry) Update(update acp.SessionToolCallUpdate) State {
	return r.apply(update)
}

func (r *Registry) apply(update acp.SessionToolCallUpdate) State {
	r.mu.Lock()
	now := r.now()
	existing, known := r.calls[update.ToolCallId]
	var emitted []Event
	if !known {
		state := &State{
			ID:           update.ToolCallId,
			Status:       acp.ToolCallStatusPending,
			Content:      []acp.ToolCallContent{},
			Locations:    []acp.ToolCallLocation{},
			RegisteredAt: now,
			UpdatedAt:    now,
		}
		merge(state, update)
		r.calls[update.ToolCallId] = state
		r.order = append(r.order, update.ToolCallId)
		snapshot := state.clone()
		emitted = append(emitted, Event{Kind: events.ToolCallRegistered, Call: snapshot})
		if kind, ok := terminalEvent(snapshot.Status); ok {
			emitted = append(emitted, Event{Kind: kind, Call: snapshot})
		}
	} else {
		previous := existing.Status
		merge(existing, update)
		existing.UpdatedAt = now
		snapshot := existing.clone()
		emitted = append(emitted, Event{Kind: events.ToolCallUpdated, Call: snapshot})
		if kind, ok := terminalEvent(snapshot.Status); ok && previous != snapshot.Status {
			emitted = append(emitted, Event{Kind: kind, Call: snapshot})
		}
	}
	result := r.calls[update.ToolCallId].clone()
	r.mu.Unlock()

	for _, event := range emitted {
		r.bus.Emit(event)
	}
	return result
}

// merge applies the present fields of update. Nil pointers, nil slices and
// null raw payloads leave the previous value in place.
func merge(state *State, update acp.SessionToolCallUpdate) {
	if update.Title != nil {
		state.Title = *update.Title
	}
	if update.Kind != nil {
		kind := *update.Kind
		state.Kind = &kind
	}
	if update.Status != nil {
		state.Status = *update.Status
		state.statusBeforePermission = ""
	}
	if update.Content != nil {
		state.Content = append([]acp.ToolCallContent(nil), update.Content...)
	}
	if update.Locations != nil {
		state.Locations = append([]acp.ToolCallLocation(nil), update.Locations...)
	}
	if update.RawInput != nil {
		state.RawInput = update.RawInput
	}
	if update.RawOutput != nil {
		state.RawOutput = update.RawOutput
	}
}

func terminalEvent(status acp.ToolCallStatus) (events.Type, bool) {
	switch status {
	case acp.ToolCallStatusCompleted:
		return events.ToolCallCompleted, true
	case acp.ToolCallStatusFailed:
		return events.ToolCallFailed, true
	}
	return "", false
}

// SetPermissionPending marks a tool call as waiting for a permission
// decision. Unknown or finished calls are logged and left alone.
func (r *Registry) SetPermissionPending(request PermissionRequest) bool {
	r.mu.Lock()
	state, ok := r.calls[request.ToolCallID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("permission request for unknown tool call", "tool_call", string(request.ToolCallID))
		return false
	}
	if acpext.IsTerminalStatus(state.Status) {
		r.mu.Unlock()
		r.logger.Warn("permission request for finished tool call", "tool_call", string(request.ToolCallID), "status", string(state.Status))
		return false
	}
	if request.RequestedAt.IsZero() {
		request.RequestedAt = r.now()
	}
	if state.Status != StatusPendingPermission {
		state.statusBeforePermission = state.Status
	}
	state.Status = StatusPendingPermission
	state.Permission = &request
	state.UpdatedAt = r.now()
	snapshot := state.clone()
	r.mu.Unlock()

	r.bus.Emit(Event{Kind: events.PermissionPending, Call: snapshot})
	return true
}

// ClearPermission drops the pending permission marker and restores the
// status the call had before the request, unless a real update already
// replaced it.
func (r *Registry) ClearPermission(id acp.ToolCallId) bool {
	r.mu.Lock()
	state, ok := r.calls[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("clearing permission for unknown tool call", "tool_call", string(id))
		return false
	}
	if state.Permission == nil && state.Status != StatusPendingPermission {
		r.mu.Unlock()
		return false
	}
	state.Permission = nil
	if state.Status == StatusPendingPermission {
		state.Status = state.statusBeforePermission
		if state.Status == "" {
			state.Status = acp.ToolCallStatusPending
		}
	}
	state.statusBeforePermission = ""
	state.UpdatedAt = r.now()
	snapshot := state.clone()
	r.mu.Unlock()

	r.bus.Emit(Event{Kind: events.ToolCallUpdated, Call: snapshot})
	return true
}

func (r *Registry) Get(id acp.ToolCallId) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.calls[id]
	if !ok {
		return State{}, false
	}
	return state.clone(), true
}

// All returns every tracked call in registration order.
func (r *Registry) All() []State {
	return r.filter(func(State) bool { return true })
}

// Active returns the calls whose status is neither completed nor failed.
func (r *Registry) Active() []State {
	return r.filter(State.Active)
}

func (r *Registry) PendingPermissions() []State {
	return r.filter(func(s State) bool { return s.Permission != nil })
}

func (r *Registry) filter(keep func(State) bool) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.order))
	for _, id := range r.order {
		state := r.calls[id]
		if keep(*state) {
			out = append(out, state.clone())
		}
	}
	return out
}

func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset forgets every tracked call.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = map[acp.ToolCallId]*State{}
	r.order = nil
}

func (r *Registry) On(t events.Type, listener events.Listener) events.Subscription {
	return r.bus.On(t, listener)
}

func (r *Registry) Off(sub events.Subscription) bool {
	return r.bus.Off(sub)
}

func (r *Registry) RemoveAllListeners() {
	r.bus.RemoveAll()
}
