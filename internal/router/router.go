// Package router is the session/update sink: it validates notifications,
// filters them by active session, feeds the per-turn accumulators and
// re-emits typed events.
package router

import (
	"encoding/json"
	"log/slog"
	"sync"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/schema"
)

type Options struct {
	Logger    *slog.Logger
	Validator *schema.Validator
}

// Router owns the three message accumulators of the current turn.
//
// Notification processing and turn resets are serialized, so a notification
// is either applied entirely to the previous turn or entirely to the new
// one. Listeners run while that lock is held and must not start a turn.
type Router struct {
	bus       *events.Bus
	validator *schema.Validator
	logger    *slog.Logger

	turnMu sync.Mutex

	activeMu sync.RWMutex
	active   acp.SessionId

	agentMessages *Accumulator
	agentThoughts *Accumulator
	userMessages  *Accumulator
}

func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	validator := opts.Validator
	if validator == nil {
		validator = schema.Default()
	}
	return &Router{
		bus:           events.NewBus(logger),
		validator:     validator,
		logger:        logger,
		agentMessages: NewAccumulator(),
		agentThoughts: NewAccumulator(),
		userMessages:  NewAccumulator(),
	}
}

// ProcessNotification validates and routes the params of one session/update
// notification. Malformed input is logged and dropped.
func (r *Router) ProcessNotification(raw json.RawMessage) {
	if err := r.validator.ValidateNotification(raw); err != nil {
		r.logger.Warn("dropping invalid session update", "error", err)
		return
	}
	var note acp.SessionNotification
	if err := json.Unmarshal(raw, &note); err != nil {
		r.logger.Warn("dropping undecodable session update", "error", err)
		return
	}
	r.Route(note)
}

// Route dispatches an already decoded notification.
func (r *Router) Route(note acp.SessionNotification) {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()

	if active := r.ActiveSession(); active != "" && note.SessionId != active {
		r.logger.Debug("dropping update for inactive session", "session", string(note.SessionId), "active", string(active))
		return
	}

	update := note.Update
	sessionID := note.SessionId
	switch {
	case update.AgentMessageChunk != nil:
		r.appendChunk(r.agentMessages, events.AgentMessageChunk, sessionID, update.AgentMessageChunk.Content)
	case update.AgentThoughtChunk != nil:
		r.appendChunk(r.agentThoughts, events.AgentThoughtChunk, sessionID, update.AgentThoughtChunk.Content)
	case update.UserMessageChunk != nil:
		r.appendChunk(r.userMessages, events.UserMessageChunk, sessionID, update.UserMessageChunk.Content)
	case update.ToolCall != nil:
		r.bus.Emit(events.ToolCallEvent{SessionID: sessionID, Call: *update.ToolCall})
	case update.ToolCallUpdate != nil:
		r.bus.Emit(events.ToolCallUpdateEvent{SessionID: sessionID, Update: *update.ToolCallUpdate})
	case update.Plan != nil:
		r.bus.Emit(events.PlanEvent{SessionID: sessionID, Plan: *update.Plan})
	case update.AvailableCommandsUpdate != nil:
		r.bus.Emit(events.AvailableCommandsEvent{SessionID: sessionID, Commands: update.AvailableCommandsUpdate.AvailableCommands})
	case update.CurrentModeUpdate != nil:
		r.bus.Emit(events.CurrentModeEvent{SessionID: sessionID, ModeID: update.CurrentModeUpdate.CurrentModeId})
	default:
		r.logger.Warn("dropping session update without a variant", "session", string(sessionID))
	}
}

func (r *Router) appendChunk(acc *Accumulator, kind events.Type, sessionID acp.SessionId, content acp.ContentBlock) {
	acc.AddChunk(content)
	r.bus.Emit(events.ChunkEvent{Kind: kind, SessionID: sessionID, Content: content})
}

// ResetForNewTurn clears all three accumulators.
func (r *Router) ResetForNewTurn() {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	r.resetLocked()
}

// BeginTurn makes sessionID the active session, clears the accumulators and
// runs hook, all before any further notification is routed.
func (r *Router) BeginTurn(sessionID acp.SessionId, hook func()) {
	r.turnMu.Lock()
	defer r.turnMu.Unlock()
	r.SetActiveSession(sessionID)
	r.resetLocked()
	if hook != nil {
		hook()
	}
}

func (r *Router) resetLocked() {
	r.agentMessages.Reset()
	r.agentThoughts.Reset()
	r.userMessages.Reset()
}

// SetActiveSession filters routing to sessionID. The empty id disables
// filtering.
func (r *Router) SetActiveSession(sessionID acp.SessionId) {
	r.activeMu.Lock()
	r.active = sessionID
	r.activeMu.Unlock()
}

func (r *Router) ActiveSession() acp.SessionId {
	r.activeMu.RLock()
	defer r.activeMu.RUnlock()
	return r.active
}

func (r *Router) AgentMessages() *Accumulator { return r.agentMessages }
func (r *Router) AgentThoughts() *Accumulator { return r.agentThoughts }
func (r *Router) UserMessages() *Accumulator  { return r.userMessages }

func (r *Router) On(t events.Type, listener events.Listener) events.Subscription {
	return r.bus.On(t, listener)
}

func (r *Router) Off(sub events.Subscription) bool {
	return r.bus.Off(sub)
}

func (r *Router) RemoveAllListeners() {
	r.bus.RemoveAll()
}

func (r *Router) ListenerCount(t events.Type) int {
	return r.bus.ListenerCount(t)
}
