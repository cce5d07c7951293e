// Package prompt drives prompt turns: one request in flight at a time, with
// the router and tool call registry reset before the turn starts.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/capability"
	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/router"
	"github.com/egv/acp-host/internal/schema"
	"github.com/egv/acp-host/internal/toolcall"
	"github.com/egv/acp-host/internal/transport"
)

// ErrMissingStopReason is returned when the agent answers a prompt without a
// usable stop reason.
var ErrMissingStopReason = errors.New("prompt response has no stop reason")

// Result is the outcome of one turn.
type Result struct {
	SessionID  acp.SessionId
	StopReason acp.StopReason
	Usage      *acpext.Usage
	// Text is the agent message text accumulated during the turn.
	Text string
}

type CompleteEvent struct {
	Result Result
}

func (CompleteEvent) EventType() events.Type { return events.Complete }

type ErrorEvent struct {
	SessionID acp.SessionId
	Err       error
}

func (ErrorEvent) EventType() events.Type { return events.Error }

type Options struct {
	Transport transport.Transport
	Router    *router.Router
	ToolCalls *toolcall.Registry
	Validator *schema.Validator
	// Connection, when set, enables the prompt content capability check.
	Connection func() *capability.AgentConnection
	Logger     *slog.Logger
}

type Orchestrator struct {
	transport  transport.Transport
	router     *router.Router
	toolCalls  *toolcall.Registry
	validator  *schema.Validator
	connection func() *capability.AgentConnection
	logger     *slog.Logger

	inFlight atomic.Bool
	bus      *events.Bus

	subsMu sync.Mutex
	subs   map[events.Subscription]struct{}
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rt := opts.Router
	if rt == nil {
		rt = router.New(router.Options{Logger: logger, Validator: opts.Validator})
	}
	validator := opts.Validator
	if validator == nil {
		validator = schema.Default()
	}
	return &Orchestrator{
		transport:  opts.Transport,
		router:     rt,
		toolCalls:  opts.ToolCalls,
		validator:  validator,
		connection: opts.Connection,
		logger:     logger,
		bus:        events.NewBus(logger),
		subs:       map[events.Subscription]struct{}{},
	}
}

// SendPrompt runs one turn and blocks until the agent answers. A call made
// while another turn is running fails with acperr.ErrTurnInProgress and does
// not reach the agent.
func (o *Orchestrator) SendPrompt(ctx context.Context, sessionID acp.SessionId, blocks []acp.ContentBlock) (Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return Result{}, acperr.ErrTurnInProgress
	}
	result, err := o.runTurn(ctx, sessionID, blocks)
	o.inFlight.Store(false)

	if err != nil {
		o.logger.Error("prompt turn failed", "session", string(sessionID), "error", err)
		o.bus.Emit(ErrorEvent{SessionID: sessionID, Err: err})
		return Result{}, err
	}
	o.logger.Info("prompt turn complete", "session", string(sessionID), "stop_reason", string(result.StopReason))
	o.bus.Emit(CompleteEvent{Result: result})
	return result, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, sessionID acp.SessionId, blocks []acp.ContentBlock) (result Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("prompt turn panicked: %v", recovered)
		}
	}()

	if o.connection != nil {
		if err := capability.CheckPrompt(o.connection(), blocks); err != nil {
			return Result{}, err
		}
	}

	var reset func()
	if o.toolCalls != nil {
		reset = o.toolCalls.Reset
	}
	o.router.BeginTurn(sessionID, reset)

	var raw json.RawMessage
	err = o.transport.Request(ctx, transport.NoTimeout, func(ctx context.Context, conn transport.AgentConn) error {
		var callErr error
		raw, callErr = conn.Prompt(ctx, acp.PromptRequest{SessionId: sessionID, Prompt: blocks})
		return callErr
	})
	if err != nil {
		return Result{}, err
	}

	stopReason, usage, err := o.extract(raw)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SessionID:  sessionID,
		StopReason: stopReason,
		Usage:      usage,
		Text:       o.router.AgentMessages().FullText(),
	}, nil
}

// extract reads stopReason and usage strictly, falling back to the raw
// fields when the response does not match the schema.
func (o *Orchestrator) extract(raw json.RawMessage) (acp.StopReason, *acpext.Usage, error) {
	validationErr := o.validator.ValidatePromptResponse(raw)
	if validationErr == nil {
		var resp struct {
			StopReason acp.StopReason `json:"stopReason"`
			Usage      *acpext.Usage  `json:"usage,omitempty"`
		}
		if err := json.Unmarshal(raw, &resp); err == nil {
			return resp.StopReason, resp.Usage, nil
		}
	}
	o.logger.Warn("prompt response failed strict validation, reading raw fields", "error", validationErr)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return "", nil, fmt.Errorf("%w: %s", ErrMissingStopReason, truncate(raw))
	}
	var stopReason string
	if err := json.Unmarshal(fields["stopReason"], &stopReason); err != nil || stopReason == "" {
		return "", nil, fmt.Errorf("%w: %s", ErrMissingStopReason, truncate(raw))
	}
	var usage *acpext.Usage
	if rawUsage, ok := fields["usage"]; ok {
		var decoded acpext.Usage
		if err := json.Unmarshal(rawUsage, &decoded); err == nil {
			usage = &decoded
		}
	}
	return acp.StopReason(stopReason), usage, nil
}

func truncate(raw json.RawMessage) string {
	const max = 200
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}

// CancelPrompt asks the agent to stop the current turn of sessionID. It does
// not wait for the turn to end; the pending SendPrompt resolves with the
// cancelled stop reason.
func (o *Orchestrator) CancelPrompt(ctx context.Context, sessionID acp.SessionId) error {
	conn := o.transport.Connection()
	if conn == nil {
		return errors.New("cancel prompt: no agent connection")
	}
	if err := conn.Cancel(ctx, acp.CancelNotification{SessionId: sessionID}); err != nil {
		return fmt.Errorf("cancel prompt: %w", err)
	}
	return nil
}

// HandleSessionUpdate is the ingress for session/update notification params.
func (o *Orchestrator) HandleSessionUpdate(raw json.RawMessage) {
	o.router.ProcessNotification(raw)
}

func (o *Orchestrator) IsPrompting() bool {
	return o.inFlight.Load()
}

func (o *Orchestrator) Router() *router.Router { return o.router }

func (o *Orchestrator) ToolCalls() *toolcall.Registry { return o.toolCalls }

// On subscribes to any event type. Update events come from the router, tool
// call lifecycle events from the registry, and complete/error from the
// orchestrator itself.
func (o *Orchestrator) On(t events.Type, listener events.Listener) events.Subscription {
	var sub events.Subscription
	switch {
	case events.IsUpdate(t):
		sub = o.router.On(t, listener)
	case isToolCallType(t) && o.toolCalls != nil:
		sub = o.toolCalls.On(t, listener)
	default:
		sub = o.bus.On(t, listener)
	}
	o.subsMu.Lock()
	o.subs[sub] = struct{}{}
	o.subsMu.Unlock()
	return sub
}

func (o *Orchestrator) Off(sub events.Subscription) bool {
	o.subsMu.Lock()
	delete(o.subs, sub)
	o.subsMu.Unlock()
	return o.off(sub)
}

func (o *Orchestrator) off(sub events.Subscription) bool {
	switch {
	case events.IsUpdate(sub.Type):
		return o.router.Off(sub)
	case isToolCallType(sub.Type) && o.toolCalls != nil:
		return o.toolCalls.Off(sub)
	default:
		return o.bus.Off(sub)
	}
}

// RemoveAllListeners drops every listener added through On. Internal wiring
// between the router and the tool call registry is kept.
func (o *Orchestrator) RemoveAllListeners() {
	o.subsMu.Lock()
	subs := o.subs
	o.subs = map[events.Subscription]struct{}{}
	o.subsMu.Unlock()
	for sub := range subs {
		o.off(sub)
	}
	o.bus.RemoveAll()
}

func isToolCallType(t events.Type) bool {
	for _, candidate := range events.ToolCallTypes() {
		if candidate == t {
			return true
		}
	}
	return false
}
