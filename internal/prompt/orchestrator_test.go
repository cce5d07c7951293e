package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/capability"
	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/router"
	"github.com/egv/acp-host/internal/toolcall"
	"github.com/egv/acp-host/internal/transport"
	"github.com/egv/acp-host/internal/transport/transporttest"
)

type fixture struct {
	agent     *transporttest.Agent
	transport *transporttest.Transport
	router    *router.Router
	toolCalls *toolcall.Registry
	orch      *Orchestrator
}

func newFixture(agent *transporttest.Agent) *fixture {
	tr := transporttest.New(agent)
	rt := router.New(router.Options{})
	calls := toolcall.NewRegistry(nil)
	calls.Attach(rt)
	return &fixture{
		agent:     tr.Agent,
		transport: tr,
		router:    rt,
		toolCalls: calls,
		orch:      New(Options{Transport: tr, Router: rt, ToolCalls: calls}),
	}
}

func updateParams(sessionID acp.SessionId, update string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"sessionId":%q,"update":%s}`, sessionID, update))
}

func agentText(text string) string {
	return fmt.Sprintf(`{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":%q}}`, text)
}

func toolCallStart(id, title string) string {
	return fmt.Sprintf(`{"sessionUpdate":"tool_call","toolCallId":%q,"title":%q}`, id, title)
}

func TestSendPromptAccumulatesAndCompletes(t *testing.T) {
	var f *fixture
	f = newFixture(&transporttest.Agent{
		PromptFunc: func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
			f.orch.HandleSessionUpdate(updateParams(req.SessionId, agentText("Hello")))
			f.orch.HandleSessionUpdate(updateParams(req.SessionId, agentText(" there")))
			return json.RawMessage(`{"stopReason":"end_turn","usage":{"totalTokens":5,"inputTokens":2,"outputTokens":3}}`), nil
		},
	})

	var completed []Result
	f.orch.On(events.Complete, events.Handle(func(e CompleteEvent) { completed = append(completed, e.Result) }))

	result, err := f.orch.SendPrompt(context.Background(), "s1", []acp.ContentBlock{acp.TextBlock("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != acp.StopReasonEndTurn || result.Text != "Hello there" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 5 {
		t.Fatalf("expected usage, got %+v", result.Usage)
	}
	if len(completed) != 1 {
		t.Fatalf("expected one complete event, got %d", len(completed))
	}
	if f.orch.IsPrompting() {
		t.Fatalf("expected orchestrator to be idle")
	}
	if timeouts := f.transport.Timeouts(); len(timeouts) != 1 || timeouts[0] != transport.NoTimeout {
		t.Fatalf("expected prompt to run without timeout, got %v", timeouts)
	}
}

func TestSendPromptRejectsOverlappingTurn(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := newFixture(&transporttest.Agent{
		PromptFunc: func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
			close(started)
			<-release
			return json.RawMessage(`{"stopReason":"end_turn"}`), nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := f.orch.SendPrompt(context.Background(), "s1", []acp.ContentBlock{acp.TextBlock("first")}); err != nil {
			t.Errorf("first prompt failed: %v", err)
		}
	}()
	<-started

	if !f.orch.IsPrompting() {
		t.Fatalf("expected a turn in progress")
	}
	_, err := f.orch.SendPrompt(context.Background(), "s1", []acp.ContentBlock{acp.TextBlock("second")})
	if !errors.Is(err, acperr.ErrTurnInProgress) {
		t.Fatalf("expected ErrTurnInProgress, got %v", err)
	}
	if got := f.agent.CallCount(acpext.AgentMethods.SessionPrompt); got != 1 {
		t.Fatalf("expected one transport call, got %d", got)
	}

	close(release)
	wg.Wait()

	if _, err := f.orch.SendPrompt(context.Background(), "s1", []acp.ContentBlock{acp.TextBlock("third")}); err != nil {
		t.Fatalf("expected a new turn after the first finished, got %v", err)
	}
}

func TestSendPromptResetsTurnState(t *testing.T) {
	f := newFixture(&transporttest.Agent{})
	f.orch.HandleSessionUpdate(updateParams("s1", agentText("stale")))
	f.orch.HandleSessionUpdate(updateParams("s1", toolCallStart("old", "x")))
	if f.toolCalls.Size() != 1 {
		t.Fatalf("expected a tracked tool call before the turn")
	}

	result, err := f.orch.SendPrompt(context.Background(), "s1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "" || f.toolCalls.Size() != 0 {
		t.Fatalf("expected state cleared at turn start, got text %q and %d calls", result.Text, f.toolCalls.Size())
	}
	if f.router.ActiveSession() != "s1" {
		t.Fatalf("expected active session s1")
	}
}

func TestSendPromptFallsBackToRawFields(t *testing.T) {
	f := newFixture(&transporttest.Agent{
		PromptFunc: func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
			return json.RawMessage(`{"stopReason":"agent_specific","usage":{"totalTokens":9},"extra":true}`), nil
		},
	})

	result, err := f.orch.SendPrompt(context.Background(), "s1", nil)
	if err != nil {
		t.Fatalf("expected fallback extraction, got %v", err)
	}
	if result.StopReason != "agent_specific" {
		t.Fatalf("expected raw stop reason, got %q", result.StopReason)
	}
	if result.Usage == nil || result.Usage.TotalTokens != 9 {
		t.Fatalf("expected raw usage, got %+v", result.Usage)
	}
}

func TestSendPromptErrorsEmitAndReturnToIdle(t *testing.T) {
	boom := errors.New("connection reset")
	f := newFixture(&transporttest.Agent{
		PromptFunc: func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
			return nil, boom
		},
	})
	var failures []error
	f.orch.On(events.Error, events.Handle(func(e ErrorEvent) { failures = append(failures, e.Err) }))

	_, err := f.orch.SendPrompt(context.Background(), "s1", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(failures) != 1 || !errors.Is(failures[0], boom) {
		t.Fatalf("expected one error event, got %v", failures)
	}
	if f.orch.IsPrompting() {
		t.Fatalf("expected idle after failure")
	}

	f.agent.PromptFunc = func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"usage":{"totalTokens":1}}`), nil
	}
	if _, err := f.orch.SendPrompt(context.Background(), "s1", nil); !errors.Is(err, ErrMissingStopReason) {
		t.Fatalf("expected missing stop reason error, got %v", err)
	}
}

func imageBlock(t *testing.T) acp.ContentBlock {
	t.Helper()
	var block acp.ContentBlock
	if err := json.Unmarshal([]byte(`{"type":"image","data":"AA==","mimeType":"image/png"}`), &block); err != nil {
		t.Fatalf("decode image block: %v", err)
	}
	return block
}

func TestSendPromptChecksContentCapabilities(t *testing.T) {
	f := newFixture(&transporttest.Agent{})
	var resp acpext.InitializeResult
	resp.ProtocolVersion = acp.ProtocolVersionNumber
	conn := capability.NewConnection(resp, acpext.FullClientCapabilities())
	f.orch = New(Options{Transport: f.transport, Router: f.router, ToolCalls: f.toolCalls, Connection: func() *capability.AgentConnection { return conn }})

	_, err := f.orch.SendPrompt(context.Background(), "s1", []acp.ContentBlock{imageBlock(t)})
	if !acperr.IsCapability(err) {
		t.Fatalf("expected capability error, got %v", err)
	}
	if f.agent.CallCount(acpext.AgentMethods.SessionPrompt) != 0 {
		t.Fatalf("expected no prompt call")
	}
}

func TestCancelPromptIsFireAndForget(t *testing.T) {
	var cancelled []acp.SessionId
	f := newFixture(&transporttest.Agent{
		CancelFunc: func(ctx context.Context, note acp.CancelNotification) error {
			cancelled = append(cancelled, note.SessionId)
			return nil
		},
	})

	if err := f.orch.CancelPrompt(context.Background(), "s1"); err != nil {
		t.Fatalf("expected cancel while idle to succeed, got %v", err)
	}
	if len(cancelled) != 1 || cancelled[0] != "s1" {
		t.Fatalf("expected cancel notification for s1, got %v", cancelled)
	}
}

func TestCancelledTurnResolvesNormally(t *testing.T) {
	cancel := make(chan struct{})
	f := newFixture(&transporttest.Agent{
		PromptFunc: func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
			select {
			case <-cancel:
				return json.RawMessage(`{"stopReason":"cancelled"}`), nil
			case <-time.After(5 * time.Second):
				return json.RawMessage(`{"stopReason":"end_turn"}`), nil
			}
		},
		CancelFunc: func(ctx context.Context, note acp.CancelNotification) error {
			close(cancel)
			return nil
		},
	})

	done := make(chan Result, 1)
	go func() {
		result, err := f.orch.SendPrompt(context.Background(), "s1", nil)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- result
	}()
	for !f.orch.IsPrompting() {
		time.Sleep(time.Millisecond)
	}
	if err := f.orch.CancelPrompt(context.Background(), "s1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result := <-done; result.StopReason != acp.StopReasonCancelled {
		t.Fatalf("expected cancelled stop reason, got %q", result.StopReason)
	}
}

func TestListenerRoutingAndRemoveAll(t *testing.T) {
	f := newFixture(&transporttest.Agent{})
	chunks, registered, completes := 0, 0, 0
	sub := f.orch.On(events.AgentMessageChunk, func(events.Event) { chunks++ })
	f.orch.On(events.ToolCallRegistered, func(events.Event) { registered++ })
	f.orch.On(events.Complete, func(events.Event) { completes++ })

	if f.router.ListenerCount(events.AgentMessageChunk) != 1 {
		t.Fatalf("expected chunk listener on the router")
	}

	f.orch.HandleSessionUpdate(updateParams("s1", agentText("a")))
	f.orch.HandleSessionUpdate(updateParams("s1", toolCallStart("t1", "x")))
	if chunks != 1 || registered != 1 {
		t.Fatalf("expected chunk and registered events, got %d / %d", chunks, registered)
	}

	if !f.orch.Off(sub) {
		t.Fatalf("expected Off to remove the chunk listener")
	}
	f.orch.RemoveAllListeners()

	f.orch.HandleSessionUpdate(updateParams("s1", agentText("b")))
	f.orch.HandleSessionUpdate(updateParams("s1", toolCallStart("t2", "y")))
	if _, err := f.orch.SendPrompt(context.Background(), "s1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != 1 || registered != 1 || completes != 1 {
		t.Fatalf("expected no deliveries after RemoveAllListeners, got %d / %d / %d", chunks, registered, completes)
	}
	if f.toolCalls.Size() != 0 {
		t.Fatalf("expected the turn to reset tool calls")
	}

	f.orch.HandleSessionUpdate(updateParams("s1", toolCallStart("t3", "z")))
	if f.toolCalls.Size() != 1 {
		t.Fatalf("expected registry wiring to survive RemoveAllListeners")
	}
}
