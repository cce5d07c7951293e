// Package transporttest provides an in-memory agent for tests of code that
// talks to a transport.Transport.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/transport"
)

// Agent is a programmable transport.AgentConn. Unset hooks succeed with zero
// values; Prompt defaults to an end_turn response.
type Agent struct {
	InitializeFunc             func(ctx context.Context, req acp.InitializeRequest) (acpext.InitializeResult, error)
	AuthenticateFunc           func(ctx context.Context, req acp.AuthenticateRequest) error
	NewSessionFunc             func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error)
	LoadSessionFunc            func(ctx context.Context, req acp.LoadSessionRequest) (acpext.LoadSessionResult, error)
	ResumeSessionFunc          func(ctx context.Context, req acpext.ResumeSessionRequest) (acpext.ResumeSessionResponse, error)
	ForkSessionFunc            func(ctx context.Context, req acpext.ForkSessionRequest) (acpext.ForkSessionResponse, error)
	SetSessionConfigOptionFunc func(ctx context.Context, req acpext.SetSessionConfigOptionRequest) (acpext.SetSessionConfigOptionResponse, error)
	SetSessionModeFunc         func(ctx context.Context, req acp.SetSessionModeRequest) error
	SetSessionModelFunc        func(ctx context.Context, req acp.SetSessionModelRequest) error
	ListSessionsFunc           func(ctx context.Context, req acpext.ListSessionsRequest) (acpext.ListSessionsResponse, error)
	PromptFunc                 func(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error)
	CancelFunc                 func(ctx context.Context, note acp.CancelNotification) error

	mu    sync.Mutex
	calls []string
}

var _ transport.AgentConn = (*Agent)(nil)

func (a *Agent) record(method string) {
	a.mu.Lock()
	a.calls = append(a.calls, method)
	a.mu.Unlock()
}

// Calls returns the invoked method names in order.
func (a *Agent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *Agent) CallCount(method string) int {
	count := 0
	for _, call := range a.Calls() {
		if call == method {
			count++
		}
	}
	return count
}

func (a *Agent) Initialize(ctx context.Context, req acp.InitializeRequest) (acpext.InitializeResult, error) {
	a.record(acpext.AgentMethods.Initialize)
	if a.InitializeFunc != nil {
		return a.InitializeFunc(ctx, req)
	}
	var resp acpext.InitializeResult
	resp.ProtocolVersion = acp.ProtocolVersionNumber
	return resp, nil
}

func (a *Agent) Authenticate(ctx context.Context, req acp.AuthenticateRequest) error {
	a.record(acpext.AgentMethods.Authenticate)
	if a.AuthenticateFunc != nil {
		return a.AuthenticateFunc(ctx, req)
	}
	return nil
}

func (a *Agent) NewSession(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
	a.record(acpext.AgentMethods.SessionNew)
	if a.NewSessionFunc != nil {
		return a.NewSessionFunc(ctx, req)
	}
	return acpext.NewSessionResult{}, nil
}

func (a *Agent) LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acpext.LoadSessionResult, error) {
	a.record(acpext.AgentMethods.SessionLoad)
	if a.LoadSessionFunc != nil {
		return a.LoadSessionFunc(ctx, req)
	}
	return acpext.LoadSessionResult{}, nil
}

func (a *Agent) UnstableResumeSession(ctx context.Context, req acpext.ResumeSessionRequest) (acpext.ResumeSessionResponse, error) {
	a.record(acpext.AgentMethods.SessionResume)
	if a.ResumeSessionFunc != nil {
		return a.ResumeSessionFunc(ctx, req)
	}
	return acpext.ResumeSessionResponse{}, nil
}

func (a *Agent) UnstableForkSession(ctx context.Context, req acpext.ForkSessionRequest) (acpext.ForkSessionResponse, error) {
	a.record(acpext.AgentMethods.SessionFork)
	if a.ForkSessionFunc != nil {
		return a.ForkSessionFunc(ctx, req)
	}
	return acpext.ForkSessionResponse{}, nil
}

func (a *Agent) SetSessionConfigOption(ctx context.Context, req acpext.SetSessionConfigOptionRequest) (acpext.SetSessionConfigOptionResponse, error) {
	a.record(acpext.AgentMethods.SessionSetConfigOption)
	if a.SetSessionConfigOptionFunc != nil {
		return a.SetSessionConfigOptionFunc(ctx, req)
	}
	return acpext.SetSessionConfigOptionResponse{}, nil
}

func (a *Agent) SetSessionMode(ctx context.Context, req acp.SetSessionModeRequest) error {
	a.record(acpext.AgentMethods.SessionSetMode)
	if a.SetSessionModeFunc != nil {
		return a.SetSessionModeFunc(ctx, req)
	}
	return nil
}

func (a *Agent) UnstableSetSessionModel(ctx context.Context, req acp.SetSessionModelRequest) error {
	a.record(acpext.AgentMethods.SessionSetModel)
	if a.SetSessionModelFunc != nil {
		return a.SetSessionModelFunc(ctx, req)
	}
	return nil
}

func (a *Agent) UnstableListSessions(ctx context.Context, req acpext.ListSessionsRequest) (acpext.ListSessionsResponse, error) {
	a.record(acpext.AgentMethods.SessionList)
	if a.ListSessionsFunc != nil {
		return a.ListSessionsFunc(ctx, req)
	}
	return acpext.ListSessionsResponse{}, nil
}

func (a *Agent) Prompt(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
	a.record(acpext.AgentMethods.SessionPrompt)
	if a.PromptFunc != nil {
		return a.PromptFunc(ctx, req)
	}
	return json.RawMessage(`{"stopReason":"end_turn"}`), nil
}

func (a *Agent) Cancel(ctx context.Context, note acp.CancelNotification) error {
	a.record(acpext.AgentMethods.SessionCancel)
	if a.CancelFunc != nil {
		return a.CancelFunc(ctx, note)
	}
	return nil
}

// Transport runs every request directly against Agent and records the
// timeout each request asked for.
type Transport struct {
	Agent *Agent

	mu       sync.Mutex
	timeouts []time.Duration
}

var _ transport.Transport = (*Transport)(nil)

func New(agent *Agent) *Transport {
	if agent == nil {
		agent = &Agent{}
	}
	return &Transport{Agent: agent}
}

func (t *Transport) Request(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, conn transport.AgentConn) error) error {
	t.mu.Lock()
	t.timeouts = append(t.timeouts, timeout)
	t.mu.Unlock()
	return fn(ctx, t.Agent)
}

func (t *Transport) Connection() transport.AgentConn {
	return t.Agent
}

// Timeouts returns the timeout of every request in order.
func (t *Transport) Timeouts() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.timeouts...)
}
