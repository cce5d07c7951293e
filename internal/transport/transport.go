// Package transport exposes the agent connection to the client core: a
// typed handle over the SDK's JSON-RPC connection plus a facade that applies
// per-request timeouts.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acpext"
)

const (
	// NoTimeout lets a request run until the agent answers or ctx ends.
	NoTimeout time.Duration = 0
	// DefaultTimeout selects the facade's configured request timeout.
	DefaultTimeout time.Duration = -1
)

// AgentConn is the live handle for the methods the client calls on the agent.
type AgentConn interface {
	Initialize(ctx context.Context, req acp.InitializeRequest) (acpext.InitializeResult, error)
	Authenticate(ctx context.Context, req acp.AuthenticateRequest) error
	NewSession(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error)
	LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acpext.LoadSessionResult, error)
	UnstableResumeSession(ctx context.Context, req acpext.ResumeSessionRequest) (acpext.ResumeSessionResponse, error)
	UnstableForkSession(ctx context.Context, req acpext.ForkSessionRequest) (acpext.ForkSessionResponse, error)
	SetSessionConfigOption(ctx context.Context, req acpext.SetSessionConfigOptionRequest) (acpext.SetSessionConfigOptionResponse, error)
	SetSessionMode(ctx context.Context, req acp.SetSessionModeRequest) error
	UnstableSetSessionModel(ctx context.Context, req acp.SetSessionModelRequest) error
	UnstableListSessions(ctx context.Context, req acpext.ListSessionsRequest) (acpext.ListSessionsResponse, error)
	// Prompt returns the undecoded result so callers can validate it strictly
	// and still fall back to reading fields from the raw payload.
	Prompt(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error)
	Cancel(ctx context.Context, note acp.CancelNotification) error
}

// Transport issues calls against the agent with a timeout policy.
type Transport interface {
	Request(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, conn AgentConn) error) error
	Connection() AgentConn
}

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Facade is the default Transport over a single AgentConn.
type Facade struct {
	conn           AgentConn
	defaultTimeout time.Duration
}

func NewFacade(conn AgentConn, defaultTimeout time.Duration) *Facade {
	if defaultTimeout < 0 {
		defaultTimeout = NoTimeout
	}
	return &Facade{conn: conn, defaultTimeout: defaultTimeout}
}

func (f *Facade) Connection() AgentConn {
	return f.conn
}

func (f *Facade) Request(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, conn AgentConn) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout == DefaultTimeout {
		timeout = f.defaultTimeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(callCtx, f.conn)
	if err != nil && timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &TimeoutError{Timeout: timeout}
	}
	return err
}
