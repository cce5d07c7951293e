package transport

import (
	"context"
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acpext"
)

// ClientConn implements AgentConn over an SDK connection. Methods the SDK
// types cover use its request and response types; the unstable session
// methods go out with the acpext shapes on the same connection.
type ClientConn struct {
	conn *acp.Connection
}

var _ AgentConn = (*ClientConn)(nil)

func NewClientConn(conn *acp.Connection) *ClientConn {
	return &ClientConn{conn: conn}
}

func call[T any](ctx context.Context, c *ClientConn, method string, params any) (T, error) {
	resp, err := acp.SendRequest[T](c.conn, ctx, method, params)
	if err != nil {
		var zero T
		return zero, err
	}
	return resp, nil
}

func (c *ClientConn) raw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return call[json.RawMessage](ctx, c, method, params)
}

func (c *ClientConn) Initialize(ctx context.Context, req acp.InitializeRequest) (acpext.InitializeResult, error) {
	raw, err := c.raw(ctx, acpext.AgentMethods.Initialize, req)
	if err != nil {
		return acpext.InitializeResult{}, err
	}
	return acpext.DecodeInitialize(raw)
}

func (c *ClientConn) Authenticate(ctx context.Context, req acp.AuthenticateRequest) error {
	_, err := c.raw(ctx, acpext.AgentMethods.Authenticate, req)
	return err
}

func (c *ClientConn) NewSession(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
	if req.McpServers == nil {
		req.McpServers = []acp.McpServer{}
	}
	raw, err := c.raw(ctx, acpext.AgentMethods.SessionNew, req)
	if err != nil {
		return acpext.NewSessionResult{}, err
	}
	return acpext.DecodeNewSession(raw)
}

func (c *ClientConn) LoadSession(ctx context.Context, req acp.LoadSessionRequest) (acpext.LoadSessionResult, error) {
	if req.McpServers == nil {
		req.McpServers = []acp.McpServer{}
	}
	raw, err := c.raw(ctx, acpext.AgentMethods.SessionLoad, req)
	if err != nil {
		return acpext.LoadSessionResult{}, err
	}
	return acpext.DecodeLoadSession(raw)
}

func (c *ClientConn) UnstableResumeSession(ctx context.Context, req acpext.ResumeSessionRequest) (acpext.ResumeSessionResponse, error) {
	return call[acpext.ResumeSessionResponse](ctx, c, acpext.AgentMethods.SessionResume, req)
}

func (c *ClientConn) UnstableForkSession(ctx context.Context, req acpext.ForkSessionRequest) (acpext.ForkSessionResponse, error) {
	return call[acpext.ForkSessionResponse](ctx, c, acpext.AgentMethods.SessionFork, req)
}

func (c *ClientConn) SetSessionConfigOption(ctx context.Context, req acpext.SetSessionConfigOptionRequest) (acpext.SetSessionConfigOptionResponse, error) {
	return call[acpext.SetSessionConfigOptionResponse](ctx, c, acpext.AgentMethods.SessionSetConfigOption, req)
}

func (c *ClientConn) SetSessionMode(ctx context.Context, req acp.SetSessionModeRequest) error {
	_, err := c.raw(ctx, acpext.AgentMethods.SessionSetMode, req)
	return err
}

func (c *ClientConn) UnstableSetSessionModel(ctx context.Context, req acp.SetSessionModelRequest) error {
	_, err := c.raw(ctx, acpext.AgentMethods.SessionSetModel, req)
	return err
}

func (c *ClientConn) UnstableListSessions(ctx context.Context, req acpext.ListSessionsRequest) (acpext.ListSessionsResponse, error) {
	return call[acpext.ListSessionsResponse](ctx, c, acpext.AgentMethods.SessionList, req)
}

func (c *ClientConn) Prompt(ctx context.Context, req acp.PromptRequest) (json.RawMessage, error) {
	raw, err := c.raw(ctx, acpext.AgentMethods.SessionPrompt, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", acpext.AgentMethods.SessionPrompt, err)
	}
	return raw, nil
}

func (c *ClientConn) Cancel(ctx context.Context, note acp.CancelNotification) error {
	return c.conn.SendNotification(ctx, acpext.AgentMethods.SessionCancel, note)
}
