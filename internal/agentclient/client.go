// Package agentclient owns one connection to an ACP agent and every
// per-connection component built on top of it.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/capability"
	"github.com/egv/acp-host/internal/client"
	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/files"
	"github.com/egv/acp-host/internal/jsonrpc"
	"github.com/egv/acp-host/internal/logging"
	"github.com/egv/acp-host/internal/prompt"
	"github.com/egv/acp-host/internal/router"
	"github.com/egv/acp-host/internal/schema"
	"github.com/egv/acp-host/internal/session"
	"github.com/egv/acp-host/internal/terminal"
	"github.com/egv/acp-host/internal/toolcall"
	"github.com/egv/acp-host/internal/transport"
)

const (
	DefaultRequestTimeout    = 60 * time.Second
	DefaultInitializeTimeout = 30 * time.Second
)

var ErrNoActiveSession = errors.New("no active session")

type Options struct {
	// ClientCapabilities defaults to full file system and terminal support.
	ClientCapabilities *acp.ClientCapabilities
	ClientInfo         *acp.Implementation

	RequestTimeout    time.Duration
	InitializeTimeout time.Duration

	Permissions client.PermissionPolicy
	// Authenticator overrides the default authenticate-method upgrade.
	Authenticator       capability.Authenticator
	PreferredAuthMethod acp.AuthMethodId

	OutputByteLimit int
	TranscriptDir   string
	AuditLogPath    string
	TurnLogPath     string

	Validator *schema.Validator
	Logger    *slog.Logger
}

// Client is a live agent connection. Components are per-instance; two
// clients never share state.
type Client struct {
	rwc       io.ReadWriteCloser
	rpc       *acp.Connection
	transport *transport.Facade
	logger    *slog.Logger
	turnLog   string

	sessions     *session.Registry
	toolCalls    *toolcall.Registry
	router       *router.Router
	orchestrator *prompt.Orchestrator
	terminals    *terminal.Registry
	files        *files.Handler

	detach []func()
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Connect starts the JSON-RPC connection over rwc and performs the
// initialize handshake. rwc is closed by Close, or right away when the
// handshake fails.
func Connect(ctx context.Context, rwc io.ReadWriteCloser, opts Options) (*Client, error) {
	logger := logging.OrDiscard(opts.Logger)
	advertised := acpext.FullClientCapabilities()
	if opts.ClientCapabilities != nil {
		advertised = *opts.ClientCapabilities
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}
	initTimeout := opts.InitializeTimeout
	if initTimeout == 0 {
		initTimeout = DefaultInitializeTimeout
	}
	validator := opts.Validator
	if validator == nil {
		validator = schema.Default()
	}

	c := &Client{
		rwc:     rwc,
		logger:  logger,
		turnLog: opts.TurnLogPath,
		done:    make(chan struct{}),
	}
	c.router = router.New(router.Options{Logger: logger, Validator: validator})
	c.toolCalls = toolcall.NewRegistry(logger)
	c.files = files.NewHandler(logger)
	var transcripts *logging.CommandLogger
	if opts.TranscriptDir != "" {
		transcripts = logging.NewCommandLogger(opts.TranscriptDir)
	}
	c.terminals = terminal.NewRegistry(terminal.Options{
		DefaultOutputByteLimit: opts.OutputByteLimit,
		Transcripts:            transcripts,
		Logger:                 logger,
	})

	// The dispatcher needs the orchestrator, which needs the connection,
	// and the connection reads from rwc as soon as it exists.
	var dispatcher atomic.Pointer[client.Dispatcher]
	c.rpc = acp.NewConnection(func(ctx context.Context, method string, params json.RawMessage) (any, *acp.RequestError) {
		d := dispatcher.Load()
		if d == nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeInternalError, "client is still starting", nil)
		}
		return d.Handle(ctx, method, params)
	}, rwc, rwc)
	c.transport = transport.NewFacade(transport.NewClientConn(c.rpc), requestTimeout)
	c.orchestrator = prompt.New(prompt.Options{
		Transport:  c.transport,
		Router:     c.router,
		ToolCalls:  c.toolCalls,
		Validator:  validator,
		Connection: c.Connection,
		Logger:     logger,
	})
	dispatcher.Store(client.NewDispatcher(client.Options{
		Updates:      c.orchestrator,
		ToolCalls:    c.toolCalls,
		Files:        c.files,
		Terminals:    c.terminals,
		Permissions:  opts.Permissions,
		Capabilities: advertised,
		Audit:        logging.NewAuditLog(opts.AuditLogPath),
		Logger:       logger,
	}))
	go func() {
		<-c.rpc.Done()
		close(c.done)
	}()

	var initResp acpext.InitializeResult
	err := c.transport.Request(ctx, initTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		var callErr error
		initResp, callErr = agent.Initialize(ctx, acp.InitializeRequest{
			ProtocolVersion:    acp.ProtocolVersionNumber,
			ClientCapabilities: advertised,
			ClientInfo:         opts.ClientInfo,
		})
		return callErr
	})
	if err != nil {
		_ = c.shutdown()
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	conn := capability.NewConnection(initResp, advertised)
	logger.Info("agent initialized", "protocol_version", conn.ProtocolVersion, "auth_state", string(conn.AuthState), "agent", agentName(conn))

	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator = capability.MethodAuthenticator{Transport: c.transport, Preferred: opts.PreferredAuthMethod}
	}
	c.sessions = session.NewRegistry(session.Options{
		Transport:     c.transport,
		Connection:    conn,
		Authenticator: authenticator,
		Logger:        logger,
	})

	c.detach = append(c.detach, c.toolCalls.Attach(c.router))
	modeSub := c.router.On(events.CurrentMode, events.Handle(func(e events.CurrentModeEvent) {
		c.sessions.ApplyModeUpdate(e.SessionID, e.ModeID)
	}))
	c.detach = append(c.detach, func() { c.router.Off(modeSub) })
	return c, nil
}

func agentName(conn *capability.AgentConnection) string {
	if conn.AgentInfo == nil {
		return ""
	}
	return conn.AgentInfo.Name
}

// Connection returns the negotiated agent connection, or nil while the
// handshake is still running.
func (c *Client) Connection() *capability.AgentConnection {
	if c.sessions == nil {
		return nil
	}
	return c.sessions.Connection()
}

func (c *Client) Sessions() *session.Registry { return c.sessions }
func (c *Client) ToolCalls() *toolcall.Registry { return c.toolCalls }
func (c *Client) Router() *router.Router { return c.router }
func (c *Client) Orchestrator() *prompt.Orchestrator { return c.orchestrator }
func (c *Client) Terminals() *terminal.Registry { return c.terminals }
func (c *Client) Transport() transport.Transport { return c.transport }

// Done is closed once the connection to the agent has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// NewSession creates a session in cwd and routes its updates.
func (c *Client) NewSession(ctx context.Context, cwd string, servers []acp.McpServer) (acp.SessionId, error) {
	id, err := c.sessions.CreateSession(ctx, cwd, servers)
	if err != nil {
		return "", err
	}
	c.router.SetActiveSession(id)
	return id, nil
}

// LoadSession replays a stored session. Replayed updates flow through the
// router, so it switches to id before the call. A load the agent cannot
// serve fails before any turn state is touched.
func (c *Client) LoadSession(ctx context.Context, id acp.SessionId, cwd string, servers []acp.McpServer) error {
	if err := c.sessions.CheckLoad(servers); err != nil {
		return err
	}
	previous := c.router.ActiveSession()
	c.router.BeginTurn(id, c.toolCalls.Reset)
	if err := c.sessions.LoadSession(ctx, id, cwd, servers); err != nil {
		c.router.SetActiveSession(previous)
		return err
	}
	return nil
}

func (c *Client) ResumeSession(ctx context.Context, id acp.SessionId, cwd string, servers []acp.McpServer) error {
	if err := c.sessions.ResumeSession(ctx, id, cwd, servers); err != nil {
		return err
	}
	c.router.SetActiveSession(id)
	return nil
}

// ForkSession forks source. The active session is left unchanged.
func (c *Client) ForkSession(ctx context.Context, source acp.SessionId, cwd string, servers []acp.McpServer) (acp.SessionId, error) {
	return c.sessions.ForkSession(ctx, source, cwd, servers)
}

// Prompt runs one turn on the active session and records a turn summary
// when a turn log is configured.
func (c *Client) Prompt(ctx context.Context, blocks []acp.ContentBlock) (prompt.Result, error) {
	sessionID := c.sessions.ActiveSessionID()
	if sessionID == "" {
		return prompt.Result{}, ErrNoActiveSession
	}
	started := time.Now()
	result, err := c.orchestrator.SendPrompt(ctx, sessionID, blocks)
	c.recordTurn(sessionID, started, result, err)
	return result, err
}

// Cancel asks the agent to stop the active session's turn.
func (c *Client) Cancel(ctx context.Context) error {
	sessionID := c.sessions.ActiveSessionID()
	if sessionID == "" {
		return nil
	}
	return c.orchestrator.CancelPrompt(ctx, sessionID)
}

func (c *Client) recordTurn(sessionID acp.SessionId, started time.Time, result prompt.Result, err error) {
	if c.turnLog == "" || errors.Is(err, acperr.ErrTurnInProgress) {
		return
	}
	entry := logging.TurnSummary{
		SessionID:  string(sessionID),
		StopReason: string(result.StopReason),
		ToolCalls:  c.toolCalls.Size(),
		DurationMS: time.Since(started).Milliseconds(),
	}
	if result.Usage != nil {
		entry.TotalTokens = result.Usage.TotalTokens
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := logging.AppendTurnSummary(c.turnLog, entry); logErr != nil {
		c.logger.Warn("failed to append turn summary", "path", c.turnLog, "error", logErr)
	}
}

// Close releases every terminal, closes the connection and the underlying
// stream. For a spawned agent closing the stream stops the process.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		for _, detach := range c.detach {
			detach()
		}
		releaseErr := c.terminals.ReleaseAll()
		c.closeErr = errors.Join(releaseErr, c.shutdown())
	})
	return c.closeErr
}

func (c *Client) shutdown() error {
	err := c.rwc.Close()
	<-c.done
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	return err
}
