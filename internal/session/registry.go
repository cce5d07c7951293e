// Package session keeps the client's view of the agent's sessions and issues
// the session lifecycle calls, gated by the negotiated capabilities.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/capability"
	"github.com/egv/acp-host/internal/jsonrpc"
	"github.com/egv/acp-host/internal/transport"
)

var (
	ErrMissingSessionID = errors.New("agent response did not include a session id")
	ErrForkReusedID     = errors.New("agent returned the source session id for a fork")
)

// State is the local projection of one agent session.
type State struct {
	ID            acp.SessionId
	Cwd           string
	ConfigOptions []acpext.SessionConfigOption
	Modes         *acp.SessionModeState
	Models        *acp.SessionModelState
	CreatedAt     time.Time
	// ForkedFrom is set for sessions created by ForkSession.
	ForkedFrom acp.SessionId
}

func (s *State) clone() State {
	out := *s
	if s.ConfigOptions != nil {
		out.ConfigOptions = make([]acpext.SessionConfigOption, len(s.ConfigOptions))
		for i, option := range s.ConfigOptions {
			option.Options = append([]acpext.SessionConfigSelectOption(nil), option.Options...)
			out.ConfigOptions[i] = option
		}
	}
	if s.Modes != nil {
		modes := *s.Modes
		modes.AvailableModes = append([]acp.SessionMode(nil), s.Modes.AvailableModes...)
		out.Modes = &modes
	}
	if s.Models != nil {
		models := *s.Models
		models.AvailableModels = append([]acp.ModelInfo(nil), s.Models.AvailableModels...)
		out.Models = &models
	}
	return out
}

type Options struct {
	Transport  transport.Transport
	Connection *capability.AgentConnection
	// Authenticator is consulted once when session creation reports that
	// authentication is required. Nil disables the retry.
	Authenticator capability.Authenticator
	Logger        *slog.Logger
}

type Registry struct {
	transport transport.Transport
	auth      capability.Authenticator
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	conn     *capability.AgentConnection
	sessions map[acp.SessionId]*State
	active   acp.SessionId
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		transport: opts.Transport,
		auth:      opts.Authenticator,
		logger:    logger,
		now:       time.Now,
		conn:      opts.Connection,
		sessions:  map[acp.SessionId]*State{},
	}
}

// Connection returns the current negotiated connection. It changes only
// when an auth upgrade replaces it.
func (r *Registry) Connection() *capability.AgentConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *Registry) setConnection(conn *capability.AgentConnection) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

// CreateSession opens a new session and makes it active. An auth_required
// failure triggers one authentication and one retry.
func (r *Registry) CreateSession(ctx context.Context, cwd string, servers []acp.McpServer) (acp.SessionId, error) {
	if err := capability.CheckMcpServers(r.Connection(), acpext.AgentMethods.SessionNew, servers); err != nil {
		return "", err
	}
	req := acp.NewSessionRequest{Cwd: cwd, McpServers: servers}
	resp, err := r.newSession(ctx, req)
	if err != nil && jsonrpc.IsAuthRequired(err) && r.auth != nil {
		r.logger.Info("agent requires authentication, retrying session creation")
		upgraded, authErr := r.auth.Authenticate(ctx, r.Connection())
		if authErr != nil {
			return "", fmt.Errorf("authenticate after auth_required: %w", authErr)
		}
		r.setConnection(upgraded)
		resp, err = r.newSession(ctx, req)
	}
	if err != nil {
		return "", err
	}
	if resp.SessionId == "" {
		return "", ErrMissingSessionID
	}

	r.mu.Lock()
	r.sessions[resp.SessionId] = &State{
		ID:            resp.SessionId,
		Cwd:           cwd,
		ConfigOptions: resp.ConfigOptions,
		Modes:         resp.Modes,
		Models:        resp.Models,
		CreatedAt:     r.now(),
	}
	r.active = resp.SessionId
	r.mu.Unlock()
	r.logger.Info("session created", "session", string(resp.SessionId), "cwd", cwd)
	return resp.SessionId, nil
}

func (r *Registry) newSession(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
	var resp acpext.NewSessionResult
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, conn transport.AgentConn) error {
		var callErr error
		resp, callErr = conn.NewSession(ctx, req)
		return callErr
	})
	return resp, err
}

// LoadSession replays an existing session. History replay can take a long
// time, so the call has no deadline beyond ctx.
func (r *Registry) LoadSession(ctx context.Context, id acp.SessionId, cwd string, servers []acp.McpServer) error {
	if err := r.CheckLoad(servers); err != nil {
		return err
	}
	var resp acpext.LoadSessionResult
	err := r.transport.Request(ctx, transport.NoTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		var callErr error
		resp, callErr = agent.LoadSession(ctx, acp.LoadSessionRequest{SessionId: id, Cwd: cwd, McpServers: servers})
		return callErr
	})
	if err != nil {
		return err
	}
	r.track(id, cwd, setup{ConfigOptions: resp.ConfigOptions, Modes: resp.Modes, Models: resp.Models})
	r.logger.Info("session loaded", "session", string(id))
	return nil
}

// CheckLoad reports the capability error LoadSession would fail with,
// without calling the agent.
func (r *Registry) CheckLoad(servers []acp.McpServer) error {
	conn := r.Connection()
	if !capability.CanLoadSession(conn) {
		return &acperr.CapabilityError{Method: acpext.AgentMethods.SessionLoad, Capability: capability.LoadSession}
	}
	return capability.CheckMcpServers(conn, acpext.AgentMethods.SessionLoad, servers)
}

func (r *Registry) ResumeSession(ctx context.Context, id acp.SessionId, cwd string, servers []acp.McpServer) error {
	if !capability.CanResumeSession(r.Connection()) {
		return &acperr.CapabilityError{Method: acpext.AgentMethods.SessionResume, Capability: capability.ResumeSession}
	}
	var resp acpext.ResumeSessionResponse
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		var callErr error
		resp, callErr = agent.UnstableResumeSession(ctx, acpext.ResumeSessionRequest{SessionId: id, Cwd: cwd, McpServers: servers})
		return callErr
	})
	if err != nil {
		return err
	}
	r.track(id, cwd, setup{ConfigOptions: resp.ConfigOptions, Modes: resp.Modes, Models: resp.Models})
	r.logger.Info("session resumed", "session", string(id))
	return nil
}

// ForkSession branches source into a new session and returns its id. The
// source entry and the active session are left as they were.
func (r *Registry) ForkSession(ctx context.Context, source acp.SessionId, cwd string, servers []acp.McpServer) (acp.SessionId, error) {
	if !capability.CanForkSession(r.Connection()) {
		return "", &acperr.CapabilityError{Method: acpext.AgentMethods.SessionFork, Capability: capability.ForkSession}
	}
	var resp acpext.ForkSessionResponse
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		var callErr error
		resp, callErr = agent.UnstableForkSession(ctx, acpext.ForkSessionRequest{SessionId: source, Cwd: cwd, McpServers: servers})
		return callErr
	})
	if err != nil {
		return "", err
	}
	switch resp.SessionId {
	case "":
		return "", ErrMissingSessionID
	case source:
		return "", ErrForkReusedID
	}

	r.mu.Lock()
	r.sessions[resp.SessionId] = &State{
		ID:            resp.SessionId,
		Cwd:           cwd,
		ConfigOptions: resp.ConfigOptions,
		Modes:         resp.Modes,
		Models:        resp.Models,
		CreatedAt:     r.now(),
		ForkedFrom:    source,
	}
	r.mu.Unlock()
	r.logger.Info("session forked", "source", string(source), "session", string(resp.SessionId))
	return resp.SessionId, nil
}

// setup is the session state an agent reports when a session is attached.
type setup struct {
	ConfigOptions []acpext.SessionConfigOption
	Modes         *acp.SessionModeState
	Models        *acp.SessionModelState
}

func (r *Registry) track(id acp.SessionId, cwd string, resp setup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	createdAt := r.now()
	if existing, ok := r.sessions[id]; ok {
		createdAt = existing.CreatedAt
	}
	r.sessions[id] = &State{
		ID:            id,
		Cwd:           cwd,
		ConfigOptions: resp.ConfigOptions,
		Modes:         resp.Modes,
		Models:        resp.Models,
		CreatedAt:     createdAt,
	}
	r.active = id
}

// ConfigSession sets one config option and returns the complete option list
// reported by the agent.
func (r *Registry) ConfigSession(ctx context.Context, id acp.SessionId, configID acpext.ConfigOptionID, value string) ([]acpext.SessionConfigOption, error) {
	var resp acpext.SetSessionConfigOptionResponse
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		var callErr error
		resp, callErr = agent.SetSessionConfigOption(ctx, acpext.SetSessionConfigOptionRequest{SessionId: id, ConfigId: configID, Value: value})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if state, ok := r.sessions[id]; ok {
		state.ConfigOptions = append([]acpext.SessionConfigOption(nil), resp.ConfigOptions...)
	}
	r.mu.Unlock()
	return resp.ConfigOptions, nil
}

func (r *Registry) SetMode(ctx context.Context, id acp.SessionId, modeID acp.SessionModeId) error {
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		return agent.SetSessionMode(ctx, acp.SetSessionModeRequest{SessionId: id, ModeId: modeID})
	})
	if err != nil {
		return err
	}
	r.ApplyModeUpdate(id, modeID)
	return nil
}

func (r *Registry) SetModel(ctx context.Context, id acp.SessionId, modelID acp.ModelId) error {
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		return agent.UnstableSetSessionModel(ctx, acp.SetSessionModelRequest{SessionId: id, ModelId: modelID})
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	if state, ok := r.sessions[id]; ok {
		if state.Models == nil {
			state.Models = &acp.SessionModelState{}
		}
		state.Models.CurrentModelId = modelID
	}
	r.mu.Unlock()
	return nil
}

// ApplyModeUpdate records a mode change for a tracked session, either after
// SetMode or from a current_mode_update notification.
func (r *Registry) ApplyModeUpdate(id acp.SessionId, modeID acp.SessionModeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.sessions[id]
	if !ok {
		return false
	}
	if state.Modes == nil {
		state.Modes = &acp.SessionModeState{}
	}
	state.Modes.CurrentModeId = modeID
	return true
}

// ListSessions returns one page of the agent's sessions. A nil NextCursor
// marks the last page.
func (r *Registry) ListSessions(ctx context.Context, cursor, cwd *string) (acpext.ListSessionsResponse, error) {
	if !capability.CanListSessions(r.Connection()) {
		return acpext.ListSessionsResponse{}, &acperr.CapabilityError{Method: acpext.AgentMethods.SessionList, Capability: capability.ListSessions}
	}
	var resp acpext.ListSessionsResponse
	err := r.transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		var callErr error
		resp, callErr = agent.UnstableListSessions(ctx, acpext.ListSessionsRequest{Cursor: cursor, Cwd: cwd})
		return callErr
	})
	if err != nil {
		return acpext.ListSessionsResponse{}, err
	}
	if resp.Sessions == nil {
		resp.Sessions = []acpext.SessionInfo{}
	}
	return resp, nil
}

func (r *Registry) CanLoad() bool   { return capability.CanLoadSession(r.Connection()) }
func (r *Registry) CanResume() bool { return capability.CanResumeSession(r.Connection()) }
func (r *Registry) CanFork() bool   { return capability.CanForkSession(r.Connection()) }
func (r *Registry) CanList() bool   { return capability.CanListSessions(r.Connection()) }

func (r *Registry) GetSession(id acp.SessionId) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.sessions[id]
	if !ok {
		return State{}, false
	}
	return state.clone(), true
}

// GetAllSessions returns copies of every tracked session, oldest first.
func (r *Registry) GetAllSessions() []State {
	r.mu.RLock()
	out := make([]State, 0, len(r.sessions))
	for _, state := range r.sessions {
		out = append(out, state.clone())
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RemoveSession forgets a session locally. Removing the active session
// clears the active pointer.
func (r *Registry) RemoveSession(id acp.SessionId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	if r.active == id {
		r.active = ""
	}
	return true
}

func (r *Registry) SetActiveSessionID(id acp.SessionId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return &acperr.NotFoundError{Kind: "session", ID: string(id)}
	}
	r.active = id
	return nil
}

func (r *Registry) ActiveSessionID() acp.SessionId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}
