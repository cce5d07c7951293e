package session

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/capability"
	"github.com/egv/acp-host/internal/jsonrpc"
	"github.com/egv/acp-host/internal/transport"
	"github.com/egv/acp-host/internal/transport/transporttest"
)

func connection(t *testing.T, raw string) *capability.AgentConnection {
	t.Helper()
	resp, err := acpext.DecodeInitialize(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("decode initialize: %v", err)
	}
	return capability.NewConnection(resp, acpext.FullClientCapabilities())
}

const (
	noCapabilities  = `{"protocolVersion":1}`
	allCapabilities = `{"protocolVersion":1,"agentCapabilities":{"loadSession":true,"sessionCapabilities":{"list":{},"resume":{},"fork":{}}}}`
)

func created(id acp.SessionId) acpext.NewSessionResult {
	var resp acpext.NewSessionResult
	resp.SessionId = id
	return resp
}

func TestCreateSessionRegistersAndActivates(t *testing.T) {
	agent := &transporttest.Agent{
		NewSessionFunc: func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
			return acpext.DecodeNewSession(json.RawMessage(`{
				"sessionId": "s1",
				"modes": {"currentModeId": "ask", "availableModes": [{"id": "ask", "name": "Ask"}, {"id": "code", "name": "Code"}]}
			}`))
		},
	}
	tr := transporttest.New(agent)
	r := NewRegistry(Options{Transport: tr, Connection: connection(t, noCapabilities)})

	id, err := r.CreateSession(context.Background(), "/work", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "s1" || r.ActiveSessionID() != "s1" {
		t.Fatalf("expected active s1, got %q / %q", id, r.ActiveSessionID())
	}
	state, ok := r.GetSession("s1")
	if !ok || state.Cwd != "/work" || state.Modes.CurrentModeId != "ask" || state.CreatedAt.IsZero() {
		t.Fatalf("unexpected state %+v", state)
	}
	if timeouts := tr.Timeouts(); len(timeouts) != 1 || timeouts[0] != transport.DefaultTimeout {
		t.Fatalf("expected default timeout, got %v", timeouts)
	}
}

func TestCreateSessionFailsWithoutID(t *testing.T) {
	r := NewRegistry(Options{Transport: transporttest.New(nil)})
	if _, err := r.CreateSession(context.Background(), "/work", nil); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
	if len(r.GetAllSessions()) != 0 {
		t.Fatalf("expected nothing registered")
	}
}

func TestCreateSessionRetriesOnceAfterAuth(t *testing.T) {
	attempts := 0
	agent := &transporttest.Agent{
		NewSessionFunc: func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
			attempts++
			if attempts == 1 {
				return acpext.NewSessionResult{}, jsonrpc.NewError(jsonrpc.CodeAuthRequired, "Authentication required", nil)
			}
			return created("s1"), nil
		},
	}
	tr := transporttest.New(agent)
	initial := connection(t, `{"protocolVersion":1,"authMethods":[{"id":"token","name":"Token"}]}`)
	r := NewRegistry(Options{
		Transport:     tr,
		Connection:    initial,
		Authenticator: capability.MethodAuthenticator{Transport: tr},
	})

	id, err := r.CreateSession(context.Background(), "/work", nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if id != "s1" || attempts != 2 {
		t.Fatalf("expected two attempts, got %d", attempts)
	}
	if !capability.IsAuthenticated(r.Connection()) {
		t.Fatalf("expected upgraded connection")
	}
	if capability.IsAuthenticated(initial) {
		t.Fatalf("expected original connection to stay unchanged")
	}
	if agent.CallCount(acpext.AgentMethods.Authenticate) != 1 {
		t.Fatalf("expected one authenticate call")
	}
}

func TestCreateSessionSecondAuthFailurePropagates(t *testing.T) {
	authCalls := 0
	agent := &transporttest.Agent{
		NewSessionFunc: func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
			return acpext.NewSessionResult{}, jsonrpc.NewError(-32603, "auth_required", nil)
		},
	}
	r := NewRegistry(Options{
		Transport:  transporttest.New(agent),
		Connection: connection(t, noCapabilities),
		Authenticator: capability.AuthenticatorFunc(func(ctx context.Context, conn *capability.AgentConnection) (*capability.AgentConnection, error) {
			authCalls++
			return conn.WithAuthState(capability.AuthAuthenticated), nil
		}),
	})

	_, err := r.CreateSession(context.Background(), "/work", nil)
	if !jsonrpc.IsAuthRequired(err) {
		t.Fatalf("expected auth error to propagate, got %v", err)
	}
	if authCalls != 1 || agent.CallCount(acpext.AgentMethods.SessionNew) != 2 {
		t.Fatalf("expected exactly one auth and one retry, got %d / %d", authCalls, agent.CallCount(acpext.AgentMethods.SessionNew))
	}
}

func TestGatedMethodsFailWithoutTransportCall(t *testing.T) {
	agent := &transporttest.Agent{}
	r := NewRegistry(Options{Transport: transporttest.New(agent), Connection: connection(t, `{"protocolVersion":1,"agentCapabilities":{"loadSession":false}}`)})
	ctx := context.Background()

	err := r.LoadSession(ctx, "s1", "/work", nil)
	var capErr *acperr.CapabilityError
	if !errors.As(err, &capErr) || capErr.Capability != capability.LoadSession || capErr.Method != acpext.AgentMethods.SessionLoad {
		t.Fatalf("expected loadSession capability error, got %v", err)
	}
	if err := r.ResumeSession(ctx, "s1", "/work", nil); !acperr.IsCapability(err) {
		t.Fatalf("expected resume capability error, got %v", err)
	}
	if _, err := r.ForkSession(ctx, "s1", "/work", nil); !acperr.IsCapability(err) {
		t.Fatalf("expected fork capability error, got %v", err)
	}
	if _, err := r.ListSessions(ctx, nil, nil); !acperr.IsCapability(err) {
		t.Fatalf("expected list capability error, got %v", err)
	}
	if calls := agent.Calls(); len(calls) != 0 {
		t.Fatalf("expected zero transport calls, got %v", calls)
	}
	if r.CanLoad() || r.CanResume() || r.CanFork() || r.CanList() {
		t.Fatalf("expected every capability mirror to be false")
	}
}

func TestLoadSessionUsesNoTimeout(t *testing.T) {
	agent := &transporttest.Agent{
		LoadSessionFunc: func(ctx context.Context, req acp.LoadSessionRequest) (acpext.LoadSessionResult, error) {
			if req.SessionId != "old" {
				t.Fatalf("expected old session, got %q", req.SessionId)
			}
			return acpext.DecodeLoadSession(json.RawMessage(`{"models":{"currentModelId":"m1","availableModels":[]}}`))
		},
	}
	tr := transporttest.New(agent)
	r := NewRegistry(Options{Transport: tr, Connection: connection(t, allCapabilities)})

	if err := r.LoadSession(context.Background(), "old", "/work", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if timeouts := tr.Timeouts(); len(timeouts) != 1 || timeouts[0] != transport.NoTimeout {
		t.Fatalf("expected load without timeout, got %v", timeouts)
	}
	state, ok := r.GetSession("old")
	if !ok || state.Models.CurrentModelId != "m1" || r.ActiveSessionID() != "old" {
		t.Fatalf("expected loaded session tracked and active, got %+v", state)
	}
}

func TestForkSessionKeepsSource(t *testing.T) {
	agent := &transporttest.Agent{
		NewSessionFunc: func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
			return created("src"), nil
		},
		ForkSessionFunc: func(ctx context.Context, req acpext.ForkSessionRequest) (acpext.ForkSessionResponse, error) {
			return acpext.ForkSessionResponse{SessionId: "fork-1"}, nil
		},
	}
	r := NewRegistry(Options{Transport: transporttest.New(agent), Connection: connection(t, allCapabilities)})
	ctx := context.Background()
	if _, err := r.CreateSession(ctx, "/work", nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := r.GetSession("src")

	forked, err := r.ForkSession(ctx, "src", "/work", nil)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if forked != "fork-1" {
		t.Fatalf("expected fork-1, got %q", forked)
	}
	after, _ := r.GetSession("src")
	if !reflect.DeepEqual(before, after) || r.ActiveSessionID() != "src" {
		t.Fatalf("expected source untouched and still active")
	}
	state, _ := r.GetSession("fork-1")
	if state.ForkedFrom != "src" {
		t.Fatalf("expected fork origin src, got %q", state.ForkedFrom)
	}

	agent.ForkSessionFunc = func(ctx context.Context, req acpext.ForkSessionRequest) (acpext.ForkSessionResponse, error) {
		return acpext.ForkSessionResponse{SessionId: req.SessionId}, nil
	}
	if _, err := r.ForkSession(ctx, "src", "/work", nil); !errors.Is(err, ErrForkReusedID) {
		t.Fatalf("expected ErrForkReusedID, got %v", err)
	}
}

func TestConfigModeAndModelUpdateLocalState(t *testing.T) {
	agent := &transporttest.Agent{
		NewSessionFunc: func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
			return created("s1"), nil
		},
		SetSessionConfigOptionFunc: func(ctx context.Context, req acpext.SetSessionConfigOptionRequest) (acpext.SetSessionConfigOptionResponse, error) {
			return acpext.SetSessionConfigOptionResponse{ConfigOptions: []acpext.SessionConfigOption{
				{ID: req.ConfigId, Name: "Effort", Type: "select", CurrentValue: req.Value},
				{ID: "depends", Name: "Dependent", Type: "select", CurrentValue: "changed"},
			}}, nil
		},
	}
	r := NewRegistry(Options{Transport: transporttest.New(agent), Connection: connection(t, noCapabilities)})
	ctx := context.Background()
	if _, err := r.CreateSession(ctx, "/work", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	options, err := r.ConfigSession(ctx, "s1", "effort", "high")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if len(options) != 2 {
		t.Fatalf("expected the full option list, got %d", len(options))
	}
	if err := r.SetMode(ctx, "s1", "code"); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := r.SetModel(ctx, "s1", "fast"); err != nil {
		t.Fatalf("set model: %v", err)
	}

	state, _ := r.GetSession("s1")
	if len(state.ConfigOptions) != 2 || state.ConfigOptions[1].CurrentValue != "changed" {
		t.Fatalf("expected local config copy, got %+v", state.ConfigOptions)
	}
	if state.Modes == nil || state.Modes.CurrentModeId != "code" {
		t.Fatalf("expected mode code, got %+v", state.Modes)
	}
	if state.Models == nil || state.Models.CurrentModelId != "fast" {
		t.Fatalf("expected model fast, got %+v", state.Models)
	}
}

func TestListSessionsPaginates(t *testing.T) {
	next := "page-2"
	agent := &transporttest.Agent{
		ListSessionsFunc: func(ctx context.Context, req acpext.ListSessionsRequest) (acpext.ListSessionsResponse, error) {
			if req.Cursor == nil {
				return acpext.ListSessionsResponse{Sessions: []acpext.SessionInfo{{SessionId: "a", Cwd: "/w"}}, NextCursor: &next}, nil
			}
			return acpext.ListSessionsResponse{}, nil
		},
	}
	r := NewRegistry(Options{Transport: transporttest.New(agent), Connection: connection(t, allCapabilities)})

	first, err := r.ListSessions(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Sessions) != 1 || first.NextCursor == nil || *first.NextCursor != "page-2" {
		t.Fatalf("unexpected first page %+v", first)
	}
	last, err := r.ListSessions(context.Background(), first.NextCursor, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if last.NextCursor != nil || last.Sessions == nil {
		t.Fatalf("expected final empty page with nil cursor, got %+v", last)
	}
}

func TestAccessorsAndActivePointer(t *testing.T) {
	ids := []acp.SessionId{"a", "b"}
	agent := &transporttest.Agent{
		NewSessionFunc: func(ctx context.Context, req acp.NewSessionRequest) (acpext.NewSessionResult, error) {
			id := ids[0]
			ids = ids[1:]
			return created(id), nil
		},
	}
	r := NewRegistry(Options{Transport: transporttest.New(agent)})
	ctx := context.Background()
	r.CreateSession(ctx, "/a", nil)
	r.CreateSession(ctx, "/b", nil)

	all := r.GetAllSessions()
	if len(all) != 2 {
		t.Fatalf("expected two sessions, got %d", len(all))
	}
	all[0].Cwd = "mutated"
	if state, _ := r.GetSession(all[0].ID); state.Cwd == "mutated" {
		t.Fatalf("expected GetAllSessions to return copies")
	}

	err := r.SetActiveSessionID("missing")
	if !acperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.SetActiveSessionID("a"); err != nil || r.ActiveSessionID() != "a" {
		t.Fatalf("expected active a, got %v", err)
	}
	if !r.RemoveSession("a") || r.ActiveSessionID() != "" {
		t.Fatalf("expected removing the active session to clear the pointer")
	}
	if r.RemoveSession("a") {
		t.Fatalf("expected second removal to report false")
	}
	if !r.ApplyModeUpdate("b", "architect") || r.ApplyModeUpdate("a", "x") {
		t.Fatalf("expected mode update only for tracked sessions")
	}
}
