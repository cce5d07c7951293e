// Package capability holds the negotiated agent connection and the feature
// gates derived from it.
package capability

import (
	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acpext"
)

type AuthState string

const (
	AuthNone          AuthState = "none"
	AuthRequired      AuthState = "required"
	AuthAuthenticated AuthState = "authenticated"
)

// AgentConnection is the result of the initialize handshake. It is treated as
// immutable; an auth upgrade produces a new value through WithAuthState.
type AgentConnection struct {
	AgentInfo          *acp.Implementation
	Capabilities       acp.AgentCapabilities
	Sessions           acpext.SessionCapabilities
	ClientCapabilities acp.ClientCapabilities
	AuthState          AuthState
	AuthMethods        []acp.AuthMethod
	ProtocolVersion    int
}

// NewConnection builds the connection record from an initialize response.
// Auth is required exactly when the agent offers at least one auth method.
func NewConnection(resp acpext.InitializeResult, advertised acp.ClientCapabilities) *AgentConnection {
	state := AuthNone
	if len(resp.AuthMethods) > 0 {
		state = AuthRequired
	}
	var info *acp.Implementation
	if resp.AgentInfo != nil {
		copied := *resp.AgentInfo
		info = &copied
	}
	return &AgentConnection{
		AgentInfo:          info,
		Capabilities:       resp.AgentCapabilities,
		Sessions:           resp.Sessions,
		ClientCapabilities: advertised,
		AuthState:          state,
		AuthMethods:        append([]acp.AuthMethod(nil), resp.AuthMethods...),
		ProtocolVersion:    int(resp.ProtocolVersion),
	}
}

// WithAuthState returns a copy of c carrying the new auth state.
func (c *AgentConnection) WithAuthState(state AuthState) *AgentConnection {
	if c == nil {
		return &AgentConnection{AuthState: state}
	}
	next := *c
	next.AuthState = state
	next.AuthMethods = append([]acp.AuthMethod(nil), c.AuthMethods...)
	return &next
}

// Capability names reported in capability errors.
const (
	LoadSession    = "loadSession"
	ResumeSession  = "sessionCapabilities.resume"
	ForkSession    = "sessionCapabilities.fork"
	ListSessions   = "sessionCapabilities.list"
	PromptImage    = "promptCapabilities.image"
	PromptAudio    = "promptCapabilities.audio"
	PromptEmbedded = "promptCapabilities.embeddedContext"
	McpHTTP        = "mcpCapabilities.http"
	McpSSE         = "mcpCapabilities.sse"
)

func CanLoadSession(c *AgentConnection) bool {
	return c != nil && c.Capabilities.LoadSession
}

func CanResumeSession(c *AgentConnection) bool {
	return c != nil && bool(c.Sessions.Resume)
}

func CanForkSession(c *AgentConnection) bool {
	return c != nil && bool(c.Sessions.Fork)
}

func CanListSessions(c *AgentConnection) bool {
	return c != nil && bool(c.Sessions.List)
}

func CanPromptWithImages(c *AgentConnection) bool {
	return c != nil && c.Capabilities.PromptCapabilities.Image
}

func CanPromptWithAudio(c *AgentConnection) bool {
	return c != nil && c.Capabilities.PromptCapabilities.Audio
}

func CanPromptWithEmbeddedContext(c *AgentConnection) bool {
	return c != nil && c.Capabilities.PromptCapabilities.EmbeddedContext
}

func CanMcpHTTP(c *AgentConnection) bool {
	return c != nil && c.Capabilities.McpCapabilities.Http
}

func CanMcpSSE(c *AgentConnection) bool {
	return c != nil && c.Capabilities.McpCapabilities.Sse
}

func IsAuthRequired(c *AgentConnection) bool {
	return c != nil && c.AuthState == AuthRequired
}

func IsAuthenticated(c *AgentConnection) bool {
	return c != nil && c.AuthState == AuthAuthenticated
}

// IsReady reports whether sessions can be created without authenticating
// first.
func IsReady(c *AgentConnection) bool {
	return c != nil && (c.AuthState == AuthNone || c.AuthState == AuthAuthenticated)
}
