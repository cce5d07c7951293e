package acpext

import (
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
)

type ConfigOptionID string

type SessionConfigSelectOption struct {
	Value       string `json:"value"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionConfigOption is one agent-defined setting. Options may depend on
// each other, so the agent always returns the whole list after a change.
type SessionConfigOption struct {
	ID           ConfigOptionID              `json:"id"`
	Name         string                      `json:"name"`
	Description  string                      `json:"description,omitempty"`
	Category     string                      `json:"category,omitempty"`
	Type         string                      `json:"type"`
	CurrentValue string                      `json:"currentValue"`
	Options      []SessionConfigSelectOption `json:"options,omitempty"`
}

// NewSessionResult is a session/new response plus its config options.
type NewSessionResult struct {
	acp.NewSessionResponse
	ConfigOptions []SessionConfigOption
}

// LoadSessionResult is a session/load response plus its config options.
type LoadSessionResult struct {
	acp.LoadSessionResponse
	ConfigOptions []SessionConfigOption
}

type configOptionsField struct {
	ConfigOptions []SessionConfigOption `json:"configOptions,omitempty"`
}

func DecodeNewSession(raw json.RawMessage) (NewSessionResult, error) {
	var result NewSessionResult
	if err := decodeWithConfig(raw, &result.NewSessionResponse, &result.ConfigOptions); err != nil {
		return NewSessionResult{}, fmt.Errorf("decode session/new response: %w", err)
	}
	return result, nil
}

func DecodeLoadSession(raw json.RawMessage) (LoadSessionResult, error) {
	var result LoadSessionResult
	if err := decodeWithConfig(raw, &result.LoadSessionResponse, &result.ConfigOptions); err != nil {
		return LoadSessionResult{}, fmt.Errorf("decode session/load response: %w", err)
	}
	return result, nil
}

func decodeWithConfig(raw json.RawMessage, target any, options *[]SessionConfigOption) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return err
	}
	var field configOptionsField
	if err := json.Unmarshal(raw, &field); err != nil {
		return err
	}
	*options = field.ConfigOptions
	return nil
}

type ResumeSessionRequest struct {
	SessionId  acp.SessionId   `json:"sessionId"`
	Cwd        string          `json:"cwd"`
	McpServers []acp.McpServer `json:"mcpServers,omitempty"`
}

type ResumeSessionResponse struct {
	Modes         *acp.SessionModeState  `json:"modes,omitempty"`
	Models        *acp.SessionModelState `json:"models,omitempty"`
	ConfigOptions []SessionConfigOption  `json:"configOptions,omitempty"`
}

type ForkSessionRequest struct {
	SessionId  acp.SessionId   `json:"sessionId"`
	Cwd        string          `json:"cwd"`
	McpServers []acp.McpServer `json:"mcpServers,omitempty"`
}

type ForkSessionResponse struct {
	SessionId     acp.SessionId          `json:"sessionId"`
	Modes         *acp.SessionModeState  `json:"modes,omitempty"`
	Models        *acp.SessionModelState `json:"models,omitempty"`
	ConfigOptions []SessionConfigOption  `json:"configOptions,omitempty"`
}

type ListSessionsRequest struct {
	Cursor *string `json:"cursor,omitempty"`
	Cwd    *string `json:"cwd,omitempty"`
}

type SessionInfo struct {
	SessionId acp.SessionId `json:"sessionId"`
	Cwd       string        `json:"cwd"`
	Title     string        `json:"title,omitempty"`
	UpdatedAt string        `json:"updatedAt,omitempty"`
}

type ListSessionsResponse struct {
	Sessions   []SessionInfo `json:"sessions"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

type SetSessionConfigOptionRequest struct {
	SessionId acp.SessionId  `json:"sessionId"`
	ConfigId  ConfigOptionID `json:"configId"`
	Value     string         `json:"value"`
}

type SetSessionConfigOptionResponse struct {
	ConfigOptions []SessionConfigOption `json:"configOptions"`
}

// Usage is the token accounting some agents report at the end of a turn.
type Usage struct {
	TotalTokens       int64  `json:"totalTokens"`
	InputTokens       int64  `json:"inputTokens"`
	OutputTokens      int64  `json:"outputTokens"`
	ThoughtTokens     *int64 `json:"thoughtTokens,omitempty"`
	CachedReadTokens  *int64 `json:"cachedReadTokens,omitempty"`
	CachedWriteTokens *int64 `json:"cachedWriteTokens,omitempty"`
}
