package acpext

import (
	"bytes"
	"encoding/json"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
)

// FeatureFlag is a capability marker. Agents report optional features either
// as booleans or as presence objects ({}); both decode to true, while an
// absent field, null or false decode to false.
type FeatureFlag bool

func (f FeatureFlag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("{}"), nil
	}
	return []byte("null"), nil
}

func (f *FeatureFlag) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")), bytes.Equal(trimmed, []byte("false")):
		*f = false
	case bytes.Equal(trimmed, []byte("true")):
		*f = true
	case len(trimmed) > 0 && trimmed[0] == '{':
		*f = true
	default:
		return fmt.Errorf("invalid capability flag %s", string(trimmed))
	}
	return nil
}

// SessionCapabilities lists the unstable session lifecycle methods.
type SessionCapabilities struct {
	List   FeatureFlag `json:"list,omitempty"`
	Resume FeatureFlag `json:"resume,omitempty"`
	Fork   FeatureFlag `json:"fork,omitempty"`
}

// InitializeResult is the initialize response together with the session
// capabilities nested in agentCapabilities.
type InitializeResult struct {
	acp.InitializeResponse
	Sessions SessionCapabilities
}

// DecodeInitialize decodes an initialize result once into the SDK response
// and once for the session capability block.
func DecodeInitialize(raw json.RawMessage) (InitializeResult, error) {
	var result InitializeResult
	if len(raw) == 0 || string(raw) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result.InitializeResponse); err != nil {
		return InitializeResult{}, fmt.Errorf("decode initialize response: %w", err)
	}
	var ext struct {
		AgentCapabilities struct {
			SessionCapabilities SessionCapabilities `json:"sessionCapabilities"`
		} `json:"agentCapabilities"`
	}
	if err := json.Unmarshal(raw, &ext); err != nil {
		return InitializeResult{}, fmt.Errorf("decode session capabilities: %w", err)
	}
	result.Sessions = ext.AgentCapabilities.SessionCapabilities
	return result, nil
}
