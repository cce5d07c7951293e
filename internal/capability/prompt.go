package capability

import (
	"encoding/json"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
)

// CheckPrompt rejects prompt content the agent did not advertise support for.
// Text and resource links are always accepted.
func CheckPrompt(conn *AgentConnection, blocks []acp.ContentBlock) error {
	for _, block := range blocks {
		switch {
		case block.Image != nil:
			if !CanPromptWithImages(conn) {
				return &acperr.CapabilityError{Method: "prompt", Capability: PromptImage}
			}
		case block.Audio != nil:
			if !CanPromptWithAudio(conn) {
				return &acperr.CapabilityError{Method: "prompt", Capability: PromptAudio}
			}
		case block.Resource != nil:
			if !CanPromptWithEmbeddedContext(conn) {
				return &acperr.CapabilityError{Method: "prompt", Capability: PromptEmbedded}
			}
		}
	}
	return nil
}

// CheckMcpServers rejects http and sse MCP servers the agent cannot reach.
func CheckMcpServers(conn *AgentConnection, method string, servers []acp.McpServer) error {
	for _, server := range servers {
		switch mcpTransport(server) {
		case "http":
			if !CanMcpHTTP(conn) {
				return &acperr.CapabilityError{Method: method, Capability: McpHTTP}
			}
		case "sse":
			if !CanMcpSSE(conn) {
				return &acperr.CapabilityError{Method: method, Capability: McpSSE}
			}
		}
	}
	return nil
}

// mcpTransport reads the wire discriminator; stdio servers carry none.
func mcpTransport(server acp.McpServer) string {
	data, err := json.Marshal(server)
	if err != nil {
		return ""
	}
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return ""
	}
	return tagged.Type
}
