package acperr

import (
	"errors"
	"strings"
)

type errorClass struct {
	category    string
	remediation string
}

var errorTaxonomy = []struct {
	match func(string) bool
	class errorClass
}{
	{match: containsAny("auth_required", "authentication required", "credential", "token"), class: errorClass{category: "auth", remediation: "Log in with the agent's own CLI or configure an auth method, then retry."}},
	{match: containsAny("connection closed", "broken pipe", "connection refused", "eof"), class: errorClass{category: "transport", remediation: "Check that the agent process is running and reachable, then reconnect."}},
	{match: containsAny("deadline exceeded", "timed out", "timeout"), class: errorClass{category: "timeout", remediation: "Raise timeouts.request in the config or check whether the agent is stuck."}},
	{match: containsAny("executable file not found", "no such file or directory", "exec format error"), class: errorClass{category: "agent_spawn", remediation: "Verify agent.command points to an installed ACP agent binary."}},
	{match: containsAny("config", "yaml", "unknown field"), class: errorClass{category: "config", remediation: "Fix the config file and rerun; see the field named in the cause."}},
}

// FormatActionable renders err as category, cause and next step for CLI
// output. Structured errors are classified by type before any text matching.
func FormatActionable(err error) string {
	if err == nil {
		return ""
	}
	cause := normalizeCause(err.Error())
	class := classify(err, cause)
	return "Category: " + class.category + "\nCause: " + cause + "\nNext step: " + class.remediation
}

func classify(err error, cause string) errorClass {
	var capabilityErr *CapabilityError
	if errors.As(err, &capabilityErr) {
		return errorClass{category: "unsupported_feature", remediation: "This agent does not support " + capabilityErr.Method + "; use a plain new session instead."}
	}
	if errors.Is(err, ErrTurnInProgress) {
		return errorClass{category: "turn_in_progress", remediation: "Wait for the current turn to finish or cancel it first."}
	}
	if IsNotFound(err) {
		return errorClass{category: "not_found", remediation: "Check the id or path and retry."}
	}
	if IsPermission(err) {
		return errorClass{category: "permission", remediation: "Grant the client process access to the path or pick another location."}
	}
	if IsInvalidParams(err) {
		return errorClass{category: "invalid_params", remediation: "Fix the request parameters named in the cause."}
	}

	text := strings.ToLower(cause)
	for _, entry := range errorTaxonomy {
		if entry.match(text) {
			return entry.class
		}
	}
	return errorClass{
		category:    "unknown",
		remediation: "Check the client log for details and retry; report the full error text if it persists.",
	}
}

func normalizeCause(cause string) string {
	parts := strings.Split(cause, "\n")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		line := strings.TrimSpace(part)
		if line == "" {
			continue
		}
		normalized = append(normalized, line)
	}
	if len(normalized) == 0 {
		return strings.TrimSpace(cause)
	}
	return strings.Join(normalized, " | ")
}

func containsAny(parts ...string) func(string) bool {
	return func(text string) bool {
		for _, part := range parts {
			if strings.Contains(text, part) {
				return true
			}
		}
		return false
	}
}
