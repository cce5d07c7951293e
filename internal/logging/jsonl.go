package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// TurnSummary is one line of the per-turn summary log.
type TurnSummary struct {
	Timestamp   string `json:"timestamp"`
	SessionID   string `json:"session_id"`
	StopReason  string `json:"stop_reason,omitempty"`
	Error       string `json:"error,omitempty"`
	ToolCalls   int    `json:"tool_calls"`
	TotalTokens int64  `json:"total_tokens,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

func AppendTurnSummary(logPath string, entry TurnSummary) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05Z")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(append(payload, '\n')); err != nil {
		return err
	}
	return nil
}
