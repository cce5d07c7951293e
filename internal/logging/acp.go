package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ACPRequestEntry is one audit line for a request the agent made of the
// client.
type ACPRequestEntry struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
	Method    string `json:"method"`
	RequestID string `json:"request_id,omitempty"`
	Target    string `json:"target,omitempty"`
	Decision  string `json:"decision"`
	Message   string `json:"message,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
	DecisionFailed   = "failed"
)

func AppendACPRequest(logPath string, entry ACPRequestEntry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
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
	_, err = file.Write(append(payload, '\n'))
	return err
}

// AuditLog serializes appends from concurrently handled requests. A zero
// path disables it.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) Enabled() bool {
	return a != nil && a.path != ""
}

func (a *AuditLog) Append(entry ACPRequestEntry) error {
	if !a.Enabled() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return AppendACPRequest(a.path, entry)
}
