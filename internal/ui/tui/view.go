package tui

import (
	"fmt"
	"strings"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/eventsink"
	"github.com/egv/acp-host/internal/toolcall"
)

const (
	TurnIdle      = "idle"
	TurnPrompting = "prompting"
	TurnDone      = "done"
	TurnFailed    = "failed"
)

type ToolCallRow struct {
	ID      acp.ToolCallId
	Title   string
	Kind    string
	Status  acp.ToolCallStatus
	Updates int
}

// Snapshot is what the status bar shows.
type Snapshot struct {
	SessionID     acp.SessionId
	Mode          string
	Turn          string
	StopReason    string
	ActiveTools   int
	CompletedTool int
	FailedTools   int
	PendingAsks   int
	LastEventAt   time.Time
}

// SessionView folds event records into the state of one session. It is the
// plain-text renderer and the state behind the Bubble Tea model.
type SessionView struct {
	now func() time.Time

	sessionID  acp.SessionId
	mode       string
	turn       string
	stopReason string
	lastError  string

	message strings.Builder
	thought strings.Builder
	user    strings.Builder

	toolCalls map[acp.ToolCallId]*ToolCallRow
	order     []acp.ToolCallId
	plan      []acp.PlanEntry
	commands  []string

	warnings    []string
	eventCount  int
	lastEventAt time.Time
}

func NewSessionView(now func() time.Time) *SessionView {
	if now == nil {
		now = time.Now
	}
	return &SessionView{
		now:       now,
		turn:      TurnIdle,
		toolCalls: map[acp.ToolCallId]*ToolCallRow{},
	}
}

func (v *SessionView) Apply(record eventsink.Record) {
	v.eventCount++
	v.lastEventAt = record.Timestamp
	if v.lastEventAt.IsZero() {
		v.lastEventAt = v.now()
	}
	if record.SessionID != "" {
		v.sessionID = record.SessionID
	}

	switch record.Type {
	case events.AgentMessageChunk, events.AgentThoughtChunk, events.UserMessageChunk:
		var chunk eventsink.ChunkPayload
		if !v.decode(record, &chunk) {
			return
		}
		if record.Type != events.UserMessageChunk {
			v.beginTurn()
		}
		switch record.Type {
		case events.AgentMessageChunk:
			v.message.WriteString(blockText(chunk.Content))
		case events.AgentThoughtChunk:
			v.thought.WriteString(blockText(chunk.Content))
		default:
			v.user.WriteString(blockText(chunk.Content))
		}
	case events.ToolCallRegistered, events.ToolCallUpdated, events.ToolCallCompleted, events.ToolCallFailed, events.PermissionPending:
		var call eventsink.ToolCallPayload
		if !v.decode(record, &call) {
			return
		}
		v.beginTurn()
		v.upsertToolCall(call)
	case events.Plan:
		var plan struct {
			Entries []acp.PlanEntry `json:"entries"`
		}
		if v.decode(record, &plan) {
			v.plan = plan.Entries
		}
	case events.AvailableCommands:
		var commands []acp.AvailableCommand
		if v.decode(record, &commands) {
			v.commands = v.commands[:0]
			for _, command := range commands {
				v.commands = append(v.commands, "/"+command.Name)
			}
		}
	case events.CurrentMode:
		var mode eventsink.ModePayload
		if v.decode(record, &mode) {
			v.mode = string(mode.ModeID)
		}
	case events.Complete:
		var turn eventsink.TurnPayload
		if v.decode(record, &turn) {
			v.turn = TurnDone
			v.stopReason = string(turn.StopReason)
			if v.message.Len() == 0 && turn.Text != "" {
				v.message.WriteString(turn.Text)
			}
		}
	case events.Error:
		var turn eventsink.TurnPayload
		if v.decode(record, &turn) {
			v.turn = TurnFailed
			v.lastError = turn.Error
		}
	}
}

// beginTurn clears the previous turn's output once a new turn streams in.
func (v *SessionView) beginTurn() {
	if v.turn == TurnPrompting {
		return
	}
	if v.turn == TurnDone || v.turn == TurnFailed {
		v.message.Reset()
		v.thought.Reset()
		v.user.Reset()
		v.toolCalls = map[acp.ToolCallId]*ToolCallRow{}
		v.order = nil
		v.stopReason = ""
		v.lastError = ""
	}
	v.turn = TurnPrompting
}

func (v *SessionView) upsertToolCall(call eventsink.ToolCallPayload) {
	row, ok := v.toolCalls[call.ID]
	if !ok {
		row = &ToolCallRow{ID: call.ID}
		v.toolCalls[call.ID] = row
		v.order = append(v.order, call.ID)
	} else {
		row.Updates++
	}
	if call.Title != "" {
		row.Title = call.Title
	}
	if call.Kind != nil {
		row.Kind = string(*call.Kind)
	}
	row.Status = call.Status
}

func (v *SessionView) decode(record eventsink.Record, out any) bool {
	if err := record.DecodePayload(out); err != nil {
		v.Warn(fmt.Sprintf("cannot decode %s payload: %v", record.Type, err))
		return false
	}
	return true
}

// Warn records a line shown under the session output.
func (v *SessionView) Warn(message string) {
	v.warnings = append(v.warnings, message)
	if len(v.warnings) > 5 {
		v.warnings = v.warnings[len(v.warnings)-5:]
	}
}

func blockText(block acp.ContentBlock) string {
	switch {
	case block.Text != nil:
		return block.Text.Text
	case block.Image != nil:
		return "[image]"
	case block.Audio != nil:
		return "[audio]"
	case block.ResourceLink != nil:
		return "[resource_link]"
	case block.Resource != nil:
		return "[resource]"
	default:
		return ""
	}
}

func (v *SessionView) AgentText() string   { return v.message.String() }
func (v *SessionView) ThoughtText() string { return v.thought.String() }
func (v *SessionView) EventCount() int     { return v.eventCount }

func (v *SessionView) ToolCalls() []ToolCallRow {
	rows := make([]ToolCallRow, 0, len(v.order))
	for _, id := range v.order {
		rows = append(rows, *v.toolCalls[id])
	}
	return rows
}

func (v *SessionView) Snapshot() Snapshot {
	snapshot := Snapshot{
		SessionID:   v.sessionID,
		Mode:        v.mode,
		Turn:        v.turn,
		StopReason:  v.stopReason,
		LastEventAt: v.lastEventAt,
	}
	for _, row := range v.toolCalls {
		switch row.Status {
		case acp.ToolCallStatusCompleted:
			snapshot.CompletedTool++
		case acp.ToolCallStatusFailed:
			snapshot.FailedTools++
		case toolcall.StatusPendingPermission:
			snapshot.PendingAsks++
			snapshot.ActiveTools++
		default:
			snapshot.ActiveTools++
		}
	}
	return snapshot
}

func statusIcon(status acp.ToolCallStatus) string {
	switch status {
	case acp.ToolCallStatusCompleted:
		return "✓"
	case acp.ToolCallStatusFailed:
		return "✗"
	case acp.ToolCallStatusInProgress:
		return "▶"
	case toolcall.StatusPendingPermission:
		return "?"
	default:
		return "·"
	}
}

func planIcon(status acp.PlanEntryStatus) string {
	switch status {
	case acp.PlanEntryStatusCompleted:
		return "[x]"
	case acp.PlanEntryStatusInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

// ToolLines renders the tool call list, one line per call.
func (v *SessionView) ToolLines() []string {
	lines := make([]string, 0, len(v.order))
	for _, row := range v.ToolCalls() {
		line := fmt.Sprintf("%s %s", statusIcon(row.Status), row.ID)
		if row.Title != "" {
			line += " " + row.Title
		}
		if row.Kind != "" {
			line += " [" + row.Kind + "]"
		}
		line += " " + string(row.Status)
		lines = append(lines, line)
	}
	return lines
}

func (v *SessionView) PlanLines() []string {
	lines := make([]string, 0, len(v.plan))
	for _, entry := range v.plan {
		lines = append(lines, planIcon(entry.Status)+" "+entry.Content)
	}
	return lines
}

// Header is the one-line session summary.
func (v *SessionView) Header() string {
	parts := []string{"session"}
	if v.sessionID != "" {
		parts = append(parts, string(v.sessionID))
	} else {
		parts = append(parts, "-")
	}
	if v.mode != "" {
		parts = append(parts, "[mode "+v.mode+"]")
	}
	turn := "turn: " + v.turn
	if v.stopReason != "" {
		turn += " (" + v.stopReason + ")"
	}
	return strings.Join(append(parts, turn), " ")
}

// View renders the whole session as plain text.
func (v *SessionView) View() string {
	lines := []string{v.Header()}
	if text := strings.TrimSpace(v.user.String()); text != "" {
		lines = append(lines, "> "+text)
	}
	if thought := strings.TrimSpace(v.thought.String()); thought != "" {
		lines = append(lines, "thinking: "+lastLine(thought))
	}
	if text := strings.TrimSpace(v.message.String()); text != "" {
		lines = append(lines, "agent:", text)
	}
	if tools := v.ToolLines(); len(tools) > 0 {
		lines = append(lines, "tools:")
		for _, line := range tools {
			lines = append(lines, "  "+line)
		}
	}
	if plan := v.PlanLines(); len(plan) > 0 {
		lines = append(lines, "plan:")
		for _, line := range plan {
			lines = append(lines, "  "+line)
		}
	}
	if len(v.commands) > 0 {
		lines = append(lines, "commands: "+strings.Join(v.commands, " "))
	}
	if v.lastError != "" {
		lines = append(lines, "error: "+v.lastError)
	}
	for _, warning := range v.warnings {
		lines = append(lines, "warning: "+warning)
	}
	return strings.Join(lines, "\n") + "\n"
}

func lastLine(text string) string {
	if index := strings.LastIndex(text, "\n"); index >= 0 {
		return text[index+1:]
	}
	return text
}
