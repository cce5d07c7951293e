// Package eventsink mirrors client events to outer consumers: an NDJSON
// stream, Redis Streams and NATS.
package eventsink

import (
	"encoding/json"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/prompt"
	"github.com/egv/acp-host/internal/toolcall"
)

// Record is the serialized form of one event.
type Record struct {
	Type      events.Type     `json:"type"`
	SessionID acp.SessionId   `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	// Coalesced counts the tool call snapshots folded into this one.
	Coalesced int       `json:"coalesced,omitempty"`
	Timestamp time.Time `json:"-"`
}

type ChunkPayload struct {
	Content acp.ContentBlock `json:"content"`
}

type ModePayload struct {
	ModeID acp.SessionModeId `json:"modeId"`
}

// ToolCallPayload is a tool call registry snapshot.
type ToolCallPayload struct {
	ID                acp.ToolCallId         `json:"toolCallId"`
	Title             string                 `json:"title,omitempty"`
	Kind              *acp.ToolKind          `json:"kind,omitempty"`
	Status            acp.ToolCallStatus     `json:"status"`
	Content           []acp.ToolCallContent  `json:"content,omitempty"`
	Locations         []acp.ToolCallLocation `json:"locations,omitempty"`
	RawInput          any                    `json:"rawInput,omitempty"`
	RawOutput         any                    `json:"rawOutput,omitempty"`
	PermissionOptions []acp.PermissionOption `json:"permissionOptions,omitempty"`
}

type TurnPayload struct {
	StopReason acp.StopReason `json:"stopReason,omitempty"`
	Usage      *acpext.Usage  `json:"usage,omitempty"`
	Text       string         `json:"text,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// FromEvent converts an emitted event into a Record stamped with now.
func FromEvent(event events.Event, now time.Time) (Record, error) {
	record := Record{Type: event.EventType(), Timestamp: now}
	var payload any
	switch e := event.(type) {
	case events.ChunkEvent:
		record.SessionID = e.SessionID
		payload = ChunkPayload{Content: e.Content}
	case events.ToolCallEvent:
		record.SessionID = e.SessionID
		payload = e.Call
	case events.ToolCallUpdateEvent:
		record.SessionID = e.SessionID
		payload = e.Update
	case events.PlanEvent:
		record.SessionID = e.SessionID
		payload = e.Plan
	case events.AvailableCommandsEvent:
		record.SessionID = e.SessionID
		payload = e.Commands
	case events.CurrentModeEvent:
		record.SessionID = e.SessionID
		payload = ModePayload{ModeID: e.ModeID}
	case toolcall.Event:
		payload = toolCallPayload(e.Call)
		if e.Call.Permission != nil {
			record.SessionID = e.Call.Permission.SessionID
		}
	case prompt.CompleteEvent:
		record.SessionID = e.Result.SessionID
		payload = TurnPayload{StopReason: e.Result.StopReason, Usage: e.Result.Usage, Text: e.Result.Text}
	case prompt.ErrorEvent:
		record.SessionID = e.SessionID
		payload = TurnPayload{Error: e.Err.Error()}
	default:
		payload = event
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, err
	}
	record.Payload = data
	return record, nil
}

func toolCallPayload(state toolcall.State) ToolCallPayload {
	payload := ToolCallPayload{
		ID:        state.ID,
		Title:     state.Title,
		Kind:      state.Kind,
		Status:    state.Status,
		Content:   state.Content,
		Locations: state.Locations,
		RawInput:  state.RawInput,
		RawOutput: state.RawOutput,
	}
	if state.Permission != nil {
		payload.PermissionOptions = state.Permission.Options
	}
	return payload
}

// DecodePayload unmarshals the record payload into out.
func (r Record) DecodePayload(out any) error {
	return json.Unmarshal(r.Payload, out)
}
