package events

import acp "github.com/coder/acp-go-sdk"

// ChunkEvent carries one streamed content block. Kind is one of the three
// chunk types.
type ChunkEvent struct {
	Kind      Type
	SessionID acp.SessionId
	Content   acp.ContentBlock
}

func (e ChunkEvent) EventType() Type { return e.Kind }

type ToolCallEvent struct {
	SessionID acp.SessionId
	Call      acp.SessionUpdateToolCall
}

func (ToolCallEvent) EventType() Type { return ToolCall }

type ToolCallUpdateEvent struct {
	SessionID acp.SessionId
	Update    acp.SessionToolCallUpdate
}

func (ToolCallUpdateEvent) EventType() Type { return ToolCallUpdate }

type PlanEvent struct {
	SessionID acp.SessionId
	Plan      acp.SessionUpdatePlan
}

func (PlanEvent) EventType() Type { return Plan }

type AvailableCommandsEvent struct {
	SessionID acp.SessionId
	Commands  []acp.AvailableCommand
}

func (AvailableCommandsEvent) EventType() Type { return AvailableCommands }

type CurrentModeEvent struct {
	SessionID acp.SessionId
	ModeID    acp.SessionModeId
}

func (CurrentModeEvent) EventType() Type { return CurrentMode }
