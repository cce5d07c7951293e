// Package acpext layers the parts of the Agent Client Protocol that
// github.com/coder/acp-go-sdk does not model yet: the unstable session
// lifecycle methods, session config options, turn usage and the session
// capability block reported during initialize.
package acpext

import acp "github.com/coder/acp-go-sdk"

// AgentMethods are the methods a client calls on the agent.
var AgentMethods = struct {
	Initialize             string
	Authenticate           string
	SessionNew             string
	SessionLoad            string
	SessionResume          string
	SessionFork            string
	SessionList            string
	SessionSetMode         string
	SessionSetModel        string
	SessionSetConfigOption string
	SessionPrompt          string
	SessionCancel          string
}{
	Initialize:             "initialize",
	Authenticate:           "authenticate",
	SessionNew:             "session/new",
	SessionLoad:            "session/load",
	SessionResume:          "session/resume",
	SessionFork:            "session/fork",
	SessionList:            "session/list",
	SessionSetMode:         "session/set_mode",
	SessionSetModel:        "session/set_model",
	SessionSetConfigOption: "session/set_config_option",
	SessionPrompt:          "session/prompt",
	SessionCancel:          "session/cancel",
}

// ClientMethods are the methods the agent calls on the client.
var ClientMethods = struct {
	FSReadTextFile           string
	FSWriteTextFile          string
	SessionRequestPermission string
	SessionUpdate            string
	TerminalCreate           string
	TerminalOutput           string
	TerminalWaitForExit      string
	TerminalKill             string
	TerminalRelease          string
}{
	FSReadTextFile:           "fs/read_text_file",
	FSWriteTextFile:          "fs/write_text_file",
	SessionRequestPermission: "session/request_permission",
	SessionUpdate:            "session/update",
	TerminalCreate:           "terminal/create",
	TerminalOutput:           "terminal/output",
	TerminalWaitForExit:      "terminal/wait_for_exit",
	TerminalKill:             "terminal/kill",
	TerminalRelease:          "terminal/release",
}

// FullClientCapabilities advertises file and terminal support.
func FullClientCapabilities() acp.ClientCapabilities {
	return acp.ClientCapabilities{
		Fs:       acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		Terminal: true,
	}
}

// IsTerminalStatus reports whether no further status transitions are expected.
func IsTerminalStatus(status acp.ToolCallStatus) bool {
	return status == acp.ToolCallStatusCompleted || status == acp.ToolCallStatusFailed
}
