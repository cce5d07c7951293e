//go:build windows

package terminal

import (
	"os"
	"os/exec"

	acp "github.com/coder/acp-go-sdk"
)

func configureProcess(cmd *exec.Cmd) {}

func killProcess(process *os.Process) error {
	return process.Kill()
}

func exitStatus(state *os.ProcessState) acp.TerminalExitStatus {
	if state == nil {
		return acp.TerminalExitStatus{}
	}
	code := state.ExitCode()
	return acp.TerminalExitStatus{ExitCode: &code}
}
