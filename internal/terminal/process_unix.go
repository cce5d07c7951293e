//go:build !windows

package terminal

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	acp "github.com/coder/acp-go-sdk"
	"golang.org/x/sys/unix"
)

// configureProcess starts the command in its own process group so a kill
// reaches every process it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(process *os.Process) error {
	if err := unix.Kill(-process.Pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return process.Kill()
	}
	return nil
}

func exitStatus(state *os.ProcessState) acp.TerminalExitStatus {
	if state == nil {
		return acp.TerminalExitStatus{}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		name := unix.SignalName(ws.Signal())
		if name == "" {
			name = ws.Signal().String()
		}
		return acp.TerminalExitStatus{Signal: &name}
	}
	code := state.ExitCode()
	return acp.TerminalExitStatus{ExitCode: &code}
}
