// Package terminal runs the commands an agent asks for through the
// terminal/* methods and keeps their bounded output.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/google/uuid"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/logging"
)

// DefaultOutputByteLimit applies when neither the request nor the registry
// options set a limit.
const DefaultOutputByteLimit = 1 << 20

type Options struct {
	DefaultOutputByteLimit int
	// WaitDelay bounds how long Wait keeps reading output after the process
	// exits while descendants still hold its pipes.
	WaitDelay   time.Duration
	Transcripts *logging.CommandLogger
	Logger      *slog.Logger
}

type terminal struct {
	id        string
	sessionID acp.SessionId
	command   []string
	cwd       string
	env       []string
	process   *os.Process
	output    *outputBuffer
	startedAt time.Time

	done   chan struct{}
	mu     sync.Mutex
	exited bool
	status acp.TerminalExitStatus
}

func (t *terminal) exitStatus() (acp.TerminalExitStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.exited
}

type Registry struct {
	defaultLimit int
	waitDelay    time.Duration
	transcripts  *logging.CommandLogger
	logger       *slog.Logger

	mu        sync.Mutex
	terminals map[string]*terminal
}

func NewRegistry(opts Options) *Registry {
	limit := opts.DefaultOutputByteLimit
	if limit <= 0 {
		limit = DefaultOutputByteLimit
	}
	waitDelay := opts.WaitDelay
	if waitDelay <= 0 {
		waitDelay = 2 * time.Second
	}
	return &Registry{
		defaultLimit: limit,
		waitDelay:    waitDelay,
		transcripts:  opts.Transcripts,
		logger:       logging.OrDiscard(opts.Logger),
		terminals:    map[string]*terminal{},
	}
}

// Create starts the command and returns its terminal id without waiting
// for it to finish.
func (r *Registry) Create(req acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	if req.Command == "" {
		return acp.CreateTerminalResponse{}, &acperr.InvalidParamsError{Field: "command", Reason: "is required"}
	}
	limit := r.defaultLimit
	if req.OutputByteLimit != nil {
		if *req.OutputByteLimit < 0 {
			return acp.CreateTerminalResponse{}, &acperr.InvalidParamsError{Field: "outputByteLimit", Reason: "must not be negative"}
		}
		limit = *req.OutputByteLimit
	}

	cmd := exec.Command(req.Command, req.Args...)
	if req.Cwd != nil {
		cmd.Dir = *req.Cwd
	}
	env := os.Environ()
	for _, variable := range req.Env {
		env = append(env, variable.Name+"="+variable.Value)
	}
	cmd.Env = env
	output := newOutputBuffer(limit)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = r.waitDelay
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return acp.CreateTerminalResponse{}, fmt.Errorf("start %s: %w", req.Command, err)
	}

	t := &terminal{
		id:        uuid.NewString(),
		sessionID: req.SessionId,
		command:   append([]string{req.Command}, req.Args...),
		cwd:       cmd.Dir,
		env:       env,
		process:   cmd.Process,
		output:    output,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	r.mu.Lock()
	r.terminals[t.id] = t
	r.mu.Unlock()

	go r.wait(cmd, t)

	r.logger.Info("terminal started", "terminal", t.id, "session", string(req.SessionId), "command", req.Command, "pid", cmd.Process.Pid)
	return acp.CreateTerminalResponse{TerminalId: t.id}, nil
}

func (r *Registry) wait(cmd *exec.Cmd, t *terminal) {
	waitErr := cmd.Wait()
	status := exitStatus(cmd.ProcessState)

	output, truncated := t.output.Snapshot()
	_, err := r.transcripts.LogTerminal(logging.TerminalTranscript{
		TerminalID: t.id,
		Command:    t.command,
		Cwd:        t.cwd,
		Output:     output,
		Truncated:  truncated,
		ExitCode:   status.ExitCode,
		Signal:     status.Signal,
		StartTime:  t.startedAt,
		EndTime:    time.Now(),
	})
	if err != nil {
		r.logger.Warn("failed to write terminal transcript", "terminal", t.id, "error", err)
	}

	t.mu.Lock()
	t.exited = true
	t.status = status
	t.mu.Unlock()
	close(t.done)

	r.logger.Info("terminal exited", "terminal", t.id, "exit_code", intValue(status.ExitCode), "signal", stringValue(status.Signal), "wait_error", waitErr)
}

func (r *Registry) lookup(id string) (*terminal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.terminals[id]
	if !ok {
		return nil, &acperr.NotFoundError{Kind: "terminal", ID: id}
	}
	return t, nil
}

// Output returns the captured output so far, and the exit status once the
// process has exited.
func (r *Registry) Output(id string) (acp.TerminalOutputResponse, error) {
	t, err := r.lookup(id)
	if err != nil {
		return acp.TerminalOutputResponse{}, err
	}
	output, truncated := t.output.Snapshot()
	resp := acp.TerminalOutputResponse{Output: output, Truncated: truncated}
	if status, exited := t.exitStatus(); exited {
		resp.ExitStatus = &status
	}
	return resp, nil
}

// WaitForExit blocks until the process exits or ctx ends.
func (r *Registry) WaitForExit(ctx context.Context, id string) (acp.WaitForTerminalExitResponse, error) {
	t, err := r.lookup(id)
	if err != nil {
		return acp.WaitForTerminalExitResponse{}, err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return acp.WaitForTerminalExitResponse{}, ctx.Err()
	}
	status, _ := t.exitStatus()
	return acp.WaitForTerminalExitResponse{ExitCode: status.ExitCode, Signal: status.Signal}, nil
}

// Kill terminates the process group. Killing an exited process is a no-op.
func (r *Registry) Kill(id string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	return r.kill(t)
}

func (r *Registry) kill(t *terminal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exited {
		return nil
	}
	if err := killProcess(t.process); err != nil {
		return fmt.Errorf("kill terminal %s: %w", t.id, err)
	}
	r.logger.Info("terminal killed", "terminal", t.id)
	return nil
}

// Release kills the process if it is still running and forgets the
// terminal. It does not wait for the process to exit. Unknown ids are
// ignored.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	t, ok := r.terminals[id]
	delete(r.terminals, id)
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("release of unknown terminal", "terminal", id)
		return nil
	}
	return r.kill(t)
}

// ReleaseAll releases every terminal and returns the first kill failure.
func (r *Registry) ReleaseAll() error {
	var firstErr error
	for _, id := range r.IDs() {
		if err := r.Release(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.terminals))
	for id := range r.terminals {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terminals)
}

func intValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringValue(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
