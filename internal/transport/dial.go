package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const (
	defaultShutdownGrace = 2 * time.Second
	dialRetryDelay       = 50 * time.Millisecond
)

// SpawnOptions describe an agent started as a child process speaking ACP over
// its stdin and stdout.
type SpawnOptions struct {
	Command string
	Args    []string
	// Env entries are appended to the current environment.
	Env           []string
	Dir           string
	Stderr        io.Writer
	ShutdownGrace time.Duration
}

// Process is a spawned agent. Reads come from the agent's stdout and writes
// go to its stdin.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	grace  time.Duration

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func Spawn(ctx context.Context, opts SpawnOptions) (*Process, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("agent command is required")
	}
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// an io.Pipe stays readable until Wait has copied all output
	stdout, stdoutWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start agent %s: %w", opts.Command, err)
	}

	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		grace:  grace,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		_ = stdoutWriter.Close()
		close(p.exited)
	}()
	return p, nil
}

func (p *Process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *Process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited is closed once the agent process has terminated.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Close closes the agent's stdin and waits for it to exit, killing it once
// the shutdown grace period runs out.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()

		timer := time.NewTimer(p.grace)
		defer timer.Stop()

		var killErr error
		killed := false
		select {
		case <-p.exited:
		case <-timer.C:
			killErr = p.cmd.Process.Kill()
			killed = true
			<-p.exited
		}
		waitErr := p.waitErr
		var exitErr *exec.ExitError
		if killed && errors.As(waitErr, &exitErr) {
			waitErr = nil
		}
		if errors.Is(killErr, os.ErrProcessDone) {
			killErr = nil
		}
		p.closeErr = errors.Join(killErr, waitErr)
	})
	return p.closeErr
}

// Dial connects to an agent that is already listening. Supported endpoints
// are tcp://host:port, bare host:port, ws:// and wss:// URLs. TCP dials are
// retried until ctx ends so a freshly started agent has time to listen.
func Dial(ctx context.Context, endpoint string) (io.ReadWriteCloser, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("agent endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err == nil {
		switch parsed.Scheme {
		case "ws", "wss":
			conn, err := dialWebSocket(ctx, parsed)
			if err != nil {
				return nil, err
			}
			return conn, nil
		case "tcp":
			return dialTCP(ctx, parsed.Host)
		}
	}
	return dialTCP(ctx, endpoint)
}

func dialTCP(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial agent %s: %w", address, err)
		case <-time.After(dialRetryDelay):
		}
	}
}

func dialWebSocket(ctx context.Context, endpoint *url.URL) (*websocket.Conn, error) {
	originScheme := "http"
	if endpoint.Scheme == "wss" {
		originScheme = "https"
	}
	origin := originScheme + "://" + endpoint.Host
	config, err := websocket.NewConfig(endpoint.String(), origin)
	if err != nil {
		return nil, err
	}
	conn, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", endpoint.String(), err)
	}
	return conn, nil
}
