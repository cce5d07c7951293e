package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	acp "github.com/coder/acp-go-sdk"
	"golang.org/x/term"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/agentclient"
	"github.com/egv/acp-host/internal/client"
	"github.com/egv/acp-host/internal/config"
	"github.com/egv/acp-host/internal/eventsink"
	"github.com/egv/acp-host/internal/logging"
	"github.com/egv/acp-host/internal/prompt"
	"github.com/egv/acp-host/internal/transport"
	"github.com/egv/acp-host/internal/ui/tui"
)

const version = "0.1.0"

func main() {
	os.Exit(RunMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type connectFunc func(ctx context.Context, target agentTarget, opts agentclient.Options) (*agentclient.Client, error)

type hostDeps struct {
	connect    connectFunc
	isTerminal func(out io.Writer) bool
	signals    func() (<-chan os.Signal, func())
}

func defaultDeps() hostDeps {
	return hostDeps{
		connect:    connectAgent,
		isTerminal: shouldUseFullscreen,
		signals: func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 2)
			signal.Notify(ch, os.Interrupt)
			return ch, func() { signal.Stop(ch) }
		},
	}
}

type runOptions struct {
	configPath string
	prompt     string
	loadID     string
	resumeID   string
	forkID     string
	mode       string
	model      string
	cwd        string
	endpoint   string
	eventsPath string
	listOnly   bool
	noTUI      bool
	agentArgv  []string
}

// agentTarget is where the agent lives: a command to spawn or an endpoint to
// dial.
type agentTarget struct {
	Command  string
	Args     []string
	Env      []string
	Endpoint string
	Dir      string
	Stderr   io.Writer
}

func RunMain(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	return runWithDeps(args, in, out, errOut, defaultDeps())
}

func runWithDeps(args []string, in io.Reader, out io.Writer, errOut io.Writer, deps hostDeps) int {
	fs := flag.NewFlagSet("acp-host", flag.ContinueOnError)
	fs.SetOutput(errOut)
	opts := runOptions{}
	fs.StringVar(&opts.configPath, "config", config.DefaultPath, "Path to the host config file")
	fs.StringVar(&opts.prompt, "prompt", "", "Prompt text; read from stdin when empty")
	fs.StringVar(&opts.loadID, "load", "", "Load and replay an existing session")
	fs.StringVar(&opts.resumeID, "resume", "", "Resume an existing session without replay")
	fs.StringVar(&opts.forkID, "fork", "", "Fork an existing session and prompt the fork")
	fs.StringVar(&opts.mode, "mode", "", "Session mode to switch to before prompting")
	fs.StringVar(&opts.model, "model", "", "Session model to switch to before prompting")
	fs.StringVar(&opts.cwd, "cwd", "", "Session working directory (default: current directory)")
	fs.StringVar(&opts.endpoint, "endpoint", "", "Dial an agent at host:port, tcp://, ws:// or wss:// instead of spawning one")
	fs.StringVar(&opts.eventsPath, "events", "", "Append session events as JSONL to this file")
	fs.BoolVar(&opts.listOnly, "list", false, "List the agent's sessions and exit")
	fs.BoolVar(&opts.noTUI, "no-tui", false, "Disable the terminal UI even on a TTY")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	opts.agentArgv = fs.Args()

	if err := validateRunOptions(opts); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(errOut, acperr.FormatActionable(err))
		return 1
	}
	logger, err := logging.New(errOut, logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := run(opts, cfg, in, out, errOut, logger, deps); err != nil {
		fmt.Fprintln(errOut, acperr.FormatActionable(err))
		return 1
	}
	return 0
}

func validateRunOptions(opts runOptions) error {
	picked := 0
	for _, id := range []string{opts.loadID, opts.resumeID, opts.forkID} {
		if strings.TrimSpace(id) != "" {
			picked++
		}
	}
	if picked > 1 {
		return errors.New("--load, --resume and --fork are mutually exclusive")
	}
	if opts.listOnly && picked > 0 {
		return errors.New("--list cannot be combined with --load, --resume or --fork")
	}
	return nil
}

func run(opts runOptions, cfg config.Config, in io.Reader, out io.Writer, errOut io.Writer, logger *slog.Logger, deps hostDeps) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cwd := opts.cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cwd = wd
	}
	target, err := resolveTarget(opts, cfg, cwd, errOut)
	if err != nil {
		return err
	}

	var promptText string
	if !opts.listOnly {
		promptText, err = readPrompt(opts.prompt, in)
		if err != nil {
			return err
		}
	}

	caps := cfg.ClientCapabilities()
	agent, err := deps.connect(ctx, target, agentclient.Options{
		ClientCapabilities:  &caps,
		ClientInfo:          &acp.Implementation{Name: "acp-host", Version: version},
		RequestTimeout:      cfg.Timeouts.Request,
		InitializeTimeout:   cfg.Timeouts.Initialize,
		Permissions:         client.PolicyByName(cfg.Client.Permissions),
		PreferredAuthMethod: acp.AuthMethodId(cfg.Agent.AuthMethod),
		OutputByteLimit:     cfg.Terminal.OutputByteLimit,
		TranscriptDir:       cfg.Terminal.TranscriptDir,
		AuditLogPath:        cfg.Logging.AuditLog,
		TurnLogPath:         cfg.Logging.TurnLog,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := agent.Close(); closeErr != nil {
			logger.Warn("closing agent connection failed", "error", closeErr)
		}
	}()

	if opts.listOnly {
		return listSessions(ctx, agent, cwd, out)
	}

	eventsPath := cfg.Events.JSONL
	if opts.eventsPath != "" {
		eventsPath = opts.eventsPath
	}
	sinks, err := openSinks(ctx, cfg.Events, eventsPath)
	if err != nil {
		return err
	}
	defer sinks.Close(logger)

	useTUI := !opts.noTUI && deps.isTerminal(out)
	var display displaySink
	if useTUI {
		display = startTUI(out)
	} else {
		display = newPlainSink(out, errOut)
	}
	// Subscribed before the session opens so a loaded session's replay
	// reaches the sinks.
	forwarder := eventsink.Forward(agent.Orchestrator(), eventsink.NewFanoutSink(append(sinks.sinks, display)...), logger)
	finish := func(sessionID acp.SessionId, result prompt.Result, err error) error {
		if closeErr := forwarder.Close(); closeErr != nil {
			logger.Warn("flushing events failed", "error", closeErr)
		}
		display.Finish(sessionID, result, err)
		return err
	}

	sessionID, err := openSession(ctx, agent, opts, cwd)
	if err != nil {
		return finish("", prompt.Result{}, err)
	}
	if opts.mode != "" {
		if err := agent.Sessions().SetMode(ctx, sessionID, acp.SessionModeId(opts.mode)); err != nil {
			return finish(sessionID, prompt.Result{}, fmt.Errorf("set mode %s: %w", opts.mode, err))
		}
	}
	if opts.model != "" {
		if err := agent.Sessions().SetModel(ctx, sessionID, acp.ModelId(opts.model)); err != nil {
			return finish(sessionID, prompt.Result{}, fmt.Errorf("set model %s: %w", opts.model, err))
		}
	}

	signals, stopSignals := deps.signals()
	defer stopSignals()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go watchInterrupts(ctx, agent, signals, display.StopRequests(), cancel, watchDone, logger)

	result, promptErr := agent.Prompt(ctx, []acp.ContentBlock{acp.TextBlock(promptText)})
	return finish(sessionID, result, promptErr)
}

func resolveTarget(opts runOptions, cfg config.Config, cwd string, errOut io.Writer) (agentTarget, error) {
	target := agentTarget{
		Command:  cfg.Agent.Command,
		Args:     cfg.Agent.Args,
		Env:      cfg.AgentEnv(),
		Endpoint: cfg.Agent.Endpoint,
		Dir:      cwd,
		Stderr:   errOut,
	}
	if len(opts.agentArgv) > 0 {
		target.Command = opts.agentArgv[0]
		target.Args = opts.agentArgv[1:]
		target.Endpoint = ""
	}
	if opts.endpoint != "" {
		target.Endpoint = opts.endpoint
		target.Command = ""
	}
	if target.Command == "" && target.Endpoint == "" {
		return agentTarget{}, errors.New("no agent configured: set agent.command or agent.endpoint in the config, pass --endpoint, or give the agent command after --")
	}
	return target, nil
}

func connectAgent(ctx context.Context, target agentTarget, opts agentclient.Options) (*agentclient.Client, error) {
	if target.Endpoint != "" {
		return agentclient.Dial(ctx, target.Endpoint, opts)
	}
	return agentclient.Spawn(ctx, transport.SpawnOptions{
		Command: target.Command,
		Args:    target.Args,
		Env:     target.Env,
		Dir:     target.Dir,
		Stderr:  target.Stderr,
	}, opts)
}

func readPrompt(flagValue string, in io.Reader) (string, error) {
	if text := strings.TrimSpace(flagValue); text != "" {
		return text, nil
	}
	if in == nil {
		return "", errors.New("prompt is required: pass --prompt or pipe it on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("prompt is required: pass --prompt or pipe it on stdin")
	}
	return text, nil
}

func openSession(ctx context.Context, agent *agentclient.Client, opts runOptions, cwd string) (acp.SessionId, error) {
	switch {
	case opts.loadID != "":
		id := acp.SessionId(opts.loadID)
		return id, agent.LoadSession(ctx, id, cwd, nil)
	case opts.resumeID != "":
		id := acp.SessionId(opts.resumeID)
		return id, agent.ResumeSession(ctx, id, cwd, nil)
	case opts.forkID != "":
		id, err := agent.ForkSession(ctx, acp.SessionId(opts.forkID), cwd, nil)
		if err != nil {
			return "", err
		}
		if err := agent.Sessions().SetActiveSessionID(id); err != nil {
			return "", err
		}
		agent.Router().SetActiveSession(id)
		return id, nil
	default:
		return agent.NewSession(ctx, cwd, nil)
	}
}

func listSessions(ctx context.Context, agent *agentclient.Client, cwd string, out io.Writer) error {
	var cursor *string
	for {
		page, err := agent.Sessions().ListSessions(ctx, cursor, &cwd)
		if err != nil {
			return err
		}
		for _, info := range page.Sessions {
			line := string(info.SessionId)
			if info.Title != "" {
				line += "\t" + info.Title
			}
			if info.UpdatedAt != "" {
				line += "\t" + info.UpdatedAt
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// watchInterrupts cancels the running turn on the first interrupt or stop
// request and aborts the whole run on the second.
func watchInterrupts(ctx context.Context, agent *agentclient.Client, signals <-chan os.Signal, stops <-chan struct{}, abort context.CancelFunc, done <-chan struct{}, logger *slog.Logger) {
	cancelled := false
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-signals:
		case <-stops:
			stops = nil
		}
		if cancelled {
			logger.Warn("second interrupt, aborting")
			abort()
			return
		}
		cancelled = true
		logger.Info("cancelling prompt turn")
		if err := agent.Cancel(ctx); err != nil {
			logger.Warn("cancel failed", "error", err)
		}
	}
}

func shouldUseFullscreen(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok || file == nil {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

type tuiDisplay struct {
	program *tea.Program
	stopCh  chan struct{}
	done    chan struct{}
}

func startTUI(out io.Writer) *tuiDisplay {
	stopCh := make(chan struct{})
	display := &tuiDisplay{
		program: tea.NewProgram(tui.NewModelWithStop(nil, stopCh), tea.WithOutput(out)),
		stopCh:  stopCh,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(display.done)
		_, _ = display.program.Run()
	}()
	return display
}

func (d *tuiDisplay) Emit(_ context.Context, record eventsink.Record) error {
	d.program.Send(tui.RecordMsg{Record: record})
	return nil
}

func (d *tuiDisplay) StopRequests() <-chan struct{} { return d.stopCh }

func (d *tuiDisplay) Finish(acp.SessionId, prompt.Result, error) {
	d.program.Send(tui.StreamDoneMsg{})
	d.program.Quit()
	<-d.done
}
