package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TerminalTranscript describes one finished terminal process.
type TerminalTranscript struct {
	TerminalID string
	Command    []string
	Cwd        string
	Output     string
	Truncated  bool
	ExitCode   *int
	Signal     *string
	StartTime  time.Time
	EndTime    time.Time
}

// CommandLogger writes one transcript file per terminal into logDir.
type CommandLogger struct {
	logDir string
}

func NewCommandLogger(logDir string) *CommandLogger {
	return &CommandLogger{
		logDir: logDir,
	}
}

// LogTerminal writes the transcript and returns its path. An empty log
// directory disables logging.
func (cl *CommandLogger) LogTerminal(t TerminalTranscript) (string, error) {
	if cl == nil || cl.logDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(cl.logDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := t.StartTime.UTC().Format("20060102_150405_000000")
	commandName := strings.Join(t.Command[:min(3, len(t.Command))], "_")
	safeCommandName := strings.NewReplacer("/", "_", " ", "_", "\\", "_").Replace(commandName)
	logFilePath := filepath.Join(cl.logDir, fmt.Sprintf("%s_%s_%s.log", timestamp, shortID(t.TerminalID), safeCommandName))

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	end := t.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	fmt.Fprintf(logFile, "Terminal: %s\n", t.TerminalID)
	fmt.Fprintf(logFile, "Command: %s\n", strings.Join(t.Command, " "))
	if t.Cwd != "" {
		fmt.Fprintf(logFile, "Cwd: %s\n", t.Cwd)
	}
	fmt.Fprintf(logFile, "Start Time: %s\n", t.StartTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(logFile, "Elapsed: %s\n", end.Sub(t.StartTime).Round(time.Millisecond))
	if t.ExitCode != nil {
		fmt.Fprintf(logFile, "Exit Code: %d\n", *t.ExitCode)
	}
	if t.Signal != nil {
		fmt.Fprintf(logFile, "Signal: %s\n", *t.Signal)
	}
	if t.Truncated {
		fmt.Fprintf(logFile, "Output truncated: oldest bytes dropped\n")
	}

	if t.Output != "" {
		fmt.Fprintf(logFile, "\n=== OUTPUT ===\n%s\n", t.Output)
	} else {
		fmt.Fprintf(logFile, "\n=== OUTPUT ===\n(no output)\n")
	}
	return logFilePath, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
