package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/egv/acp-host/internal/eventsink"
	"github.com/egv/acp-host/internal/ui/tui"
)

const maxDecodeFailures = 3

func main() {
	os.Exit(RunMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func RunMain(args []string, in io.Reader, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("acp-tui", flag.ContinueOnError)
	fs.SetOutput(errOut)
	file := fs.String("file", "", "Read JSONL session events from this file instead of stdin")
	plain := fs.Bool("plain", false, "Print plain text views even on a TTY")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	reader := in
	if *file != "" {
		opened, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		defer opened.Close()
		reader = opened
	}
	if reader == nil {
		fmt.Fprintln(errOut, "stdin reader is required")
		return 1
	}

	if !*plain && shouldUseFullscreen(out) {
		if err := runFullscreenFromReader(reader, out); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		return 0
	}
	if err := renderFromReader(reader, out, errOut); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func shouldUseFullscreen(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok || file == nil {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// streamModel feeds decoded records into the session model one at a time.
type streamModel struct {
	inner  tui.Model
	stream <-chan tea.Msg
}

func newStreamModel(stream <-chan tea.Msg) streamModel {
	return streamModel{inner: tui.NewModel(nil), stream: stream}
}

func (m streamModel) Init() tea.Cmd {
	return tea.Batch(m.inner.Init(), waitForStreamMessage(m.stream))
}

func waitForStreamMessage(stream <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-stream
		if !ok {
			return tui.StreamDoneMsg{}
		}
		return msg
	}
}

func (m streamModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	updated, cmd := m.inner.Update(msg)
	m.inner = updated.(tui.Model)
	if m.inner.StopRequested() {
		return m, tea.Quit
	}
	switch msg.(type) {
	case tui.RecordMsg, tui.DecodeErrorMsg:
		return m, tea.Batch(cmd, waitForStreamMessage(m.stream))
	}
	return m, cmd
}

func (m streamModel) View() string {
	return m.inner.View()
}

func runFullscreenFromReader(reader io.Reader, out io.Writer) error {
	stream := make(chan tea.Msg, 64)
	go decodeRecords(reader, stream)

	program := tea.NewProgram(
		newStreamModel(stream),
		tea.WithOutput(out),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := program.Run()
	return err
}

func decodeRecords(reader io.Reader, out chan<- tea.Msg) {
	defer close(out)
	decoder := eventsink.NewEventDecoder(reader)
	failures := 0
	for {
		record, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			failures++
			out <- tui.DecodeErrorMsg{Err: fmt.Errorf("decode_error: %w", err)}
			if failures >= maxDecodeFailures {
				return
			}
			continue
		}
		failures = 0
		out <- tui.RecordMsg{Record: record}
	}
}

// renderFromReader prints the session view after every record so piped
// output follows the live stream.
func renderFromReader(reader io.Reader, out io.Writer, errOut io.Writer) error {
	decoder := eventsink.NewEventDecoder(reader)
	view := tui.NewSessionView(nil)
	haveRecords := false
	failures := 0
	for {
		record, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			failures++
			haveRecords = true
			view.Warn("decode_error: " + err.Error())
			if _, writeErr := io.WriteString(out, view.View()); writeErr != nil {
				return writeErr
			}
			if errOut != nil {
				_, _ = io.WriteString(errOut, "event decode warning: "+err.Error()+"\n")
			}
			if failures >= maxDecodeFailures {
				return fmt.Errorf("failed to decode event stream after %d errors: %w", failures, err)
			}
			continue
		}
		failures = 0
		haveRecords = true
		view.Apply(record)
		if _, writeErr := io.WriteString(out, view.View()); writeErr != nil {
			return writeErr
		}
	}
	if !haveRecords {
		if _, writeErr := io.WriteString(out, view.View()); writeErr != nil {
			return writeErr
		}
	}
	return nil
}
