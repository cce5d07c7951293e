package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/egv/acp-host/internal/ui/tui"
)

const sessionStream = `{"type":"current_mode","session_id":"sess-1","payload":{"modeId":"code"},"ts":"2026-02-10T12:00:00Z"}
{"type":"agent_message_chunk","session_id":"sess-1","payload":{"content":{"type":"text","text":"hello "}},"ts":"2026-02-10T12:00:01Z"}
{"type":"tool_call_registered","payload":{"toolCallId":"call-1","title":"Run tests","kind":"execute","status":"in_progress"},"ts":"2026-02-10T12:00:02Z"}
{"type":"tool_call_completed","payload":{"toolCallId":"call-1","status":"completed"},"ts":"2026-02-10T12:00:03Z"}
{"type":"agent_message_chunk","session_id":"sess-1","payload":{"content":{"type":"text","text":"world"}},"ts":"2026-02-10T12:00:04Z"}
{"type":"complete","session_id":"sess-1","payload":{"stopReason":"end_turn"},"ts":"2026-02-10T12:00:05Z"}
`

func TestRunMainRendersSessionFromStdin(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain(nil, strings.NewReader(sessionStream), out, errOut)
	if code != 0 {
		t.Fatalf("expected code 0, got %d stderr=%q", code, errOut.String())
	}
	final := lastView(out.String())
	for _, want := range []string{"session sess-1 [mode code] turn: done (end_turn)", "hello world", "✓ call-1 Run tests [execute] completed"} {
		if !strings.Contains(final, want) {
			t.Fatalf("expected final view to contain %q, got %q", want, final)
		}
	}
}

func TestRunMainReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(sessionStream), 0o644); err != nil {
		t.Fatalf("write events: %v", err)
	}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"--file", path}, nil, out, errOut)
	if code != 0 {
		t.Fatalf("expected code 0, got %d stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "hello world") {
		t.Fatalf("expected rendered text, got %q", out.String())
	}
}

func TestRunMainFailsOnMissingFile(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"--file", filepath.Join(t.TempDir(), "missing.jsonl")}, nil, out, errOut)
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
}

func TestRenderFromReaderWritesOnEachRecord(t *testing.T) {
	out := &bytes.Buffer{}
	if err := renderFromReader(strings.NewReader(sessionStream), out, io.Discard); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Count(out.String(), "session sess-1") != 6 {
		t.Fatalf("expected one render per record, got %q", out.String())
	}
}

func TestRenderFromReaderContinuesAfterMalformedRecord(t *testing.T) {
	input := strings.NewReader(`{"type":"agent_message_chunk","session_id":"sess-1","payload":{"content":{"type":"text","text":"partial"}},"ts":"2026-02-10T12:00:01Z"}
{"type":"agent_message_chunk","payload":
{"type":"complete","session_id":"sess-1","payload":{"stopReason":"end_turn"},"ts":"2026-02-10T12:00:05Z"}
`)
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	if err := renderFromReader(input, out, errOut); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	final := lastView(out.String())
	if !strings.Contains(final, "warning: decode_error") {
		t.Fatalf("expected decode warning in output, got %q", final)
	}
	if !strings.Contains(final, "turn: done (end_turn)") {
		t.Fatalf("expected stream to continue after malformed record, got %q", final)
	}
	if !strings.Contains(errOut.String(), "event decode warning") {
		t.Fatalf("expected warning on stderr, got %q", errOut.String())
	}
}

func TestRenderFromReaderStopsAfterRepeatedFailures(t *testing.T) {
	input := strings.NewReader("not json\nstill not json\nnope\n")
	err := renderFromReader(input, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "after 3 errors") {
		t.Fatalf("expected failure after 3 errors, got %v", err)
	}
}

func TestRenderFromReaderRendersEmptyStream(t *testing.T) {
	out := &bytes.Buffer{}
	if err := renderFromReader(strings.NewReader(""), out, io.Discard); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(out.String(), "turn: idle") {
		t.Fatalf("expected idle view, got %q", out.String())
	}
}

func TestStreamModelFeedsRecordsAndQuits(t *testing.T) {
	stream := make(chan tea.Msg, 8)
	go decodeRecords(strings.NewReader(sessionStream), stream)
	var model tea.Model = newStreamModel(stream)

	cmd := waitForStreamMessage(stream)
	for i := 0; i < 20 && cmd != nil; i++ {
		msg := cmd()
		model, _ = model.Update(msg)
		if _, done := msg.(tui.StreamDoneMsg); done {
			break
		}
		cmd = waitForStreamMessage(stream)
	}
	typed := model.(streamModel)
	if !typed.inner.StreamDone() {
		t.Fatalf("expected stream to finish")
	}
	if !strings.Contains(typed.View(), "turn: done (end_turn)") {
		t.Fatalf("expected completed turn in view, got %q", typed.View())
	}

	_, quit := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if quit == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := quit().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message")
	}
}

func lastView(output string) string {
	index := strings.LastIndex(output, "session ")
	if index < 0 {
		return output
	}
	return output[index:]
}
