package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestStatusBarLine(t *testing.T) {
	bar := NewStatusBar()
	bar, _ = bar.Update(UpdateStatusBarMsg{
		Snapshot: Snapshot{
			SessionID:     "sess-1",
			Mode:          "code",
			Turn:          TurnPrompting,
			ActiveTools:   2,
			CompletedTool: 1,
			FailedTools:   1,
			PendingAsks:   1,
		},
		LastOutputAge: "3s",
		Spinner:       "*",
	})

	want := "* prompting sess-1 [code] tools 1/4 failed 1 awaiting permission 1 (3s)"
	if bar.Line() != want {
		t.Fatalf("expected %q, got %q", want, bar.Line())
	}
}

func TestStatusBarHidesSpinnerWhenIdle(t *testing.T) {
	bar := NewStatusBar()
	bar, _ = bar.Update(UpdateStatusBarMsg{Snapshot: Snapshot{Turn: TurnDone, StopReason: "end_turn"}, Spinner: "*"})
	if bar.Line() != "done (end_turn)" {
		t.Fatalf("expected done line, got %q", bar.Line())
	}
}

func TestStatusBarStopping(t *testing.T) {
	bar := NewStatusBar()
	bar, _ = bar.Update(tea.WindowSizeMsg{Width: 40, Height: 10})
	bar, _ = bar.Update(StopStatusBarMsg{})
	if !strings.Contains(bar.View(), "Stopping...") {
		t.Fatalf("expected stopping view, got %q", bar.View())
	}
}
