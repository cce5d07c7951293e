package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusBar is the one-line session summary at the bottom of the screen.
type StatusBar struct {
	snapshot      Snapshot
	lastOutputAge string
	spinner       string
	stopping      bool
	width         int
}

func NewStatusBar() StatusBar {
	return StatusBar{width: 80}
}

func (s StatusBar) Init() tea.Cmd {
	return nil
}

// UpdateStatusBarMsg carries a fresh session snapshot.
type UpdateStatusBarMsg struct {
	Snapshot      Snapshot
	LastOutputAge string
	Spinner       string
}

type StopStatusBarMsg struct{}

func (s StatusBar) Update(msg tea.Msg) (StatusBar, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = typed.Width
	case UpdateStatusBarMsg:
		s.snapshot = typed.Snapshot
		s.lastOutputAge = typed.LastOutputAge
		s.spinner = typed.Spinner
	case StopStatusBarMsg:
		s.stopping = true
	}
	return s, nil
}

func (s StatusBar) View() string {
	style := lipgloss.NewStyle().
		Width(s.width).
		Foreground(lipgloss.Color("#ffffff")).
		Background(lipgloss.Color("#1a1a1a")).
		Border(lipgloss.NormalBorder()).
		Padding(0, 1)
	if s.stopping {
		return style.Background(lipgloss.Color("#ff0000")).Render("Stopping...")
	}
	return style.Render(s.Line())
}

// Line is the unstyled status text.
func (s StatusBar) Line() string {
	var parts []string
	if s.spinner != "" && s.snapshot.Turn == TurnPrompting {
		parts = append(parts, s.spinner)
	}
	if s.snapshot.Turn != "" {
		turn := s.snapshot.Turn
		if s.snapshot.StopReason != "" {
			turn += " (" + s.snapshot.StopReason + ")"
		}
		parts = append(parts, turn)
	}
	if s.snapshot.SessionID != "" {
		parts = append(parts, string(s.snapshot.SessionID))
	}
	if s.snapshot.Mode != "" {
		parts = append(parts, fmt.Sprintf("[%s]", s.snapshot.Mode))
	}
	if tools := s.snapshot.ActiveTools + s.snapshot.CompletedTool + s.snapshot.FailedTools; tools > 0 {
		parts = append(parts, fmt.Sprintf("tools %d/%d", s.snapshot.CompletedTool, tools))
		if s.snapshot.FailedTools > 0 {
			parts = append(parts, fmt.Sprintf("failed %d", s.snapshot.FailedTools))
		}
	}
	if s.snapshot.PendingAsks > 0 {
		parts = append(parts, fmt.Sprintf("awaiting permission %d", s.snapshot.PendingAsks))
	}
	if s.lastOutputAge != "" {
		parts = append(parts, fmt.Sprintf("(%s)", s.lastOutputAge))
	}
	return strings.Join(parts, " ")
}

func (s *StatusBar) SetWidth(width int) {
	s.width = width
}

func (s *StatusBar) SetStopping(stopping bool) {
	s.stopping = stopping
}
