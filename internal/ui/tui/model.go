// Package tui renders a live ACP session from its event records.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/egv/acp-host/internal/eventsink"
)

// RecordMsg delivers one event record to the model.
type RecordMsg struct {
	Record eventsink.Record
}

// DecodeErrorMsg reports an event line that could not be parsed.
type DecodeErrorMsg struct {
	Err error
}

// StreamDoneMsg is sent once the event source is exhausted.
type StreamDoneMsg struct{}

type tickMsg struct{}

type Model struct {
	view      *SessionView
	now       func() time.Time
	spinner   spinner.Model
	statusBar StatusBar
	markdown  MarkdownBubble
	viewport  viewport.Model

	stopCh       chan struct{}
	stopNotified bool
	stopping     bool
	streamDone   bool

	width  int
	height int
}

func NewModel(now func() time.Time) Model {
	return NewModelWithStop(now, nil)
}

// NewModelWithStop returns a model that closes stopCh when the user asks to
// stop. stopCh may be nil.
func NewModelWithStop(now func() time.Time, stopCh chan struct{}) Model {
	if now == nil {
		now = time.Now
	}
	vp := viewport.New(80, 20)
	vp.SetContent("")
	return Model{
		view:      NewSessionView(now),
		now:       now,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		statusBar: NewStatusBar(),
		markdown:  NewMarkdownBubble(),
		viewport:  vp,
		stopCh:    stopCh,
		width:     80,
		height:    24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var spinCmd tea.Cmd
	m.spinner, spinCmd = m.spinner.Update(msg)

	switch typed := msg.(type) {
	case RecordMsg:
		m.view.Apply(typed.Record)
		m.markdown, _ = m.markdown.Update(SetMarkdownContentMsg{Content: m.view.AgentText()})
		m.refresh()
	case DecodeErrorMsg:
		m.view.Warn(typed.Err.Error())
		m.refresh()
	case StreamDoneMsg:
		m.streamDone = true
		m.refresh()
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.viewport.Width = typed.Width
		m.viewport.Height = max(typed.Height-4, 1)
		m.markdown.SetWidth(typed.Width)
		m.statusBar.SetWidth(typed.Width)
		m.refresh()
	case tickMsg:
		m.refresh()
		return m, tea.Batch(spinCmd, tickCmd())
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC || (typed.Type == tea.KeyRunes && len(typed.Runes) == 1 && typed.Runes[0] == 'q') {
			m.requestStop()
			return m, spinCmd
		}
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		return m, tea.Batch(spinCmd, vpCmd)
	}
	return m, spinCmd
}

func (m *Model) requestStop() {
	m.stopping = true
	m.statusBar.SetStopping(true)
	if m.stopCh == nil || m.stopNotified {
		return
	}
	m.stopNotified = true
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *Model) refresh() {
	m.statusBar, _ = m.statusBar.Update(UpdateStatusBarMsg{
		Snapshot:      m.view.Snapshot(),
		LastOutputAge: m.lastOutputAge(),
		Spinner:       m.spinner.View(),
	})
	m.viewport.SetContent(m.body())
	m.viewport.GotoBottom()
}

func (m Model) body() string {
	var sections []string
	if thought := strings.TrimSpace(m.view.ThoughtText()); thought != "" {
		sections = append(sections, lipgloss.NewStyle().Faint(true).Render("thinking: "+lastLine(thought)))
	}
	if m.view.AgentText() != "" {
		sections = append(sections, strings.TrimRight(m.markdown.View(), "\n"))
	}
	if tools := m.view.ToolLines(); len(tools) > 0 {
		sections = append(sections, "tools:\n  "+strings.Join(tools, "\n  "))
	}
	if plan := m.view.PlanLines(); len(plan) > 0 {
		sections = append(sections, "plan:\n  "+strings.Join(plan, "\n  "))
	}
	if m.view.lastError != "" {
		sections = append(sections, "error: "+m.view.lastError)
	}
	for _, warning := range m.view.warnings {
		sections = append(sections, "warning: "+warning)
	}
	return strings.Join(sections, "\n\n")
}

func (m Model) View() string {
	parts := []string{m.view.Header(), m.viewport.View(), m.statusBar.View()}
	hint := "q: stop"
	if m.streamDone {
		hint = "stream ended, q: quit"
	}
	return strings.Join(append(parts, hint), "\n") + "\n"
}

func (m Model) lastOutputAge() string {
	if m.view.lastEventAt.IsZero() {
		return "n/a"
	}
	age := m.now().Sub(m.view.lastEventAt).Round(time.Second)
	return fmt.Sprintf("%ds", int(age.Seconds()))
}

// Session exposes the folded session state.
func (m Model) Session() *SessionView {
	return m.view
}

func (m Model) StopRequested() bool {
	return m.stopping
}

func (m Model) StreamDone() bool {
	return m.streamDone
}

func (m Model) StopChannel() chan struct{} {
	return m.stopCh
}
