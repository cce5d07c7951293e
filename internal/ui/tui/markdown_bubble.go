package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// MarkdownBubble renders the agent's message text as terminal markdown.
type MarkdownBubble struct {
	content  string
	width    int
	renderer *glamour.TermRenderer
	// rendererWidth is the wrap width renderer was built for.
	rendererWidth int
}

func NewMarkdownBubble() MarkdownBubble {
	return MarkdownBubble{width: 80}
}

func (m MarkdownBubble) Init() tea.Cmd {
	return nil
}

// SetMarkdownContentMsg replaces the rendered content.
type SetMarkdownContentMsg struct {
	Content string
}

func (m MarkdownBubble) Update(msg tea.Msg) (MarkdownBubble, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetWidth(typed.Width)
	case SetMarkdownContentMsg:
		m.content = typed.Content
	}
	return m, nil
}

func (m MarkdownBubble) View() string {
	if m.content == "" {
		return lipgloss.NewStyle().Width(m.width).Render("")
	}
	content := normalizeMarkdownNewlines(m.content)
	renderer := m.renderer
	if renderer == nil || m.rendererWidth != m.width {
		built, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(m.width),
		)
		if err != nil {
			return content
		}
		renderer = built
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// SetWidth changes the wrap width and drops a renderer built for another width.
func (m *MarkdownBubble) SetWidth(width int) {
	if width == m.width && m.renderer != nil {
		return
	}
	m.width = width
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.renderer = nil
		return
	}
	m.renderer = renderer
	m.rendererWidth = width
}

func normalizeMarkdownNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
