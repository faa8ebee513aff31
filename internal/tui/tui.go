// Package tui is the interactive terminal reviewer for proposed changes.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/coda/model"
)

// --- Styles ---
var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))  // Mauve
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))              // Green
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))             // Red
	hunkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))              // Blue
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")) // Pink
	faintStyle    = lipgloss.NewStyle().Faint(true)
)

// --- Model ---
type state int

const (
	stateReviewing state = iota
	stateAccepted
	stateRejected
)

// Model shows one review item at a time in a scrollable viewport.
type Model struct {
	items    []model.ReviewItem
	selected int
	viewport viewport.Model
	ready    bool
	state    state
}

// New creates a Model over items.
func New(items []model.ReviewItem) Model {
	return Model{items: items}
}

// Accepted reports whether the user accepted the changes.
func (m Model) Accepted() bool {
	return m.state == stateAccepted
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) headerHeight() int {
	return len(m.items) + 3
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "y", "Y":
			m.state = stateAccepted
			return m, tea.Quit
		case "n", "N", "q", "esc", "ctrl+c":
			m.state = stateRejected
			return m, tea.Quit
		case "tab", "right", "l":
			m.selected = (m.selected + 1) % len(m.items)
			m.refresh()
			return m, nil
		case "shift+tab", "left", "h":
			m.selected = (m.selected - 1 + len(m.items)) % len(m.items)
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		height := msg.Height - m.headerHeight() - 2
		if height < 3 {
			height = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) refresh() {
	if !m.ready || len(m.items) == 0 {
		return
	}
	m.viewport.SetContent(renderDiff(m.items[m.selected].DiffText))
	m.viewport.GotoTop()
}

func renderDiff(diffText string) string {
	lines := strings.Split(strings.TrimRight(diffText, "\n"), "\n")
	inHunk := false
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			inHunk = true
			lines[i] = hunkStyle.Render(line)
		case !inHunk:
			lines[i] = faintStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = successStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = errorStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Review %d change(s)", len(m.items))))
	b.WriteString("\n")
	for i, it := range m.items {
		line := fmt.Sprintf("%-6s %s", it.Action, it.FilePath)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.ready {
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}
	b.WriteString(faintStyle.Render("y apply all • n/q reject • tab next file • ↑/↓ scroll"))
	return b.String()
}

// Review runs the reviewer until the user decides or ctx is done.
func Review(ctx context.Context, items []model.ReviewItem, in io.Reader, out io.Writer) (bool, error) {
	if len(items) == 0 {
		return false, nil
	}
	p := tea.NewProgram(New(items),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return false, nil
		}
		return false, fmt.Errorf("reviewer failed: %w", err)
	}
	m, ok := final.(Model)
	return ok && m.Accepted(), nil
}
