// Package tui renders a live watch table in the terminal.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

// Source blocks until the next entry update arrives.
type Source func() (watch.Entry, error)

// entryMsg carries one update from the source.
type entryMsg watch.Entry

// sourceErrMsg ends the stream; the model shows it and stops listening.
type sourceErrMsg struct{ err error }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

var columnWidths = []int{24, 8, 24, 10}

// Model is the Bubble Tea model of the watch view.
type Model struct {
	title   string
	source  Source
	entries []watch.Entry
	index   map[string]int
	cursor  int
	width   int
	err     error
}

// NewModel starts with initial (may be empty) and follows source.
func NewModel(title string, initial []watch.Entry, source Source) Model {
	m := Model{
		title:  title,
		source: source,
		index:  make(map[string]int),
	}
	for _, e := range initial {
		m.apply(e)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return m.wait()
}

func (m Model) wait() tea.Cmd {
	if m.source == nil {
		return nil
	}
	src := m.source
	return func() tea.Msg {
		e, err := src()
		if err != nil {
			return sourceErrMsg{err}
		}
		return entryMsg(e)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case entryMsg:
		m.apply(watch.Entry(msg))
		return m, m.wait()

	case sourceErrMsg:
		m.err = msg.err
	}
	return m, nil
}

// apply copies the slice so earlier Model values stay unchanged.
func (m *Model) apply(e watch.Entry) {
	entries := make([]watch.Entry, len(m.entries), len(m.entries)+1)
	copy(entries, m.entries)

	index := make(map[string]int, len(m.index)+1)
	for k, v := range m.index {
		index[k] = v
	}

	if i, ok := index[e.Name]; ok {
		entries[i] = e
	} else {
		index[e.Name] = len(entries)
		entries = append(entries, e)
	}
	m.entries, m.index = entries, index
}

// Entries returns the rows in display order.
func (m Model) Entries() []watch.Entry {
	return m.entries
}

func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n\n")

	headers := []string{"Name", "Type", "Value", "Updated"}
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = headerStyle.Width(columnWidths[i]).Render(h)
	}
	sb.WriteString(strings.Join(parts, " "))
	sb.WriteString("\n")

	if len(m.entries) == 0 {
		sb.WriteString(mutedStyle.Render("Watch list is empty"))
		sb.WriteString("\n")
	}
	for i, e := range m.entries {
		sb.WriteString(m.renderRow(i, e))
		sb.WriteString("\n")
	}

	if m.err != nil {
		sb.WriteString("\n")
		sb.WriteString(errStyle.Render(fmt.Sprintf("stream ended: %v", m.err)))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render("↑/↓ select • q quit"))
	return sb.String()
}

func (m Model) renderRow(i int, e watch.Entry) string {
	typ := string(e.Type)
	if typ == "" && e.Resolved != nil {
		typ = string(e.Resolved.Tag)
	}
	updated := ""
	if !e.UpdatedAt.IsZero() {
		updated = e.UpdatedAt.Format("15:04:05")
	}
	value := e.Value
	if e.Resolved == nil {
		value = "?"
	}

	cells := []string{
		truncate(e.Name, columnWidths[0]),
		truncate(typ, columnWidths[1]),
		truncate(value, columnWidths[2]),
		updated,
	}
	for j, c := range cells {
		cells[j] = lipgloss.NewStyle().Width(columnWidths[j]).Render(c)
	}
	row := strings.Join(cells, " ")

	switch {
	case i == m.cursor:
		return cursorStyle.Render(row)
	case e.Stale:
		return staleStyle.Render(row)
	default:
		return row
	}
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}
