package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/brunoscheufler/notepad/notes"
	"github.com/brunoscheufler/notepad/store"
	"github.com/charmbracelet/lipgloss"
)

const (
	emptyListMessage  = "No notes yet. Press ctrl+n to create one."
	noSelectionText   = "No note selected"
	normalizedWarning = "Editing replaces tabs and line breaks this editor cannot show"
	timestampLayout   = "Jan 2, 3:04 PM"
	minListWidth      = 28
	bottomPanelHeight = 10
	statusBarHeight   = 2
)

// layout holds the pane sizes derived from the window size
type layout struct {
	listWidth   int
	editorWidth int
	mainHeight  int
	bottomWidth int
}

func (m *Model) computeLayout() layout {
	listWidth := max(minListWidth, m.width/3)
	editorWidth := max(20, m.width-listWidth)

	mainHeight := m.height - statusBarHeight
	if m.showLogs {
		mainHeight -= bottomPanelHeight
	}
	if m.showStats {
		mainHeight -= bottomPanelHeight
	}

	return layout{
		listWidth:   listWidth,
		editorWidth: editorWidth,
		mainHeight:  max(6, mainHeight),
		bottomWidth: max(20, m.width),
	}
}

// resize applies the current window size to the inputs and panels
func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	l := m.computeLayout()

	// border and padding take two columns on each side
	inner := l.editorWidth - 4
	m.title.Width = max(10, inner)
	m.content.SetWidth(max(10, inner))
	// panel border, title label, title input, separator and footer
	m.content.SetHeight(max(3, l.mainHeight-7))

	m.logs.Width = l.bottomWidth - 4
	m.logs.Height = bottomPanelHeight - 3

	m.statsTable.SetWidth(l.bottomWidth - 4)
	m.statsTable.SetHeight(bottomPanelHeight - 3)

	m.help.Width = m.width
}

// View renders the interface
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading CLI..."
	}
	return m.renderLayout()
}

func (m *Model) renderLayout() string {
	l := m.computeLayout()

	main := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderList(l.listWidth, l.mainHeight),
		m.renderEditor(l.editorWidth, l.mainHeight),
	)

	sections := []string{main}
	if m.showLogs {
		sections = append(sections, m.renderLogs(l.bottomWidth))
	}
	if m.showStats {
		sections = append(sections, m.renderStats(l.bottomWidth))
	}
	sections = append(sections, m.renderStatusBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) panelStyle(focused bool, width, height int) lipgloss.Style {
	style := m.styles.panel
	if focused {
		style = m.styles.activePanel
	}
	// Width and Height exclude the border
	return style.Width(width - 2).Height(height - 2)
}

func (m *Model) renderList(width, height int) string {
	inner := width - 4
	var b strings.Builder
	b.WriteString(m.styles.title.Render("Notes"))
	b.WriteString("\n")

	switch {
	case len(m.state.Notes) == 0 && m.state.IsLoading:
		b.WriteString(m.styles.subtle.Render("Loading notes..."))
	case len(m.state.Notes) == 0:
		b.WriteString(m.styles.subtle.Width(inner).Render(emptyListMessage))
	default:
		// each note takes two lines
		visible := max(1, (height-3)/2)
		start, end := visibleRange(m.state.Notes, m.state.ActiveNoteID, visible)
		for _, note := range m.state.Notes[start:end] {
			style := m.styles.item
			if note.ID == m.state.ActiveNoteID {
				style = m.styles.selected
			}
			b.WriteString(style.MaxWidth(inner).Render(note.DisplayTitle()))
			b.WriteString("\n")

			stamp := formatTimestamp(note.UpdatedAt)
			excerpt := notes.Excerpt(note.Content, inner-len(stamp)-1)
			line := m.styles.timestamp.Render(stamp)
			if excerpt != "" {
				line += " " + m.styles.excerpt.Render(excerpt)
			}
			b.WriteString(lipgloss.NewStyle().MaxWidth(inner).Render(line))
			b.WriteString("\n")
		}
	}

	return m.panelStyle(m.focus == focusList, width, height).Render(b.String())
}

// visibleRange keeps the active note inside the window of visible notes
func visibleRange(list []store.Note, activeID string, visible int) (int, int) {
	if len(list) <= visible {
		return 0, len(list)
	}
	active := 0
	for i, note := range list {
		if note.ID == activeID {
			active = i
			break
		}
	}
	start := max(0, active-visible+1)
	return start, min(len(list), start+visible)
}

func (m *Model) renderEditor(width, height int) string {
	focused := m.focus != focusList
	note, ok := m.state.ActiveNote()
	if !ok {
		placeholder := lipgloss.Place(width-4, height-2, lipgloss.Center, lipgloss.Center,
			m.styles.subtle.Render(noSelectionText))
		return m.panelStyle(false, width, height).Render(placeholder)
	}

	inner := width - 4
	var b strings.Builder
	b.WriteString(m.styles.title.Render("Title"))
	b.WriteString("\n")
	b.WriteString(m.title.View())
	b.WriteString("\n")
	b.WriteString(m.styles.subtle.Render(strings.Repeat("─", max(0, inner))))
	b.WriteString("\n")
	b.WriteString(m.content.View())
	b.WriteString("\n")
	b.WriteString(m.styles.timestamp.Render("Updated " + formatTimestamp(note.UpdatedAt)))

	return m.panelStyle(focused, width, height).Render(b.String())
}

func (m *Model) renderLogs(width int) string {
	var body string
	if len(m.logLines) == 0 {
		body = m.styles.subtle.Render("Waiting for logs...")
	} else {
		body = m.logs.View()
	}
	return m.panelStyle(false, width, bottomPanelHeight).Render(m.styles.title.Render("Logs") + "\n" + body)
}

func (m *Model) renderStats(width int) string {
	var body string
	if len(m.statsTable.Rows()) == 0 {
		body = m.styles.subtle.Render("No storage activity yet")
	} else {
		body = m.statsTable.View()
	}
	return m.panelStyle(false, width, bottomPanelHeight).Render(m.styles.title.Render("Storage") + "\n" + body)
}

func (m *Model) renderStatusBar() string {
	var status string
	if m.confirmDelete {
		note, _ := m.state.ActiveNote()
		status = m.styles.warning.Render(fmt.Sprintf("Delete %q? (y/n)", note.DisplayTitle()))
	} else {
		parts := []string{fmt.Sprintf("%d notes", len(m.state.Notes))}
		if m.options.Backend != "" {
			parts = append([]string{m.options.Backend}, parts...)
		}
		if pending := m.appConfig.Store.PendingWrites(); pending > 0 {
			parts = append(parts, fmt.Sprintf("saving (%d)", pending))
		} else {
			parts = append(parts, "saved")
		}
		status = m.styles.status.Render(strings.Join(parts, " · "))
		if m.normalized {
			status += "  " + m.styles.warning.Render(normalizedWarning)
		}
	}

	m.keys.confirming = m.confirmDelete
	m.keys.editing = m.focus != focusList
	return status + "\n" + m.styles.subtle.Render(m.help.View(m.keys))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timestampLayout)
}
