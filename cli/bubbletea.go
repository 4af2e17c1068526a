package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/brunoscheufler/notepad/notes"
	"github.com/brunoscheufler/notepad/store"
	"github.com/brunoscheufler/notepad/telemetry"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxLogLines = 100

type focusArea int

const (
	focusList focusArea = iota
	focusTitle
	focusContent
)

// Model is the editor: a note list on the left, the active note on the right
type Model struct {
	appConfig *AppConfig
	options   CLIOptions

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Screen dimensions
	width  int
	height int

	theme  Theme
	styles styles
	keys   keyMap
	help   help.Model

	title      textinput.Model
	content    textarea.Model
	logs       viewport.Model
	statsTable table.Model

	focus         focusArea
	confirmDelete bool
	showLogs      bool
	showStats     bool

	// last state read from the store
	state notes.State
	// note loaded into the inputs and the values as they were loaded or last saved
	editingID     string
	syncedTitle   string
	syncedContent string
	// the inputs could not hold the stored values verbatim (tabs, carriage returns,
	// newlines in titles); saving an edit writes the input's version
	normalized bool

	changes     <-chan struct{}
	unsubscribe func()
	logChan     chan telemetry.LogLine
	logLines    []telemetry.LogLine
}

// Key bindings
type keyMap struct {
	confirming bool
	editing    bool

	New         key.Binding
	Delete      key.Binding
	Confirm     key.Binding
	Cancel      key.Binding
	NextFocus   key.Binding
	PrevFocus   key.Binding
	Edit        key.Binding
	Back        key.Binding
	Up          key.Binding
	Down        key.Binding
	ToggleLogs  key.Binding
	ToggleStats key.Binding
	Quit        key.Binding
	ForceQuit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	switch {
	case k.confirming:
		return []key.Binding{k.Confirm, k.Cancel}
	case k.editing:
		return []key.Binding{k.New, k.Delete, k.NextFocus, k.Back, k.ToggleLogs, k.ToggleStats, k.ForceQuit}
	default:
		return []key.Binding{k.Up, k.Down, k.Edit, k.New, k.Delete, k.NextFocus, k.ToggleLogs, k.ToggleStats, k.Quit}
	}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newKeyMap() keyMap {
	return keyMap{
		New: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("ctrl+n", "new note"),
		),
		Delete: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("ctrl+d", "delete"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", "confirm delete"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("n", "N", "esc"),
			key.WithHelp("n", "keep note"),
		),
		NextFocus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next pane"),
		),
		PrevFocus: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "previous pane"),
		),
		Edit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "edit"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back to list"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "previous note"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "next note"),
		),
		ToggleLogs: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("ctrl+l", "logs"),
		),
		ToggleStats: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("ctrl+s", "stats"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

var statsColumns = []table.Column{
	{Title: "Source", Width: 8},
	{Title: "Operation", Width: 18},
	{Title: "Status", Width: 6},
	{Title: "Total", Width: 8},
	{Title: "RPM", Width: 6},
	{Title: "P95ms", Width: 8},
}

// NewModel creates the editor model and subscribes it to the store
func NewModel(appConfig *AppConfig, options CLIOptions) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	theme := GetTheme(options.Theme)

	title := textinput.New()
	title.Placeholder = store.UntitledLabel
	title.Prompt = ""
	title.CharLimit = 0

	content := textarea.New()
	content.Placeholder = "Start writing..."
	content.ShowLineNumbers = false
	content.CharLimit = 0
	content.MaxHeight = 0

	tableStyles := table.DefaultStyles()
	tableStyles.Header = tableStyles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Border).
		BorderBottom(true).
		Bold(false).
		Foreground(theme.Highlight)
	tableStyles.Selected = lipgloss.NewStyle()

	statsTable := table.New(
		table.WithColumns(statsColumns),
		table.WithFocused(false),
		table.WithHeight(6),
		table.WithStyles(tableStyles),
	)

	changes, unsubscribe := appConfig.Store.Subscribe()

	m := &Model{
		appConfig:   appConfig,
		options:     options,
		ctx:         ctx,
		cancel:      cancel,
		theme:       theme,
		styles:      newStyles(theme),
		keys:        newKeyMap(),
		help:        help.New(),
		title:       title,
		content:     content,
		logs:        viewport.New(0, 0),
		statsTable:  statsTable,
		changes:     changes,
		unsubscribe: unsubscribe,
		logChan:     make(chan telemetry.LogLine, maxLogLines),
	}
	m.refresh()
	return m
}

// Close stops listening to the store and the log capture
func (m *Model) Close() {
	m.cancel()
	m.unsubscribe()
	if m.appConfig.Telemetry != nil && m.appConfig.Telemetry.LogCapture != nil {
		m.appConfig.Telemetry.LogCapture.OnLine(nil)
	}
}

// Message types for updates
type (
	tickMsg         time.Time
	logMsg          telemetry.LogLine
	storeChangedMsg struct{}
	loadedMsg       struct{}
)

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadCmd(),
		m.waitForChange(),
		m.tickCmd(),
		m.setupLogCapture(),
	)
}

func (m *Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		m.appConfig.Store.Load(m.ctx)
		return loadedMsg{}
	}
}

// waitForChange delivers the next store change signal
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changes:
			return storeChangedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// tickCmd returns a command that sends a tick message every second
func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// setupLogCapture seeds the log pane with recent logs and forwards new ones
func (m *Model) setupLogCapture() tea.Cmd {
	if m.appConfig.Telemetry == nil || m.appConfig.Telemetry.LogCapture == nil {
		return nil
	}
	capture := m.appConfig.Telemetry.LogCapture

	for _, line := range capture.Recent(maxLogLines) {
		m.appendLog(line)
	}

	capture.OnLine(func(line telemetry.LogLine) {
		select {
		case m.logChan <- line:
		default:
			// Channel is full, drop the message
		}
	})

	return m.listenForLogs()
}

func (m *Model) listenForLogs() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.logChan:
			return logMsg(msg)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case storeChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case loadedMsg:
		m.refresh()
		return m, nil

	case tickMsg:
		if m.showStats {
			m.updateStats()
		}
		return m, m.tickCmd()

	case logMsg:
		m.appendLog(telemetry.LogLine(msg))
		return m, m.listenForLogs()
	}

	return m, m.updateFocused(msg)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.confirmDelete {
		m.confirmDelete = false
		if key.Matches(msg, m.keys.Confirm) {
			if note, ok := m.state.ActiveNote(); ok {
				m.appConfig.Store.Delete(note.ID)
				m.refresh()
			}
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.New):
		m.appConfig.Store.Add()
		m.refresh()
		return m, m.setFocus(focusTitle)

	case key.Matches(msg, m.keys.Delete):
		if _, ok := m.state.ActiveNote(); ok {
			m.confirmDelete = true
		}
		return m, nil

	case key.Matches(msg, m.keys.NextFocus):
		return m, m.cycleFocus(1)

	case key.Matches(msg, m.keys.PrevFocus):
		return m, m.cycleFocus(-1)

	case key.Matches(msg, m.keys.ToggleLogs):
		m.showLogs = !m.showLogs
		m.resize()
		return m, nil

	case key.Matches(msg, m.keys.ToggleStats):
		m.showStats = !m.showStats
		if m.showStats {
			m.updateStats()
		}
		m.resize()
		return m, nil
	}

	if m.focus != focusList {
		if key.Matches(msg, m.keys.Back) {
			return m, m.setFocus(focusList)
		}
		return m, m.updateFocused(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		m.moveSelection(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveSelection(1)
	case key.Matches(msg, m.keys.Edit):
		if _, ok := m.state.ActiveNote(); ok {
			return m, m.setFocus(focusContent)
		}
	}
	return m, nil
}

// updateFocused forwards msg to the focused input and saves what changed
func (m *Model) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.focus {
	case focusTitle:
		m.title, cmd = m.title.Update(msg)
	case focusContent:
		m.content, cmd = m.content.Update(msg)
	default:
		return nil
	}
	m.commitEdits()
	return cmd
}

func (m *Model) commitEdits() {
	if m.editingID == "" {
		return
	}

	var patch notes.Patch
	if title := m.title.Value(); title != m.syncedTitle {
		patch.Title = &title
		m.syncedTitle = title
	}
	if content := m.content.Value(); content != m.syncedContent {
		patch.Content = &content
		m.syncedContent = content
	}
	if patch.Title == nil && patch.Content == nil {
		return
	}

	m.appConfig.Store.Update(m.editingID, patch)
	m.refresh()
}

// refresh re-reads the store. The inputs are reloaded when the active note changes
// or while the list has focus, so typing is never overwritten mid-edit.
func (m *Model) refresh() {
	m.state = m.appConfig.Store.Snapshot()

	note, ok := m.state.ActiveNote()
	if !ok {
		m.editingID = ""
		m.normalized = false
		m.confirmDelete = false
		if m.focus != focusList {
			m.setFocus(focusList)
		}
		return
	}

	if note.ID != m.editingID || m.focus == focusList {
		m.loadEditor(note)
	}
}

func (m *Model) loadEditor(note store.Note) {
	m.editingID = note.ID
	m.title.SetValue(note.Title)
	m.content.SetValue(note.Content)
	m.syncedTitle = m.title.Value()
	m.syncedContent = m.content.Value()
	m.normalized = m.syncedTitle != note.Title || m.syncedContent != note.Content
}

func (m *Model) setFocus(focus focusArea) tea.Cmd {
	m.focus = focus
	m.title.Blur()
	m.content.Blur()

	switch focus {
	case focusTitle:
		return m.title.Focus()
	case focusContent:
		return m.content.Focus()
	}
	return nil
}

func (m *Model) cycleFocus(step int) tea.Cmd {
	if _, ok := m.state.ActiveNote(); !ok {
		return m.setFocus(focusList)
	}
	next := (int(m.focus) + step + 3) % 3
	return m.setFocus(focusArea(next))
}

func (m *Model) moveSelection(delta int) {
	if len(m.state.Notes) == 0 {
		return
	}

	idx := slices.IndexFunc(m.state.Notes, func(n store.Note) bool {
		return n.ID == m.state.ActiveNoteID
	})
	if idx < 0 {
		idx = 0
	} else {
		idx = max(0, min(len(m.state.Notes)-1, idx+delta))
	}

	m.appConfig.Store.SetActive(m.state.Notes[idx].ID)
	m.refresh()
}

func (m *Model) appendLog(line telemetry.LogLine) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}

	rendered := make([]string, len(m.logLines))
	for i, l := range m.logLines {
		rendered[i] = m.logStyle(l.Level).Render(l.Text)
	}
	m.logs.SetContent(strings.Join(rendered, "\n"))
	m.logs.GotoBottom()
}

func (m *Model) logStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return m.styles.logError
	case level >= slog.LevelWarn:
		return m.styles.warning
	case level < slog.LevelInfo:
		return m.styles.subtle
	default:
		return m.styles.logInfo
	}
}

func (m *Model) updateStats() {
	if m.appConfig.Telemetry == nil {
		return
	}
	stats := m.appConfig.Telemetry.GetStatsCollector().Export()

	var rows []table.Row
	for _, stat := range stats.GatewayAccess {
		status := "✓"
		if !stat.Success {
			status = "✗"
		}
		rows = append(rows, table.Row{
			"gateway",
			stat.Operation,
			status,
			fmt.Sprintf("%d", stat.Metrics.TotalCount),
			fmt.Sprintf("%d", stat.Metrics.RequestsPerMin),
			fmt.Sprintf("%d", stat.Metrics.DurationP95),
		})
	}
	for _, stat := range stats.APIRequests {
		rows = append(rows, table.Row{
			"api",
			stat.Method + " " + stat.Route,
			fmt.Sprintf("%d", stat.Status),
			fmt.Sprintf("%d", stat.Metrics.TotalCount),
			fmt.Sprintf("%d", stat.Metrics.RequestsPerMin),
			fmt.Sprintf("%d", stat.Metrics.DurationP95),
		})
	}

	slices.SortFunc(rows, func(a, b table.Row) int {
		return strings.Compare(strings.Join(a[:3], " "), strings.Join(b[:3], " "))
	})
	m.statsTable.SetRows(rows)
}
