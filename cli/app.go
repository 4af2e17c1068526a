package cli

import (
	"fmt"

	"github.com/brunoscheufler/notepad/notes"
	"github.com/brunoscheufler/notepad/telemetry"
	tea "github.com/charmbracelet/bubbletea"
)

// AppConfig groups common application dependencies to reduce parameter lists
type AppConfig struct {
	Store     *notes.Store
	Telemetry *telemetry.Telemetry
}

type CLIOptions struct {
	Theme string
	// Backend describes where notes are persisted, shown in the status bar
	Backend string
}

// RunCLI starts the editor and blocks until the user quits
func RunCLI(noteStore *notes.Store, tel *telemetry.Telemetry, options CLIOptions) error {
	appConfig := &AppConfig{
		Store:     noteStore,
		Telemetry: tel,
	}

	model := NewModel(appConfig, options)
	defer model.Close()

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("editor failed: %w", err)
	}
	return nil
}
