package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for the editor
type Theme struct {
	Name      string
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Border    lipgloss.Color
	Subtle    lipgloss.Color
	Highlight lipgloss.Color
}

var (
	darkTheme = Theme{
		Name:      "dark",
		Primary:   lipgloss.Color("#FFFFFF"),
		Secondary: lipgloss.Color("#808080"),
		Accent:    lipgloss.Color("#00FFFF"),
		Success:   lipgloss.Color("#00FF00"),
		Warning:   lipgloss.Color("#FFFF00"),
		Error:     lipgloss.Color("#FF0000"),
		Border:    lipgloss.Color("#0000FF"),
		Subtle:    lipgloss.Color("#666666"),
		Highlight: lipgloss.Color("#FFFF00"),
	}

	lightTheme = Theme{
		Name:      "light",
		Primary:   lipgloss.Color("#000000"),
		Secondary: lipgloss.Color("#404040"),
		Accent:    lipgloss.Color("#008080"),
		Success:   lipgloss.Color("#006400"),
		Warning:   lipgloss.Color("#FF8C00"),
		Error:     lipgloss.Color("#8B0000"),
		Border:    lipgloss.Color("#000080"),
		Subtle:    lipgloss.Color("#999999"),
		Highlight: lipgloss.Color("#000080"),
	}
)

// GetTheme returns the theme by name, falling back to dark
func GetTheme(name string) Theme {
	if strings.EqualFold(name, "light") {
		return lightTheme
	}
	return darkTheme
}

// styles are derived once per theme
type styles struct {
	panel       lipgloss.Style
	activePanel lipgloss.Style
	title       lipgloss.Style
	selected    lipgloss.Style
	item        lipgloss.Style
	timestamp   lipgloss.Style
	excerpt     lipgloss.Style
	subtle      lipgloss.Style
	warning     lipgloss.Style
	status      lipgloss.Style
	logInfo     lipgloss.Style
	logError    lipgloss.Style
}

func newStyles(theme Theme) styles {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Border).
		Padding(0, 1)

	return styles{
		panel:       panel,
		activePanel: panel.BorderForeground(theme.Accent),
		title:       lipgloss.NewStyle().Foreground(theme.Highlight).Bold(true),
		selected:    lipgloss.NewStyle().Foreground(theme.Primary).Background(theme.Border).Bold(true),
		item:        lipgloss.NewStyle().Foreground(theme.Primary),
		timestamp:   lipgloss.NewStyle().Foreground(theme.Secondary),
		excerpt:     lipgloss.NewStyle().Foreground(theme.Subtle),
		subtle:      lipgloss.NewStyle().Foreground(theme.Subtle),
		warning:     lipgloss.NewStyle().Foreground(theme.Warning).Bold(true),
		status:      lipgloss.NewStyle().Foreground(theme.Success),
		logInfo:     lipgloss.NewStyle().Foreground(theme.Primary),
		logError:    lipgloss.NewStyle().Foreground(theme.Error).Bold(true),
	}
}
