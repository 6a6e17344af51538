package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains all the lipgloss styles for the TUI.
type Styles struct {
	App lipgloss.Style

	Title    lipgloss.Style
	TitleBar lipgloss.Style

	StateIdle      lipgloss.Style
	StateBusy      lipgloss.Style
	StateStreaming lipgloss.Style
	StateFailed    lipgloss.Style

	Status  lipgloss.Style
	Reading lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style

	HistoryItem lipgloss.Style

	Help lipgloss.Style
}

func DefaultStyles() Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special := lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	muted := lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}

	return Styles{
		App: lipgloss.NewStyle().
			Padding(1, 2),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(highlight).
			Padding(0, 1),

		TitleBar: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			Background(subtle).
			Padding(0, 1).
			MarginBottom(1),

		StateIdle: lipgloss.NewStyle().
			Foreground(muted),

		StateBusy: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		StateStreaming: lipgloss.NewStyle().
			Foreground(special).
			Bold(true),

		StateFailed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true),

		Status: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}),

		Reading: lipgloss.NewStyle().
			Bold(true).
			Foreground(special).
			Padding(1, 0),

		Label: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#626262"}).
			Width(14),

		Muted: lipgloss.NewStyle().
			Foreground(muted),

		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFCC00")),

		HistoryItem: lipgloss.NewStyle().
			PaddingLeft(2),

		Help: lipgloss.NewStyle().
			Foreground(muted).
			MarginTop(1),
	}
}
