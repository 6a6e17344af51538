package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the TUI until the user quits. The sink is attached to the program before it starts.
func Run(ctrl Controller, sink *Sink, autoStart bool, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(NewModel(ctrl, autoStart), append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
	sink.Attach(p)

	_, err := p.Run()

	return err
}
