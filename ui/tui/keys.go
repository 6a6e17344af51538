package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keybindings for the TUI.
type KeyMap struct {
	Scan       key.Binding
	Record     key.Binding
	History    key.Binding
	Disconnect key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Scan: key.NewBinding(
			key.WithKeys("s", "enter"),
			key.WithHelp("s", "scan"),
		),
		Record: key.NewBinding(
			key.WithKeys("r", " "),
			key.WithHelp("r", "record"),
		),
		History: key.NewBinding(
			key.WithKeys("h", "tab"),
			key.WithHelp("h", "history"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns keybindings to show in the help view (horizontal).
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Scan, k.Record, k.History, k.Disconnect, k.Quit}
}

// FullHelp returns keybindings for the expanded help view.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Scan, k.Disconnect},
		{k.Record, k.History},
		{k.Help, k.Quit},
	}
}
