// Package tui is the interactive terminal front-end of a session.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
)

// Controller is the part of *session.Session the TUI drives.
type Controller interface {
	Start()
	RecordCurrentReading()
	Teardown()
	History() []device.Reading
	Target() device.Target
}

// --- Messages delivered by Sink ---

type StatusMsg string

type ReadingMsg string

type StateMsg session.State

type PermissionsMsg []session.Capability

// historyMsg delivers a history snapshot from an async fetch.
type historyMsg []device.Reading

// Model is the main Bubbletea model for the TUI.
type Model struct {
	ctrl      Controller
	autoStart bool

	state       session.State
	status      string
	reading     string
	missing     []session.Capability
	history     []device.Reading
	showHistory bool
	width       int

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
}

// NewModel builds the model. With autoStart the session starts scanning as soon as the program
// runs.
func NewModel(ctrl Controller, autoStart bool) Model {
	h := help.New()
	h.ShowAll = false

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return Model{
		ctrl:      ctrl,
		autoStart: autoStart,
		state:     session.StateIdle,
		status:    fmt.Sprintf("Press %s to scan for %s", DefaultKeyMap().Scan.Help().Key, ctrl.Target().Name),
		keys:      DefaultKeyMap(),
		help:      h,
		spinner:   s,
		styles:    DefaultStyles(),
	}
}

// --- Commands. Session calls block until the session worker is done, so they never run
// inside Update. ---

func startCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Start()
		return nil
	}
}

func recordCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.RecordCurrentReading()
		return historyMsg(ctrl.History())
	}
}

func historyCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return historyMsg(ctrl.History())
	}
}

func teardownCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Teardown()
		return nil
	}
}

func (m Model) Init() tea.Cmd {
	if m.autoStart {
		return tea.Batch(startCmd(m.ctrl), m.spinner.Tick)
	}

	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StatusMsg:
		m.status = string(msg)
		return m, nil

	case ReadingMsg:
		m.reading = string(msg)
		return m, nil

	case StateMsg:
		m.state = session.State(msg)

		switch m.state {
		case session.StatePermissionPending:
			m.missing = nil
		case session.StateDisconnected:
			// teardown forgets the latest reading
			m.reading = ""
		}

		return m, nil

	case PermissionsMsg:
		m.missing = msg
		return m, nil

	case historyMsg:
		m.history = msg
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Scan):
		return m, startCmd(m.ctrl)

	case key.Matches(msg, m.keys.Record):
		return m, recordCmd(m.ctrl)

	case key.Matches(msg, m.keys.History):
		m.showHistory = !m.showHistory

		if m.showHistory {
			return m, historyCmd(m.ctrl)
		}

		return m, nil

	case key.Matches(msg, m.keys.Disconnect):
		return m, teardownCmd(m.ctrl)

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteString("\n")

	if m.state.Busy() {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}

	b.WriteString(m.styles.Status.Render(m.status))
	b.WriteString("\n")

	if len(m.missing) > 0 {
		names := make([]string, len(m.missing))

		for i, c := range m.missing {
			names[i] = c.String()
		}

		b.WriteString(m.styles.Warning.Render(fmt.Sprintf(
			"Missing permissions: %s. Grant them and press %s to try again.",
			strings.Join(names, ", "),
			m.keys.Scan.Help().Key,
		)))
		b.WriteString("\n")
	}

	b.WriteString(m.renderReading())
	b.WriteString("\n")

	if m.showHistory {
		b.WriteString(m.renderHistory())
	}

	helpView := m.styles.Help.Render(m.help.View(m.keys))

	return m.styles.App.Render(b.String() + "\n" + helpView)
}

func (m Model) renderTitleBar() string {
	title := m.styles.Title.Render("🌡 " + m.ctrl.Target().Name)

	var style lipgloss.Style

	switch {
	case m.state == session.StateStreaming:
		style = m.styles.StateStreaming
	case m.state == session.StateFailed:
		style = m.styles.StateFailed
	case m.state.Busy():
		style = m.styles.StateBusy
	default:
		style = m.styles.StateIdle
	}

	return m.styles.TitleBar.Render(title + " " + style.Render(m.state.String()))
}

func (m Model) renderReading() string {
	if m.reading == "" {
		return m.styles.Reading.Render(m.styles.Muted.Render("Temperature: -- °C"))
	}

	return m.styles.Reading.Render(fmt.Sprintf("Temperature: %s °C", m.reading))
}

func (m Model) renderHistory() string {
	var b strings.Builder

	b.WriteString(m.styles.Label.Render("History"))
	b.WriteString("\n")

	if len(m.history) == 0 {
		b.WriteString(m.styles.Muted.Render("No temperature history yet."))
		b.WriteString("\n")

		return b.String()
	}

	for _, r := range m.history {
		b.WriteString(m.styles.HistoryItem.Render(fmt.Sprintf("🌡 %s °C", r.Text)))
		b.WriteString(" ")
		b.WriteString(m.styles.Muted.Render(r.ReceivedAt.Format("15:04:05")))
		b.WriteString("\n")
	}

	return b.String()
}
