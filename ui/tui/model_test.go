package tui

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
)

type fakeController struct {
	mu sync.Mutex

	starts, records, teardowns int
	latest string
	history []device.Reading
}

func (c *fakeController) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
}

func (c *fakeController) RecordCurrentReading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records++

	if c.latest != "" {
		c.history = append(c.history, device.Reading{Text: c.latest, ReceivedAt: time.Unix(0, 0)})
	}
}

func (c *fakeController) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardowns++
}

func (c *fakeController) History() []device.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.Reading(nil), c.history...)
}

func (c *fakeController) Target() device.Target {
	return device.Target{Name: "ESP32-Thermo"}
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// press feeds a key to the model and runs the resulting command, feeding its message back.
func press(t *testing.T, m Model, r rune) Model {
	t.Helper()

	next, cmd := m.Update(keyPress(r))
	m = next.(Model)

	if cmd == nil {
		return m
	}

	if msg := cmd(); msg != nil {
		next, _ = m.Update(msg)
		m = next.(Model)
	}

	return m
}

func update(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	return m
}

func TestKeysDriveController(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, false)

	m = press(t, m, 's')
	m = press(t, m, 'r')
	m = press(t, m, 'd')

	if ctrl.starts != 1 || ctrl.records != 1 || ctrl.teardowns != 1 {
		t.Fatalf("controller calls: got start=%d record=%d teardown=%d, wanted 1 each",
			ctrl.starts, ctrl.records, ctrl.teardowns)
	}

	_, cmd := m.Update(keyPress('q'))

	if cmd == nil {
		t.Fatal("q: expected a quit command")
	}

	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q: command did not quit")
	}
}

func TestReadingAndStatusAreRendered(t *testing.T) {
	m := NewModel(&fakeController{}, false)

	m = update(m,
		StateMsg(session.StateStreaming),
		StatusMsg("Ready for temperature readings..."),
		ReadingMsg("23.5"),
	)

	view := m.View()

	for _, want := range []string{"Ready for temperature readings...", "Temperature: 23.5 °C", "Streaming"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() does not contain %q:\n%s", want, view)
		}
	}

	m = update(m, StateMsg(session.StateDisconnected))

	if strings.Contains(m.View(), "23.5") {
		t.Error("reading should be cleared once disconnected")
	}
}

func TestHistoryView(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, false)

	m = press(t, m, 'h')

	if !strings.Contains(m.View(), "No temperature history yet.") {
		t.Fatalf("empty history not reported:\n%s", m.View())
	}

	ctrl.latest = "21.5"
	m = press(t, m, 'r')

	if !strings.Contains(m.View(), "🌡 21.5 °C") {
		t.Fatalf("recorded reading not listed:\n%s", m.View())
	}

	m = press(t, m, 'h')

	if strings.Contains(m.View(), "🌡 21.5 °C") {
		t.Fatal("history should be hidden after toggling it off")
	}
}

func TestMissingPermissionsAreShownUntilRetry(t *testing.T) {
	m := NewModel(&fakeController{}, false)

	m = update(m,
		StateMsg(session.StateFailed),
		PermissionsMsg{session.CapabilityScan, session.CapabilityConnect},
	)

	if !strings.Contains(m.View(), "Missing permissions: scan, connect") {
		t.Fatalf("missing permissions not shown:\n%s", m.View())
	}

	m = update(m, StateMsg(session.StatePermissionPending))

	if strings.Contains(m.View(), "Missing permissions") {
		t.Fatal("missing permissions should clear on a new attempt")
	}
}

func TestSinkWithoutProgramDropsMessages(t *testing.T) {
	var s Sink

	s.OnStatus("Scanning for ESP32-Thermo...")
	s.OnReading("20.0")
	s.OnStateChanged(session.StateScanning)
	s.RequestPermissions([]session.Capability{session.CapabilityScan})
}
