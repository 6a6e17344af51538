package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/robertof/go-ble-thermo/session"
)

// Sink forwards session callbacks to a running program as messages. Callbacks arriving before
// Attach are dropped.
type Sink struct {
	mu sync.RWMutex
	p  *tea.Program
}

var (
	_ session.UserInterface      = (*Sink)(nil)
	_ session.StateObserver      = (*Sink)(nil)
	_ session.PermissionPrompter = (*Sink)(nil)
)

func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.p = p
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.RLock()
	p := s.p
	s.mu.RUnlock()

	if p != nil {
		p.Send(msg)
	}
}

func (s *Sink) OnStatus(text string) {
	s.send(StatusMsg(text))
}

func (s *Sink) OnReading(text string) {
	s.send(ReadingMsg(text))
}

func (s *Sink) OnStateChanged(state session.State) {
	s.send(StateMsg(state))
}

func (s *Sink) RequestPermissions(missing []session.Capability) {
	s.send(PermissionsMsg(append([]session.Capability(nil), missing...)))
}
