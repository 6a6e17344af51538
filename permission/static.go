// Package permission provides session.PermissionGate implementations for desktop hosts.
package permission

import (
	"sync"

	"github.com/robertof/go-ble-thermo/session"
	"github.com/robertof/go-ble-thermo/utils"
	"github.com/rs/zerolog/log"
)

// Static grants an explicit, mutable set of capabilities.
type Static struct {
	mu sync.RWMutex
	granted map[session.Capability]bool
}

var _ session.PermissionGate = (*Static)(nil)

func NewStatic(caps ...session.Capability) *Static {
	s := &Static{granted: make(map[session.Capability]bool, len(caps))}

	for _, c := range caps {
		s.granted[c] = true
	}

	return s
}

// All grants every capability.
func All() *Static {
	return NewStatic(session.CapabilityScan, session.CapabilityConnect, session.CapabilityLocation)
}

func (s *Static) IsGranted(c session.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.granted[c]
}

func (s *Static) Grant(caps ...session.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range caps {
		s.granted[c] = true
	}

	log.Debug().Array("Capabilities", utils.ToZeroLogArray(caps)).Msg("permission: granted")
}

func (s *Static) Revoke(caps ...session.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range caps {
		delete(s.granted, c)
	}

	log.Debug().Array("Capabilities", utils.ToZeroLogArray(caps)).Msg("permission: revoked")
}
