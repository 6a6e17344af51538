package permission

import (
	"github.com/robertof/go-ble-thermo/session"
	"github.com/rs/zerolog/log"
)

// Process grants scan and connect when the running process may open raw HCI sockets. Location is
// not a runtime grant on desktop hosts and is always granted. Every query inspects the process
// afresh, so capabilities dropped at runtime are noticed before the next radio operation.
type Process struct {
	// Overrides replaces the process check for individual capabilities.
	Overrides map[session.Capability]bool
}

var _ session.PermissionGate = (*Process)(nil)

func (p *Process) IsGranted(c session.Capability) bool {
	if v, ok := p.Overrides[c]; ok {
		return v
	}

	switch c {
	case session.CapabilityLocation:
		return true
	case session.CapabilityScan, session.CapabilityConnect:
		ok, err := hasRadioCapabilities()

		if err != nil {
			log.Warn().Err(err).Stringer("Capability", c).Msg("permission: unable to inspect process capabilities")
			return false
		}

		return ok
	default:
		return false
	}
}
