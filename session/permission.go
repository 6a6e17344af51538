package session

import (
	"fmt"
	"strings"
)

// PermissionModel selects which capabilities are runtime grants on the host platform.
type PermissionModel string

const (
	// PermissionModelModern treats scan, connect and location as revocable runtime grants.
	PermissionModelModern PermissionModel = "modern"
	// PermissionModelLegacy only treats location as a runtime grant; scan and connect are
	// granted at install time.
	PermissionModelLegacy PermissionModel = "legacy"
)

func (m PermissionModel) String() string {
	return string(m)
}

func (m *PermissionModel) UnmarshalText(text []byte) error {
	switch v := PermissionModel(strings.ToLower(string(text))); v {
	case "":
		*m = PermissionModelModern
	case PermissionModelModern, PermissionModelLegacy:
		*m = v
	default:
		return fmt.Errorf("unknown permission model %q (must be one of %q or %q)",
			v, PermissionModelModern, PermissionModelLegacy)
	}

	return nil
}

type operation uint8

const (
	opSessionStart operation = iota
	opStartScan
	opStopScan
	opConnect
	opDiscoverServices
	opSetNotify
	opWriteDescriptor
	opClose
)

func (o operation) String() string {
	switch o {
	case opSessionStart:
		return "start"
	case opStartScan:
		return "start scan"
	case opStopScan:
		return "stop scan"
	case opConnect:
		return "connect"
	case opDiscoverServices:
		return "discover services"
	case opSetNotify:
		return "set notify"
	case opWriteDescriptor:
		return "write descriptor"
	case opClose:
		return "close connection"
	default:
		return "unknown"
	}
}

// required returns the capabilities that must be granted right before op.
func (m PermissionModel) required(op operation) []Capability {
	if m == PermissionModelLegacy {
		switch op {
		case opSessionStart, opStartScan:
			return []Capability{CapabilityLocation}
		default:
			return nil
		}
	}

	switch op {
	case opSessionStart:
		return []Capability{CapabilityScan, CapabilityConnect, CapabilityLocation}
	case opStartScan:
		return []Capability{CapabilityScan, CapabilityLocation}
	case opStopScan:
		return []Capability{CapabilityScan}
	default:
		return []Capability{CapabilityConnect}
	}
}

// missing queries the gate afresh and returns every required capability not granted.
func missing(gate PermissionGate, caps []Capability) (out []Capability) {
	for _, c := range caps {
		if !gate.IsGranted(c) {
			out = append(out, c)
		}
	}

	return out
}
