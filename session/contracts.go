// Package session drives a single BLE peripheral connection from scan to streaming
// notifications. All state lives on one worker goroutine; radio events and user commands are
// both marshaled onto its queue.
package session

import (
	"strings"

	"github.com/robertof/go-ble-thermo/device"
)

// Handle identifies a connection opened by a Radio. The zero value means "no connection".
type Handle uint64

// Radio is the asynchronous BLE stack a session drives. Commands return immediately; their
// outcome is delivered later through the handler installed with SetEventHandler. The handler
// may be invoked from any goroutine.
type Radio interface {
	// Available reports whether BLE hardware is present and usable.
	Available() bool
	SetEventHandler(h func(Event))

	StartScan() error
	// StopScan must be safe to call when no scan is active.
	StopScan() error

	Connect(address string) (Handle, error)
	DiscoverServices(h Handle) error
	// SetNotify arms or disarms local delivery of the characteristic's notifications.
	SetNotify(h Handle, sd device.ServiceDescriptor, enabled bool) error
	// WriteDescriptor writes value to the descriptor's notification descriptor (CCCD).
	WriteDescriptor(h Handle, sd device.ServiceDescriptor, value []byte) error
	// Close must be safe to call for unknown or already closed handles.
	Close(h Handle) error
}

// Capability is a runtime permission guarding privileged radio operations.
type Capability uint8

const (
	CapabilityScan Capability = iota
	CapabilityConnect
	CapabilityLocation
)

func (c Capability) String() string {
	switch c {
	case CapabilityScan:
		return "scan"
	case CapabilityConnect:
		return "connect"
	case CapabilityLocation:
		return "location"
	default:
		return "unknown"
	}
}

func joinCapabilities(caps []Capability) string {
	names := make([]string, len(caps))

	for i, c := range caps {
		names[i] = c.String()
	}

	return strings.Join(names, ", ")
}

// PermissionGate reports whether a capability is currently granted. Grants may change between
// any two calls.
type PermissionGate interface {
	IsGranted(c Capability) bool
}

// UserInterface receives human readable progress. Calls happen on the session worker and must
// not call back into the session synchronously.
type UserInterface interface {
	OnStatus(text string)
	OnReading(text string)
}

// PermissionPrompter is implemented by user interfaces able to ask the user for missing
// capabilities. The session never retries on its own; the UI calls Start again once granted.
type PermissionPrompter interface {
	RequestPermissions(missing []Capability)
}

// StateObserver is implemented by user interfaces that render the session state.
type StateObserver interface {
	OnStateChanged(state State)
}
