package session

import (
	"fmt"

	"github.com/robertof/go-ble-thermo/device"
)

// Event is an asynchronous notification emitted by a Radio.
type Event interface {
	fmt.Stringer
	event()
}

// DeviceFound is emitted for every advertisement received while scanning.
type DeviceFound struct {
	Identity device.Identity
}

// Android-compatible scan failure codes. Backends use them when their stack has no code.
const (
	ScanFailedAlreadyStarted = 1
	ScanFailedRegistration = 2
	ScanFailedInternalError = 3
	ScanFailedFeatureUnsupported = 4
)

// ScanFailed is emitted when an active scan stops because of an error.
type ScanFailed struct {
	Code int
	Err error
}

// ConnectionStateChanged is emitted when a connection opened by Connect comes up or goes away,
// including when it could not be established at all.
type ConnectionStateChanged struct {
	Handle Handle
	Connected bool
	Err error
}

// ServicesDiscovered carries the outcome of DiscoverServices.
type ServicesDiscovered struct {
	Handle Handle
	OK bool
	Services []device.Service
	Err error
}

// DescriptorWritten carries the outcome of WriteDescriptor.
type DescriptorWritten struct {
	Handle Handle
	OK bool
	Err error
}

// CharacteristicChanged carries a notification payload.
type CharacteristicChanged struct {
	Handle Handle
	Value []byte
}

func (DeviceFound) event() {}
func (ScanFailed) event() {}
func (ConnectionStateChanged) event() {}
func (ServicesDiscovered) event() {}
func (DescriptorWritten) event() {}
func (CharacteristicChanged) event() {}

func (e DeviceFound) String() string {
	return fmt.Sprintf("DeviceFound(%v)", e.Identity)
}

func (e ScanFailed) String() string {
	return fmt.Sprintf("ScanFailed(code=%d, err=%v)", e.Code, e.Err)
}

func (e ConnectionStateChanged) String() string {
	return fmt.Sprintf("ConnectionStateChanged(handle=%d, connected=%v, err=%v)", e.Handle, e.Connected, e.Err)
}

func (e ServicesDiscovered) String() string {
	return fmt.Sprintf("ServicesDiscovered(handle=%d, ok=%v, services=%d)", e.Handle, e.OK, len(e.Services))
}

func (e DescriptorWritten) String() string {
	return fmt.Sprintf("DescriptorWritten(handle=%d, ok=%v, err=%v)", e.Handle, e.OK, e.Err)
}

func (e CharacteristicChanged) String() string {
	return fmt.Sprintf("CharacteristicChanged(handle=%d, len=%d)", e.Handle, len(e.Value))
}
