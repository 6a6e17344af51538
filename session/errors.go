package session

import (
	"fmt"
	"strconv"
)

// ErrorKind classifies session failures. Kinds are comparable with errors.Is against any error
// returned by the session.
type ErrorKind uint8

const (
	Unsupported ErrorKind = iota + 1
	PermissionDenied
	DeviceNotFound
	ScanFailedError
	ConnectionLost
	ServiceNotFound
	NotificationSetupFailed
	// DecodeError is reported but never fails the session.
	DecodeError
	// Internal covers faults raised while handling an event.
	Internal
)

func (k ErrorKind) String() string {
	switch k {
	case Unsupported:
		return "Unsupported"
	case PermissionDenied:
		return "PermissionDenied"
	case DeviceNotFound:
		return "DeviceNotFound"
	case ScanFailedError:
		return "ScanFailed"
	case ConnectionLost:
		return "ConnectionLost"
	case ServiceNotFound:
		return "ServiceNotFound"
	case NotificationSetupFailed:
		return "NotificationSetupFailed"
	case DecodeError:
		return "DecodeError"
	case Internal:
		return "Internal"
	default:
		return "ErrorKind(" + strconv.Itoa(int(k)) + ")"
	}
}

func (k ErrorKind) Error() string {
	return k.String()
}

// Error is a classified session failure.
type Error struct {
	Kind ErrorKind
	// Code is the radio stack's scan failure code, only set for ScanFailedError.
	Code int
	// Missing lists the capabilities that were not granted, only set for PermissionDenied.
	Missing []Capability
	// Status is the text reported to the user interface.
	Status string
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.String()

	switch {
	case e.Kind == ScanFailedError:
		msg += fmt.Sprintf(" (code %d)", e.Code)
	case len(e.Missing) > 0:
		msg += " (" + joinCapabilities(e.Missing) + ")"
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)

	return ok && k == e.Kind
}

func newError(kind ErrorKind, status string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Err: cause}
}
