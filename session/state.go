package session

import "strconv"

type State uint8

const (
	StateIdle State = iota
	StatePermissionPending
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateEnablingNotifications
	StateStreaming
	StateDisconnected
	StateFailed
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateIdle,
	StatePermissionPending,
	StateScanning,
	StateConnecting,
	StateDiscoveringServices,
	StateEnablingNotifications,
	StateStreaming,
	StateDisconnected,
	StateFailed,
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePermissionPending:
		return "PermissionPending"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateDiscoveringServices:
		return "DiscoveringServices"
	case StateEnablingNotifications:
		return "EnablingNotifications"
	case StateStreaming:
		return "Streaming"
	case StateDisconnected:
		return "Disconnected"
	case StateFailed:
		return "Failed"
	default:
		panic("unknown session state: " + strconv.Itoa(int(s)))
	}
}

// Terminal reports whether the state only accepts a fresh Start.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// Busy reports whether the session is somewhere between Start and Streaming.
func (s State) Busy() bool {
	return s >= StatePermissionPending && s < StateStreaming
}
