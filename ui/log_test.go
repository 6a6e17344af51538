package ui

import (
	"testing"

	"github.com/robertof/go-ble-thermo/session"
)

func TestLogCoalescesStateChanges(t *testing.T) {
	l := NewLog()

	l.OnStateChanged(session.StateScanning)
	l.OnStateChanged(session.StateConnecting)
	l.OnStateChanged(session.StateFailed)

	select {
	case <-l.Changed():
	default:
		t.Fatal("Changed() was not signalled")
	}

	select {
	case <-l.Changed():
		t.Fatal("Changed() should coalesce consecutive transitions")
	default:
	}
}
