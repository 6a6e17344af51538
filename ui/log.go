// Package ui holds the headless UserInterface implementation. The terminal front-end lives in
// ui/tui.
package ui

import (
	"github.com/robertof/go-ble-thermo/session"
	"github.com/robertof/go-ble-thermo/utils"
	"github.com/rs/zerolog/log"
)

// Log reports session progress through the global zerolog logger.
type Log struct {
	changed chan struct{}
}

var (
	_ session.UserInterface = (*Log)(nil)
	_ session.StateObserver = (*Log)(nil)
	_ session.PermissionPrompter = (*Log)(nil)
)

func NewLog() *Log {
	return &Log{changed: make(chan struct{}, 1)}
}

func (l *Log) OnStatus(text string) {
	log.Info().Msg(text)
}

func (l *Log) OnReading(text string) {
	log.Info().Str("Temperature", text).Msgf("Temperature: %s °C", text)
}

// OnStateChanged wakes up whoever waits on Changed. Consecutive changes are coalesced.
func (l *Log) OnStateChanged(state session.State) {
	log.Debug().Stringer("State", state).Msg("ui: session state changed")

	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *Log) RequestPermissions(missing []session.Capability) {
	log.Warn().
		Array("Missing", utils.ToZeroLogArray(missing)).
		Msg("Bluetooth access denied: run as root or grant CAP_NET_ADMIN and CAP_NET_RAW, then start again")
}

// Changed signals after one or more state transitions.
func (l *Log) Changed() <-chan struct{} {
	return l.changed
}
