package session

import (
	"sync"

	"github.com/robertof/go-ble-thermo/device"
)

// latestSlot holds the most recent reading. Written by the worker, read from anywhere.
type latestSlot struct {
	mu sync.RWMutex

	reading device.Reading
	present bool
}

func (l *latestSlot) set(r device.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reading = r
	l.present = true
}

func (l *latestSlot) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reading = device.Reading{}
	l.present = false
}

func (l *latestSlot) get() (device.Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.reading, l.present
}

// history is the append-only list of readings the user chose to record.
type history struct {
	mu sync.RWMutex

	readings []device.Reading
}

func (h *history) append(r device.Reading) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.readings = append(h.readings, r)

	return len(h.readings)
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.readings)
}

// snapshot returns a copy, safe to retain while the history keeps growing.
func (h *history) snapshot() []device.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]device.Reading, len(h.readings))
	copy(out, h.readings)

	return out
}
