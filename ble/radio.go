package ble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
	"github.com/robertof/go-ble-thermo/utils"
	"github.com/rs/zerolog/log"
)

const DefaultConnectTimeout = 10 * time.Second

var ErrUnavailable = errors.New("ble: no Bluetooth adapter available")

var (
	_ session.Radio = (*Radio)(nil)
	_ session.Radio = Unavailable{}
)

// Radio drives an HCI device on behalf of a session. Every command returns immediately; results
// arrive through the event handler from the goroutine doing the work.
type Radio struct {
	h *Handle

	ConnectTimeout time.Duration

	mu sync.Mutex
	handler func(session.Event)

	scanCancel context.CancelFunc
	scanDone chan struct{}

	lastHandle session.Handle
	conns map[session.Handle]*connection
}

func NewRadio(h *Handle) *Radio {
	return &Radio{
		h: h,
		ConnectTimeout: DefaultConnectTimeout,
		conns: make(map[session.Handle]*connection),
	}
}

func (r *Radio) Available() bool {
	return r.h != nil && r.h.dev != nil
}

func (r *Radio) SetEventHandler(h func(session.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handler = h
}

func (r *Radio) emit(ev session.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

// Shutdown stops scanning, drops every connection and releases the HCI device.
func (r *Radio) Shutdown() {
	if err := r.StopScan(); err != nil {
		log.Debug().Err(err).Msg("ble: failed to stop scan during shutdown")
	}

	r.DisconnectAll()

	if r.Available() {
		r.h.Stop()
	}
}

// IdentityOf extracts what a session matches on from an advertisement.
func IdentityOf(a Advertisement) device.Identity {
	id := device.Identity{Name: a.LocalName()}

	if addr := a.Addr(); addr != nil {
		id.Address = strings.ToUpper(addr.String())
	}

	return id
}

func swallowCancellation(err error) error {
	if utils.ErrorIsAnyOf(err, context.Canceled, context.DeadlineExceeded) {
		return nil
	}

	return err
}

// Unavailable is the radio used when no adapter could be initialized. Sessions built on it fail
// with an unsupported error on start.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }
func (Unavailable) SetEventHandler(func(session.Event)) {}
func (Unavailable) StartScan() error { return ErrUnavailable }
func (Unavailable) StopScan() error { return nil }
func (Unavailable) Connect(string) (session.Handle, error) { return 0, ErrUnavailable }
func (Unavailable) DiscoverServices(session.Handle) error { return ErrUnavailable }
func (Unavailable) Close(session.Handle) error { return nil }

func (Unavailable) SetNotify(session.Handle, device.ServiceDescriptor, bool) error {
	return ErrUnavailable
}

func (Unavailable) WriteDescriptor(session.Handle, device.ServiceDescriptor, []byte) error {
	return ErrUnavailable
}

func (Unavailable) Shutdown() {}
