// Package bluez implements session.Radio on top of tinygo.org/x/bluetooth, which talks to BlueZ
// over D-Bus on Linux and to CoreBluetooth on macOS.
package bluez

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

var ErrNotConnected = errors.New("bluez: no open connection for handle")

// StopScan retries for this long while the scan goroutine has not reached the adapter yet.
var stopScanGrace = time.Second

const stopScanRetry = 10 * time.Millisecond

// Adapter is the subset of *bluetooth.Adapter the radio uses.
type Adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

var _ session.Radio = (*Radio)(nil)

type connection struct {
	addr string
	dev *bluetooth.Device

	services []bluetooth.DeviceService
	chars map[string]bluetooth.DeviceCharacteristic

	notify bool
	char *bluetooth.DeviceCharacteristic
}

// Radio drives a tinygo bluetooth adapter. Blocking adapter calls run on their own goroutines and
// report back through the event handler.
type Radio struct {
	adapter Adapter
	enabled bool

	mu sync.Mutex
	handler func(session.Event)

	scanning bool
	scanDone chan struct{}

	lastHandle session.Handle
	conns map[session.Handle]*connection
}

// New enables the adapter. A radio whose adapter failed to enable reports itself unavailable.
func New(adapter Adapter) *Radio {
	r := &Radio{
		adapter: adapter,
		conns: make(map[session.Handle]*connection),
	}

	if err := adapter.Enable(); err != nil {
		log.Error().Err(err).Msg("bluez: failed to enable adapter")
		return r
	}

	r.enabled = true
	adapter.SetConnectHandler(r.onConnectChange)

	return r
}

// NewDefault wraps bluetooth.DefaultAdapter.
func NewDefault() *Radio {
	return New(bluetooth.DefaultAdapter)
}

func (r *Radio) Available() bool {
	return r.enabled
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

func (r *Radio) StartScan() error {
	if !r.enabled {
		return errors.New("bluez: adapter not enabled")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scanning {
		return nil
	}

	done := make(chan struct{})
	r.scanning = true
	r.scanDone = done

	go func() {
		defer close(done)

		r.mu.Lock()
		cancelled := r.scanDone != done
		r.mu.Unlock()

		if cancelled {
			return
		}

		err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			r.emit(session.DeviceFound{Identity: identityOf(result)})
		})

		r.mu.Lock()
		stopped := !r.scanning || r.scanDone != done
		if r.scanDone == done {
			r.scanning = false
			r.scanDone = nil
		}
		r.mu.Unlock()

		if err != nil && !stopped {
			log.Error().Err(err).Msg("bluez: scan aborted")
			r.emit(session.ScanFailed{Code: session.ScanFailedInternalError, Err: errors.Wrap(err, "bluez: scan")})
		}
	}()

	return nil
}

func (r *Radio) StopScan() error {
	r.mu.Lock()
	scanning, done := r.scanning, r.scanDone
	r.scanning, r.scanDone = false, nil
	r.mu.Unlock()

	if !scanning {
		return nil
	}

	deadline := time.Now().Add(stopScanGrace)

	for {
		err := r.adapter.StopScan()

		if err == nil {
			<-done
			return nil
		}

		// the goroutine may not have entered adapter.Scan yet
		select {
		case <-done:
			return nil
		case <-time.After(stopScanRetry):
		}

		if time.Now().After(deadline) {
			return errors.Wrap(err, "bluez: stop scan")
		}
	}
}

func (r *Radio) Connect(address string) (session.Handle, error) {
	var addr bluetooth.Address
	addr.Set(address)

	r.mu.Lock()
	r.lastHandle++
	h := r.lastHandle
	c := &connection{addr: strings.ToUpper(address)}
	r.conns[h] = c
	r.mu.Unlock()

	go func() {
		// blocks with the adapter's own timeout
		dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})

		if err != nil {
			r.forget(h)
			r.emit(session.ConnectionStateChanged{Handle: h, Err: errors.Wrapf(err, "bluez: connect to %s", address)})

			return
		}

		r.mu.Lock()

		if r.conns[h] != c {
			r.mu.Unlock()

			if err := dev.Disconnect(); err != nil {
				log.Debug().Err(err).Str("Addr", address).Msg("bluez: disconnect after cancelled connect failed")
			}

			return
		}

		c.dev = &dev
		r.mu.Unlock()

		r.emit(session.ConnectionStateChanged{Handle: h, Connected: true})
	}()

	return h, nil
}

// onConnectChange turns adapter-level disconnects into events for every handle on that address.
func (r *Radio) onConnectChange(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}

	addr := strings.ToUpper(dev.Address.String())

	r.mu.Lock()
	var lost []session.Handle

	for h, c := range r.conns {
		if c.addr == addr && c.dev != nil {
			lost = append(lost, h)
			delete(r.conns, h)
		}
	}
	r.mu.Unlock()

	for _, h := range lost {
		log.Debug().Str("Addr", addr).Uint64("Handle", uint64(h)).Msg("bluez: connection lost")
		r.emit(session.ConnectionStateChanged{Handle: h, Connected: false})
	}
}

func (r *Radio) forget(h session.Handle) *connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.conns[h]
	delete(r.conns, h)

	return c
}

func (r *Radio) lookup(h session.Handle) (*connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[h]

	if !ok || c.dev == nil {
		return nil, errors.Wrapf(ErrNotConnected, "handle %d", h)
	}

	return c, nil
}

func (r *Radio) DiscoverServices(h session.Handle) error {
	c, err := r.lookup(h)

	if err != nil {
		return err
	}

	go func() {
		services, err := c.dev.DiscoverServices(nil)

		if err != nil {
			r.emit(session.ServicesDiscovered{Handle: h, Err: errors.Wrap(err, "bluez: discover services")})
			return
		}

		out := make([]device.Service, 0, len(services))
		chars := make(map[string]bluetooth.DeviceCharacteristic)

		for _, svc := range services {
			s := device.Service{UUID: toUUID(svc.UUID())}

			found, err := svc.DiscoverCharacteristics(nil)

			if err != nil {
				log.Debug().Err(err).Stringer("Service", svc.UUID()).Msg("bluez: discovering characteristics failed")
			}

			for _, ch := range found {
				s.Characteristics = append(s.Characteristics, toUUID(ch.UUID()))
				chars[charKey(s.UUID, toUUID(ch.UUID()))] = ch
			}

			out = append(out, s)
		}

		r.mu.Lock()
		c.services = services
		c.chars = chars
		r.mu.Unlock()

		r.emit(session.ServicesDiscovered{Handle: h, OK: true, Services: out})
	}()

	return nil
}

func (r *Radio) SetNotify(h session.Handle, sd device.ServiceDescriptor, enabled bool) error {
	c, err := r.lookup(h)

	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := c.chars[charKey(sd.Service, sd.Characteristic)]

	if !ok {
		return errors.Errorf("bluez: characteristic %s not discovered", device.FormatUUID(sd.Characteristic))
	}

	c.char = &ch
	c.notify = enabled

	return nil
}

// WriteDescriptor supports the notification descriptor only: BlueZ owns the CCCD and exposes it
// as StartNotify/StopNotify.
func (r *Radio) WriteDescriptor(h session.Handle, sd device.ServiceDescriptor, value []byte) error {
	c, err := r.lookup(h)

	if err != nil {
		return err
	}

	if !device.EqualUUID(sd.NotifyDescriptor, device.ClientCharacteristicConfigUUID) {
		return errors.Errorf("bluez: writing descriptor %s is not supported", device.FormatUUID(sd.NotifyDescriptor))
	}

	r.mu.Lock()
	ch := c.char
	r.mu.Unlock()

	if ch == nil {
		return errors.New("bluez: notifications not armed")
	}

	var callback func([]byte)

	switch {
	case bytes.Equal(value, device.EnableNotificationValue):
		callback = func(buf []byte) {
			r.mu.Lock()
			armed := c.notify
			r.mu.Unlock()

			if armed {
				r.emit(session.CharacteristicChanged{Handle: h, Value: bytes.Clone(buf)})
			}
		}
	case bytes.Equal(value, device.DisableNotificationValue):
	default:
		return errors.Errorf("bluez: unsupported descriptor value % x", value)
	}

	go func() {
		err := ch.EnableNotifications(callback)

		if err != nil {
			err = errors.Wrap(err, "bluez: enable notifications")
		}

		r.emit(session.DescriptorWritten{Handle: h, OK: err == nil, Err: err})
	}()

	return nil
}

func (r *Radio) Close(h session.Handle) error {
	c := r.forget(h)

	if c == nil || c.dev == nil {
		return nil
	}

	if err := c.dev.Disconnect(); err != nil {
		return errors.Wrapf(err, "bluez: disconnect from %s", c.addr)
	}

	return nil
}

// Shutdown stops scanning and drops every connection.
func (r *Radio) Shutdown() {
	if err := r.StopScan(); err != nil {
		log.Debug().Err(err).Msg("bluez: stop scan during shutdown failed")
	}

	r.mu.Lock()
	handles := make([]session.Handle, 0, len(r.conns))

	for h := range r.conns {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if err := r.Close(h); err != nil {
			log.Debug().Err(err).Msg("bluez: disconnect during shutdown failed")
		}
	}
}

func identityOf(result bluetooth.ScanResult) device.Identity {
	return device.Identity{
		Name: result.LocalName(),
		Address: strings.ToUpper(result.Address.String()),
	}
}

// toUUID converts to the go-ble representation shared by the rest of the module.
func toUUID(u bluetooth.UUID) device.UUID {
	parsed, err := device.ParseUUID(u.String())

	if err != nil {
		panic(err)
	}

	return parsed
}

func charKey(service, char device.UUID) string {
	return device.FormatUUID(device.Expand(service)) + "/" + device.FormatUUID(device.Expand(char))
}
