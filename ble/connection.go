package ble

import (
	"bytes"
	"context"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
	"github.com/rs/zerolog/log"
)

var (
	successfulConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermo_ble_successful_connections_total",
	})
	failedConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermo_ble_failed_connections_total",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermo_ble_disconnections_total",
	})
	scanFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermo_ble_scan_failures_total",
	})
	notificationsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermo_ble_notifications_total",
	})
)

var (
	indicationValue = []byte{0x02, 0x00}
)

// connection is one entry of the radio's handle table. client stays nil while dialing.
type connection struct {
	addr string
	cancel context.CancelFunc

	client Client
	profile *ble.Profile

	notify bool
	char *ble.Characteristic
}

func (r *Radio) Connect(address string) (session.Handle, error) {
	addr := ble.NewAddr(address)
	ctx, cancel := context.WithTimeout(context.Background(), r.ConnectTimeout)

	r.mu.Lock()
	r.lastHandle++
	h := r.lastHandle
	c := &connection{addr: address, cancel: cancel}
	r.conns[h] = c
	r.mu.Unlock()

	log.Debug().
		Str("Addr", address).
		Uint64("Handle", uint64(h)).
		Dur("Timeout", r.ConnectTimeout).
		Msg("ble: dialing device")

	go r.dial(ctx, h, c, addr)

	return h, nil
}

func (r *Radio) dial(ctx context.Context, h session.Handle, c *connection, addr ble.Addr) {
	client, err := r.h.dev.Dial(ctx, addr)
	c.cancel()

	if err != nil {
		err = errors.Wrapf(err, "ble: failed to connect to %s", c.addr)

		failedConnectionsCounter.Inc()
		r.forget(h)

		log.Debug().Err(err).Str("Addr", c.addr).Msg("ble: failed to connect to device")
		r.emit(session.ConnectionStateChanged{Handle: h, Connected: false, Err: err})

		return
	}

	successfulConnectionsCounter.Inc()

	r.mu.Lock()

	if r.conns[h] != c {
		// closed while dialing
		r.mu.Unlock()
		client.CancelConnection()

		return
	}

	c.client = client
	r.mu.Unlock()

	log.Debug().Str("Addr", c.addr).Msg("ble: successfully opened new connection to device")
	r.emit(session.ConnectionStateChanged{Handle: h, Connected: true})

	// watchdog reporting the link going away, whoever closed it
	go func() {
		<-client.Disconnected()

		disconnectsCounter.Inc()
		log.Debug().Str("Addr", c.addr).Msg("ble: connection with device closed, cleaning up")

		r.forget(h)
		r.emit(session.ConnectionStateChanged{Handle: h, Connected: false})
	}()
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

	if !ok || c.client == nil {
		return nil, errors.Errorf("ble: no open connection for handle %d", h)
	}

	return c, nil
}

func (r *Radio) DiscoverServices(h session.Handle) error {
	c, err := r.lookup(h)

	if err != nil {
		return err
	}

	go func() {
		p, err := c.client.DiscoverProfile(true)

		if err != nil {
			err = errors.Wrap(err, "ble: profile discovery failed")

			log.Debug().Err(err).Str("Addr", c.addr).Msg("ble: profile discovery failed")
			r.emit(session.ServicesDiscovered{Handle: h, OK: false, Err: err})

			return
		}

		r.mu.Lock()
		c.profile = p
		r.mu.Unlock()

		r.emit(session.ServicesDiscovered{Handle: h, OK: true, Services: servicesOf(p)})
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

	char := findCharacteristic(c.profile, sd)

	if char == nil {
		return errors.Errorf("ble: characteristic %s not discovered on %s", device.FormatUUID(sd.Characteristic), c.addr)
	}

	c.char = char
	c.notify = enabled

	return nil
}

// WriteDescriptor writes value to the characteristic's CCCD through Subscribe/Unsubscribe, so the
// notification handler is installed before the peripheral starts sending. Other descriptors are
// written as-is.
func (r *Radio) WriteDescriptor(h session.Handle, sd device.ServiceDescriptor, value []byte) error {
	c, err := r.lookup(h)

	if err != nil {
		return err
	}

	r.mu.Lock()
	char := c.char

	if char == nil {
		char = findCharacteristic(c.profile, sd)
	}
	r.mu.Unlock()

	if char == nil {
		return errors.Errorf("ble: characteristic %s not discovered on %s", device.FormatUUID(sd.Characteristic), c.addr)
	}

	value = bytes.Clone(value)

	go func() {
		err := r.writeDescriptor(h, c, char, sd, value)

		if err != nil {
			log.Debug().
				Err(err).
				Str("Addr", c.addr).
				Hex("Value", value).
				Msg("ble: descriptor write failed")
		}

		r.emit(session.DescriptorWritten{Handle: h, OK: err == nil, Err: err})
	}()

	return nil
}

func (r *Radio) writeDescriptor(
	h session.Handle,
	c *connection,
	char *ble.Characteristic,
	sd device.ServiceDescriptor,
	value []byte,
) error {
	if device.EqualUUID(sd.NotifyDescriptor, device.ClientCharacteristicConfigUUID) && char.CCCD != nil {
		switch {
		case bytes.Equal(value, device.EnableNotificationValue):
			return c.client.Subscribe(char, false, r.notificationHandler(h, c))
		case bytes.Equal(value, indicationValue):
			return c.client.Subscribe(char, true, r.notificationHandler(h, c))
		case bytes.Equal(value, device.DisableNotificationValue):
			return c.client.Unsubscribe(char, false)
		}
	}

	for _, d := range char.Descriptors {
		if device.EqualUUID(d.UUID, sd.NotifyDescriptor) {
			return c.client.WriteDescriptor(d, value)
		}
	}

	return errors.Errorf("descriptor %s not found on characteristic %s",
		device.FormatUUID(sd.NotifyDescriptor), device.FormatUUID(char.UUID))
}

func (r *Radio) notificationHandler(h session.Handle, c *connection) ble.NotificationHandler {
	return func(value []byte) {
		r.mu.Lock()
		armed := c.notify
		r.mu.Unlock()

		if !armed {
			return
		}

		notificationsCounter.Inc()
		r.emit(session.CharacteristicChanged{Handle: h, Value: bytes.Clone(value)})
	}
}

// Close aborts a pending dial or disconnects an open connection. Unknown handles are ignored.
func (r *Radio) Close(h session.Handle) error {
	c := r.forget(h)

	if c == nil {
		return nil
	}

	c.cancel()

	if c.client == nil {
		return nil
	}

	log.Debug().Str("Addr", c.addr).Uint64("Handle", uint64(h)).Msg("ble: disconnecting from device")

	if err := c.client.CancelConnection(); err != nil {
		return errors.Wrapf(err, "ble: failed to disconnect from %s", c.addr)
	}

	return nil
}

// DisconnectAll closes every connection the radio knows about.
func (r *Radio) DisconnectAll() {
	r.mu.Lock()
	handles := make([]session.Handle, 0, len(r.conns))

	for h := range r.conns {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		if err := r.Close(h); err != nil {
			log.Debug().Err(err).Msg("ble: disconnect failed")
		}
	}
}

func findCharacteristic(p *ble.Profile, sd device.ServiceDescriptor) *ble.Characteristic {
	if p == nil {
		return nil
	}

	for _, s := range p.Services {
		if !device.EqualUUID(s.UUID, sd.Service) {
			continue
		}

		for _, c := range s.Characteristics {
			if device.EqualUUID(c.UUID, sd.Characteristic) {
				return c
			}
		}
	}

	return nil
}

func servicesOf(p *ble.Profile) []device.Service {
	out := make([]device.Service, 0, len(p.Services))

	for _, s := range p.Services {
		svc := device.Service{UUID: s.UUID}

		for _, c := range s.Characteristics {
			svc.Characteristics = append(svc.Characteristics, c.UUID)
		}

		out = append(out, svc)
	}

	return out
}
