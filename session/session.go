package session

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/robertof/go-ble-thermo/device"
	"github.com/rs/zerolog/log"
)

const DefaultScanTimeout = 10 * time.Second

// Config describes the peripheral a session connects to.
type Config struct {
	Target device.Target
	Descriptor device.ServiceDescriptor
	ScanTimeout time.Duration
	PermissionModel PermissionModel
}

func (c Config) Validate() error {
	if c.Target.Name == "" {
		return errors.New("session: target device name is required")
	}

	if err := c.Descriptor.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if c.ScanTimeout < 0 {
		return fmt.Errorf("session: negative scan timeout %v", c.ScanTimeout)
	}

	return nil
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d on its own goroutine.
type AfterFunc func(d time.Duration, f func()) Timer

type Option func(*Session)

// WithAfterFunc replaces the scheduler used for the scan timeout.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) {
		s.afterFunc = f
	}
}

// WithClock replaces the clock used to timestamp readings.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Stats are cumulative counters over the lifetime of a session.
type Stats struct {
	Notifications uint64
	DecodeErrors uint64
	Recorded int
}

// Session is a state machine driving one peripheral connection end to end.
type Session struct {
	cfg Config

	radio Radio
	gate PermissionGate
	ui UserInterface

	afterFunc AfterFunc
	now func() time.Time

	queue *queue
	done chan struct{}
	closeOnce sync.Once

	// owned by the worker goroutine
	state State
	match *device.Identity
	conn Handle
	scanning bool
	scanGen uint64
	scanTimer Timer

	// published copies for readers on other goroutines
	mu sync.RWMutex
	published State
	failure *Error

	latest latestSlot
	history history

	notifications atomic.Uint64
	decodeErrors atomic.Uint64
}

// New creates an idle session and starts its worker. The radio's event handler is replaced.
func New(cfg Config, radio Radio, gate PermissionGate, ui UserInterface, opts ...Option) (*Session, error) {
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}

	if cfg.PermissionModel == "" {
		cfg.PermissionModel = PermissionModelModern
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg: cfg,
		radio: radio,
		gate: gate,
		ui: ui,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
		queue: newQueue(),
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	radio.SetEventHandler(s.enqueueEvent)

	log.Debug().
		Stringer("Target", cfg.Target).
		Stringer("Descriptor", cfg.Descriptor).
		Dur("ScanTimeout", cfg.ScanTimeout).
		Stringer("PermissionModel", cfg.PermissionModel).
		Msg("session: created")

	go s.work()

	return s, nil
}

// Start begins a connection attempt. From Disconnected or Failed it starts over with a fully
// reset session; while an attempt is in progress it does nothing.
func (s *Session) Start() {
	s.do(s.start)
}

// RecordCurrentReading appends the latest reading, if any, to the history.
func (s *Session) RecordCurrentReading() {
	s.do(s.record)
}

// Teardown stops any scan, closes any connection and forgets the latest reading. Safe to call
// in any state, any number of times.
func (s *Session) Teardown() {
	s.do(s.teardown)
}

// Close tears the session down and stops its worker. Commands issued afterwards are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Teardown()
		s.queue.close()
		<-s.done

		log.Debug().Msg("session: closed")
	})
}

// Done is closed once the worker has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Target() device.Target {
	return s.cfg.Target
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.published
}

// Failure returns the reason of the last failure while the session is in StateFailed.
func (s *Session) Failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure == nil {
		return nil
	}

	return s.failure
}

// Latest returns the most recent reading, if one was received since the last teardown.
func (s *Session) Latest() (device.Reading, bool) {
	return s.latest.get()
}

// History returns the recorded readings in insertion order.
func (s *Session) History() []device.Reading {
	return s.history.snapshot()
}

func (s *Session) Stats() Stats {
	return Stats{
		Notifications: s.notifications.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Recorded: s.history.len(),
	}
}

////////////////////////////////////////////////////////////////////////////////

func (s *Session) work() {
	defer close(s.done)

	for {
		fn, ok := s.queue.pop()

		if !ok {
			return
		}

		s.safely(fn)
	}
}

// safely runs fn, turning a panic into a session failure so the worker keeps running.
func (s *Session) safely(fn func()) {
	defer func() {
		r := recover()

		if r == nil {
			return
		}

		log.Error().
			Interface("Panic", r).
			Stringer("State", s.state).
			Msg("session: recovered from fault while handling event")

		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("Panic", r).Msg("session: fault while failing session, giving up")
			}
		}()

		s.fail(newError(Internal, "Internal error", fmt.Errorf("%v", r)))
	}()

	fn()
}

// do runs fn on the worker and waits for it to complete.
func (s *Session) do(fn func()) {
	done := make(chan struct{})

	ok := s.queue.push(func() {
		defer close(done)
		fn()
	})

	if !ok {
		return
	}

	select {
	case <-done:
	case <-s.done:
	}
}

func (s *Session) enqueueEvent(ev Event) {
	log.Trace().Stringer("Event", ev).Msg("session: radio event")

	if !s.queue.push(func() { s.handleEvent(ev) }) {
		log.Trace().Stringer("Event", ev).Msg("session: dropping event, session closed")
	}
}

func (s *Session) transition(to State, status string) {
	from := s.state
	s.state = to

	s.mu.Lock()
	s.published = to
	if to != StateFailed {
		s.failure = nil
	}
	s.mu.Unlock()

	log.Debug().
		Stringer("From", from).
		Stringer("To", to).
		Str("Status", status).
		Msg("session: state transition")

	if o, ok := s.ui.(StateObserver); ok {
		o.OnStateChanged(to)
	}

	s.ui.OnStatus(status)
}

func (s *Session) fail(err *Error) {
	s.release()

	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()

	log.Warn().
		Err(err).
		Stringer("State", s.state).
		Msg("session: failed")

	s.transition(StateFailed, err.Status)
}

// authorize checks the capabilities op requires. On denial the session fails and the UI is
// asked to prompt for the missing ones.
func (s *Session) authorize(op operation) bool {
	denied := missing(s.gate, s.cfg.PermissionModel.required(op))

	if len(denied) == 0 {
		return true
	}

	log.Warn().
		Stringer("Operation", op).
		Str("Missing", joinCapabilities(denied)).
		Msg("session: permission check failed")

	s.fail(&Error{
		Kind: PermissionDenied,
		Missing: denied,
		Status: "Permissions required: " + joinCapabilities(denied),
	})

	if p, ok := s.ui.(PermissionPrompter); ok {
		p.RequestPermissions(denied)
	}

	return false
}

// warnUnauthorized logs a denied check on the release path, which proceeds regardless.
func (s *Session) warnUnauthorized(op operation) {
	if denied := missing(s.gate, s.cfg.PermissionModel.required(op)); len(denied) > 0 {
		log.Warn().
			Stringer("Operation", op).
			Str("Missing", joinCapabilities(denied)).
			Msg("session: releasing radio resources without permission")
	}
}

func (s *Session) cancelScanTimer() {
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
}

func (s *Session) stopScan() {
	s.scanning = false
	s.warnUnauthorized(opStopScan)

	if err := s.radio.StopScan(); err != nil {
		log.Debug().Err(err).Msg("session: stopping scan failed")
	}
}

func (s *Session) closeConnection() {
	h := s.conn
	s.conn = 0
	s.warnUnauthorized(opClose)

	if err := s.radio.Close(h); err != nil {
		log.Debug().Err(err).Uint64("Handle", uint64(h)).Msg("session: closing connection failed")
	}
}

// release cancels the scan timeout, stops an active scan and closes an open connection.
func (s *Session) release() {
	s.cancelScanTimer()

	if s.scanning {
		s.stopScan()
	}

	if s.conn != 0 {
		s.closeConnection()
	}
}

////////////////////////////////////////////////////////////////////////////////

func (s *Session) start() {
	if s.state != StateIdle && !s.state.Terminal() {
		log.Debug().Stringer("State", s.state).Msg("session: start ignored, attempt in progress")
		return
	}

	if s.state.Terminal() {
		log.Debug().Stringer("State", s.state).Msg("session: resetting for a new attempt")
		s.release()
		s.match = nil
		s.latest.clear()
	}

	if !s.radio.Available() {
		s.fail(newError(Unsupported, "Bluetooth not supported on this device", nil))
		return
	}

	s.transition(StatePermissionPending, "Checking permissions...")

	if !s.authorize(opSessionStart) {
		return
	}

	s.scanGen++
	gen := s.scanGen

	s.transition(StateScanning, fmt.Sprintf("Scanning for %s...", s.cfg.Target.Name))

	if !s.authorize(opStartScan) {
		return
	}

	if err := s.radio.StartScan(); err != nil {
		s.fail(&Error{
			Kind: ScanFailedError,
			Code: ScanFailedInternalError,
			Status: fmt.Sprintf("Error starting scan: %v", err),
			Err: err,
		})
		return
	}

	s.scanning = true
	s.scanTimer = s.afterFunc(s.cfg.ScanTimeout, func() {
		s.queue.push(func() { s.onScanTimeout(gen) })
	})
}

func (s *Session) onScanTimeout(gen uint64) {
	if s.state != StateScanning || gen != s.scanGen {
		log.Trace().
			Uint64("Generation", gen).
			Uint64("Current", s.scanGen).
			Stringer("State", s.state).
			Msg("session: ignoring stale scan timeout")
		return
	}

	s.scanTimer = nil

	s.fail(newError(
		DeviceNotFound,
		fmt.Sprintf("%s not found", s.cfg.Target.Name),
		fmt.Errorf("no advertisement from %q within %v", s.cfg.Target.Name, s.cfg.ScanTimeout),
	))
}

func (s *Session) record() {
	r, ok := s.latest.get()

	if !ok {
		s.ui.OnStatus("No temperature to record")
		return
	}

	n := s.history.append(r)

	log.Info().
		Stringer("Reading", r).
		Int("HistoryLength", n).
		Msg("session: recorded reading")

	s.ui.OnStatus(fmt.Sprintf("Temperature recorded: %s °C", r.Text))
}

func (s *Session) teardown() {
	s.cancelScanTimer()
	s.stopScan()

	if s.conn != 0 {
		s.closeConnection()
	}

	s.match = nil
	s.latest.clear()

	if s.state == StateDisconnected {
		return
	}

	s.transition(StateDisconnected, fmt.Sprintf("Disconnected from %s", s.cfg.Target.Name))
}

func (s *Session) handleEvent(ev Event) {
	switch e := ev.(type) {
	case DeviceFound:
		s.onDeviceFound(e)
	case ScanFailed:
		s.onScanFailed(e)
	case ConnectionStateChanged:
		s.onConnectionState(e)
	case ServicesDiscovered:
		s.onServicesDiscovered(e)
	case DescriptorWritten:
		s.onDescriptorWritten(e)
	case CharacteristicChanged:
		s.onCharacteristicChanged(e)
	default:
		log.Warn().Stringer("Event", ev).Msg("session: unknown radio event")
	}
}

// current reports whether an event for handle h belongs to the open connection and arrived in
// the expected state.
func (s *Session) current(h Handle, want State, ev Event) bool {
	if h == 0 || h != s.conn || s.state != want {
		log.Trace().
			Stringer("Event", ev).
			Stringer("State", s.state).
			Uint64("Connection", uint64(s.conn)).
			Msg("session: ignoring event")
		return false
	}

	return true
}

func (s *Session) onDeviceFound(e DeviceFound) {
	if s.state != StateScanning || !e.Identity.Matches(s.cfg.Target.Name) {
		log.Trace().
			Stringer("Device", e.Identity).
			Stringer("State", s.state).
			Msg("session: ignoring advertisement")
		return
	}

	log.Info().Stringer("Device", e.Identity).Msg("session: found target device")

	id := e.Identity
	s.match = &id
	s.cancelScanTimer()

	if !s.authorize(opStopScan) {
		return
	}

	s.stopScan()
	s.transition(StateConnecting, fmt.Sprintf("Connecting to %s...", s.cfg.Target.Name))

	if !s.authorize(opConnect) {
		return
	}

	h, err := s.radio.Connect(id.Address)

	if err != nil {
		s.fail(newError(ConnectionLost, fmt.Sprintf("Error connecting: %v", err), err))
		return
	}

	s.conn = h
}

func (s *Session) onScanFailed(e ScanFailed) {
	if s.state != StateScanning {
		log.Trace().Stringer("Event", e).Msg("session: ignoring scan failure outside of scan")
		return
	}

	// the radio already stopped scanning
	s.scanning = false

	s.fail(&Error{
		Kind: ScanFailedError,
		Code: e.Code,
		Status: fmt.Sprintf("Scan failed with error: %d", e.Code),
		Err: e.Err,
	})
}

func (s *Session) onConnectionState(e ConnectionStateChanged) {
	if e.Handle == 0 || e.Handle != s.conn {
		log.Trace().Stringer("Event", e).Msg("session: ignoring event for stale connection")
		return
	}

	if e.Connected {
		if !s.current(e.Handle, StateConnecting, e) {
			return
		}

		s.transition(StateDiscoveringServices, "Discovering services...")

		if !s.authorize(opDiscoverServices) {
			return
		}

		if err := s.radio.DiscoverServices(s.conn); err != nil {
			s.fail(newError(ServiceNotFound, fmt.Sprintf("Service discovery failed: %v", err), err))
		}

		return
	}

	switch s.state {
	case StateStreaming:
		s.release()
		s.transition(StateDisconnected, fmt.Sprintf("Disconnected from %s", s.cfg.Target.Name))
	case StateConnecting, StateDiscoveringServices, StateEnablingNotifications:
		if s.match != nil {
			log.Debug().Stringer("Device", s.match).Msg("session: connection dropped before streaming")
		}

		s.fail(newError(ConnectionLost, fmt.Sprintf("Connection to %s lost", s.cfg.Target.Name), e.Err))
	}
}

func (s *Session) onServicesDiscovered(e ServicesDiscovered) {
	if !s.current(e.Handle, StateDiscoveringServices, e) {
		return
	}

	if !e.OK {
		status := "Service discovery failed"
		if e.Err != nil {
			status = fmt.Sprintf("%s: %v", status, e.Err)
		}

		s.fail(newError(ServiceNotFound, status, e.Err))
		return
	}

	sd := s.cfg.Descriptor

	switch serviceFound, charFound := sd.FoundIn(e.Services); {
	case !serviceFound:
		s.fail(newError(ServiceNotFound, "Temperature service not found",
			fmt.Errorf("service %s not among %d discovered", device.FormatUUID(sd.Service), len(e.Services))))
		return
	case !charFound:
		s.fail(newError(ServiceNotFound, "Temperature characteristic not found",
			fmt.Errorf("characteristic %s not in service %s",
				device.FormatUUID(sd.Characteristic), device.FormatUUID(sd.Service))))
		return
	}

	if !s.authorize(opSetNotify) {
		return
	}

	if err := s.radio.SetNotify(s.conn, sd, true); err != nil {
		s.fail(newError(NotificationSetupFailed, "Notification setup failed", err))
		return
	}

	s.transition(StateEnablingNotifications, "Setting up temperature notifications...")

	if !s.authorize(opWriteDescriptor) {
		return
	}

	if err := s.radio.WriteDescriptor(s.conn, sd, device.EnableNotificationValue); err != nil {
		s.fail(newError(NotificationSetupFailed, "Notification setup failed", err))
	}
}

func (s *Session) onDescriptorWritten(e DescriptorWritten) {
	if !s.current(e.Handle, StateEnablingNotifications, e) {
		return
	}

	if !e.OK {
		s.fail(newError(NotificationSetupFailed, "Notification setup failed", e.Err))
		return
	}

	s.transition(StateStreaming, "Ready for temperature readings...")
}

func (s *Session) onCharacteristicChanged(e CharacteristicChanged) {
	if !s.current(e.Handle, StateStreaming, e) {
		return
	}

	// firmware commonly sends C strings
	value := bytes.TrimRight(e.Value, "\x00")

	if !utf8.Valid(value) {
		s.decodeErrors.Add(1)

		err := newError(DecodeError, "Error reading temperature",
			fmt.Errorf("payload % x is not valid UTF-8", e.Value))

		log.Warn().Err(err).Msg("session: dropping malformed notification")
		s.ui.OnStatus(err.Status)

		return
	}

	r := device.Reading{
		Text: string(value),
		ReceivedAt: s.now(),
	}

	s.notifications.Add(1)
	s.latest.set(r)

	log.Debug().Stringer("Reading", r).Msg("session: received reading")

	s.ui.OnReading(r.Text)
}
