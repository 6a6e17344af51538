package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robertof/go-ble-thermo/device"
)

var errNotConnected = errors.New("fake: not connected")

// fakeRadio records commands and lets tests emit events as the radio stack would.
type fakeRadio struct {
	mu sync.Mutex

	available bool
	handler func(Event)

	scanning bool
	startScans int
	stopScans int
	startScanErr error

	nextHandle Handle
	open map[Handle]bool
	connects []string
	connectErr error

	discovers []Handle
	notifies []bool
	writes [][]byte
	closes []Handle
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		available: true,
		open: make(map[Handle]bool),
	}
}

func (r *fakeRadio) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *fakeRadio) SetEventHandler(h func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *fakeRadio) StartScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startScans++
	if r.startScanErr != nil {
		return r.startScanErr
	}
	r.scanning = true
	return nil
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopScans++
	r.scanning = false
	return nil
}

func (r *fakeRadio) Connect(address string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, address)
	if r.connectErr != nil {
		return 0, r.connectErr
	}
	r.nextHandle++
	r.open[r.nextHandle] = true
	return r.nextHandle, nil
}

func (r *fakeRadio) DiscoverServices(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open[h] {
		return errNotConnected
	}
	r.discovers = append(r.discovers, h)
	return nil
}

func (r *fakeRadio) SetNotify(h Handle, _ device.ServiceDescriptor, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open[h] {
		return errNotConnected
	}
	r.notifies = append(r.notifies, enabled)
	return nil
}

func (r *fakeRadio) WriteDescriptor(h Handle, _ device.ServiceDescriptor, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open[h] {
		return errNotConnected
	}
	r.writes = append(r.writes, append([]byte(nil), value...))
	return nil
}

func (r *fakeRadio) Close(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, h)
	if !r.open[h] {
		return errNotConnected
	}
	delete(r.open, h)
	return nil
}

// emit delivers an event the way a radio callback would.
func (r *fakeRadio) emit(ev Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	h(ev)
}

func (r *fakeRadio) isScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

func (r *fakeRadio) openConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

func (r *fakeRadio) lastHandle() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextHandle
}

func (r *fakeRadio) connectCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

// fakeGate grants a fixed, mutable set of capabilities.
type fakeGate struct {
	mu sync.Mutex
	granted map[Capability]bool
}

func newFakeGate(caps ...Capability) *fakeGate {
	g := &fakeGate{granted: make(map[Capability]bool)}
	for _, c := range caps {
		g.granted[c] = true
	}
	return g
}

func allGranted() *fakeGate {
	return newFakeGate(CapabilityScan, CapabilityConnect, CapabilityLocation)
}

func (g *fakeGate) IsGranted(c Capability) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.granted[c]
}

func (g *fakeGate) grant(c Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted[c] = true
}

func (g *fakeGate) revoke(c Capability) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.granted, c)
}

// recordingUI captures everything the session reports.
type recordingUI struct {
	mu sync.Mutex

	statuses []string
	readings []string
	states []State
	prompts [][]Capability

	panicOnReading bool
}

func (u *recordingUI) OnStatus(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, text)
}

func (u *recordingUI) OnReading(text string) {
	u.mu.Lock()
	p := u.panicOnReading
	u.readings = append(u.readings, text)
	u.mu.Unlock()

	if p {
		panic("ui exploded")
	}
}

func (u *recordingUI) OnStateChanged(state State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.states = append(u.states, state)
}

func (u *recordingUI) RequestPermissions(missing []Capability) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prompts = append(u.prompts, missing)
}

func (u *recordingUI) statusCount(text string) (n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.statuses {
		if s == text {
			n++
		}
	}
	return n
}

func (u *recordingUI) lastStatus() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.statuses) == 0 {
		return ""
	}
	return u.statuses[len(u.statuses)-1]
}

func (u *recordingUI) statusesSnapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.statuses...)
}

func (u *recordingUI) readingsSnapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.readings...)
}

// fakeScheduler hands out timers that only fire when the test says so.
type fakeScheduler struct {
	mu sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu sync.Mutex
	d time.Duration
	f func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (sc *fakeScheduler) afterFunc(d time.Duration, f func()) Timer {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	sc.timers = append(sc.timers, t)
	return t
}

func (sc *fakeScheduler) timer(t *testing.T, i int) *fakeTimer {
	t.Helper()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if i >= len(sc.timers) {
		t.Fatalf("timer %d was never scheduled (have %d)", i, len(sc.timers))
	}
	return sc.timers[i]
}

// fire runs the callback even if the timer was stopped, like a timer racing its cancellation.
func (sc *fakeScheduler) fire(t *testing.T, i int) {
	t.Helper()
	sc.timer(t, i).f()
}

type harness struct {
	s *Session
	radio *fakeRadio
	gate *fakeGate
	ui *recordingUI
	sched *fakeScheduler
}

var (
	testServiceUUID = device.MustParseUUID("12345678-1234-1234-1234-1234567890ab")
	testCharacteristicUUID = device.MustParseUUID("abcd1234-ab12-cd34-ef56-abcdef123456")
	testTarget = device.Identity{Name: "ESP32-Thermo", Address: "AA:BB:CC:DD:EE:FF"}
	testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
)

func testConfig() Config {
	return Config{
		Target: device.Target{Name: "ESP32-Thermo"},
		Descriptor: device.ServiceDescriptor{
			Service: testServiceUUID,
			Characteristic: testCharacteristicUUID,
			NotifyDescriptor: device.ClientCharacteristicConfigUUID,
		},
	}
}

func testServices() []device.Service {
	return []device.Service{
		{UUID: device.MustParseUUID("180a"), Characteristics: []device.UUID{device.MustParseUUID("2a29")}},
		{UUID: testServiceUUID, Characteristics: []device.UUID{testCharacteristicUUID}},
	}
}

func newHarness(t *testing.T, cfg Config, gate *fakeGate) *harness {
	t.Helper()

	h := &harness{
		radio: newFakeRadio(),
		gate: gate,
		ui: &recordingUI{},
		sched: &fakeScheduler{},
	}

	s, err := New(cfg, h.radio, h.gate, h.ui,
		WithAfterFunc(h.sched.afterFunc),
		WithClock(func() time.Time { return testNow }))

	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(s.Close)
	h.s = s

	return h
}

// emit delivers ev and waits until the worker has handled it.
func (h *harness) emit(ev Event) {
	h.radio.emit(ev)
	h.flush()
}

func (h *harness) flush() {
	h.s.do(func() {})
}

func (h *harness) fireTimer(t *testing.T, i int) {
	t.Helper()
	h.sched.fire(t, i)
	h.flush()
}

func (h *harness) wantState(t *testing.T, want State) {
	t.Helper()
	if got := h.s.State(); got != want {
		t.Fatalf("State() = %v, want %v (statuses: %q)", got, want, h.ui.statusesSnapshot())
	}
}

// streaming drives a fresh harness all the way to StateStreaming.
func (h *harness) streaming(t *testing.T) Handle {
	t.Helper()

	h.s.Start()
	h.wantState(t, StateScanning)

	h.emit(DeviceFound{Identity: testTarget})
	h.wantState(t, StateConnecting)

	conn := h.radio.lastHandle()

	h.emit(ConnectionStateChanged{Handle: conn, Connected: true})
	h.wantState(t, StateDiscoveringServices)

	h.emit(ServicesDiscovered{Handle: conn, OK: true, Services: testServices()})
	h.wantState(t, StateEnablingNotifications)

	h.emit(DescriptorWritten{Handle: conn, OK: true})
	h.wantState(t, StateStreaming)

	return conn
}
