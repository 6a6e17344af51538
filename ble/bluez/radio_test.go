package bluez

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
	"tinygo.org/x/bluetooth"
)

type fakeAdapter struct {
	enableErr error
	connectErr error

	mu sync.Mutex
	stop chan struct{}
	onConnect func(bluetooth.Device, bool)
}

func (a *fakeAdapter) Enable() error {
	return a.enableErr
}

func (a *fakeAdapter) Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	a.mu.Lock()
	a.stop = make(chan struct{})
	stop := a.stop
	a.mu.Unlock()

	<-stop

	return nil
}

func (a *fakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop == nil {
		return errors.New("not scanning")
	}

	close(a.stop)
	a.stop = nil

	return nil
}

func (a *fakeAdapter) Connect(address bluetooth.Address, _ bluetooth.ConnectionParams) (bluetooth.Device, error) {
	if a.connectErr != nil {
		return bluetooth.Device{}, a.connectErr
	}

	return bluetooth.Device{Address: address}, nil
}

func (a *fakeAdapter) SetConnectHandler(c func(bluetooth.Device, bool)) {
	a.onConnect = c
}

func (a *fakeAdapter) scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stop != nil
}

type events chan session.Event

func (e events) next(t *testing.T) session.Event {
	t.Helper()

	select {
	case ev := <-e:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a radio event")
		return nil
	}
}

func newRadio(t *testing.T, a *fakeAdapter) (*Radio, events) {
	t.Helper()

	r := New(a)
	ch := make(events, 16)
	r.SetEventHandler(func(ev session.Event) { ch <- ev })

	return r, ch
}

func TestUnavailableWhenEnableFails(t *testing.T) {
	r, _ := newRadio(t, &fakeAdapter{enableErr: errors.New("no adapter")})

	if r.Available() {
		t.Fatal("Available(): got true although the adapter failed to enable")
	}

	if err := r.StartScan(); err == nil {
		t.Fatal("StartScan(): expected an error")
	}
}

func TestScanStartStop(t *testing.T) {
	a := &fakeAdapter{}
	r, evs := newRadio(t, a)

	if err := r.StartScan(); err != nil {
		t.Fatalf("StartScan(): %v", err)
	}

	// a second start while scanning is a no-op
	if err := r.StartScan(); err != nil {
		t.Fatalf("StartScan(): %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !a.scanning() {
		if time.Now().After(deadline) {
			t.Fatal("adapter never started scanning")
		}
		time.Sleep(time.Millisecond)
	}

	if err := r.StopScan(); err != nil {
		t.Fatalf("StopScan(): %v", err)
	}

	if err := r.StopScan(); err != nil {
		t.Fatalf("StopScan() when idle: %v", err)
	}

	select {
	case ev := <-evs:
		t.Fatalf("unexpected event after a requested stop: %v", ev)
	default:
	}
}

func TestStopScanRightAfterStart(t *testing.T) {
	for i := 0; i < 100; i++ {
		a := &fakeAdapter{}
		r, _ := newRadio(t, a)

		if err := r.StartScan(); err != nil {
			t.Fatalf("StartScan(): %v", err)
		}

		if err := r.StopScan(); err != nil {
			t.Fatalf("run %d: StopScan(): %v", i, err)
		}

		if a.scanning() {
			t.Fatalf("run %d: adapter still scanning after StopScan()", i)
		}
	}
}

func TestConnectFailure(t *testing.T) {
	r, evs := newRadio(t, &fakeAdapter{connectErr: errors.New("le-connection-abort-by-local")})

	h, err := r.Connect("aa:bb:cc:dd:ee:ff")

	if err != nil || h == 0 {
		t.Fatalf("Connect(): got %v, %v", h, err)
	}

	ev, ok := evs.next(t).(session.ConnectionStateChanged)

	if !ok || ev.Handle != h || ev.Connected || ev.Err == nil {
		t.Fatalf("got %v, wanted a failed ConnectionStateChanged for handle %d", ev, h)
	}

	if err := r.DiscoverServices(h); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("DiscoverServices() after failed connect: got %v, wanted %v", err, ErrNotConnected)
	}
}

func TestAdapterDisconnectIsReported(t *testing.T) {
	a := &fakeAdapter{}
	r, evs := newRadio(t, a)

	h, _ := r.Connect("AA:BB:CC:DD:EE:FF")

	if ev := evs.next(t).(session.ConnectionStateChanged); !ev.Connected {
		t.Fatalf("got %v, wanted connected", ev)
	}

	var addr bluetooth.Address
	addr.Set("AA:BB:CC:DD:EE:FF")
	a.onConnect(bluetooth.Device{Address: addr}, false)

	ev := evs.next(t).(session.ConnectionStateChanged)

	if ev.Handle != h || ev.Connected {
		t.Fatalf("got %v, wanted disconnect of handle %d", ev, h)
	}

	if err := r.Close(h); err != nil {
		t.Fatalf("Close() after disconnect: %v", err)
	}
}

func TestCharKeyNormalisesShortUUIDs(t *testing.T) {
	short := charKey(device.MustParseUUID("181a"), device.MustParseUUID("2a6e"))
	long := charKey(
		device.MustParseUUID("0000181a-0000-1000-8000-00805f9b34fb"),
		device.MustParseUUID("00002a6e-0000-1000-8000-00805f9b34fb"),
	)

	if short != long {
		t.Fatalf("charKey(): got %q and %q for the same characteristic", short, long)
	}
}

func TestToUUID(t *testing.T) {
	u, err := bluetooth.ParseUUID("12345678-1234-1234-1234-1234567890ab")

	if err != nil {
		t.Fatal(err)
	}

	got := device.FormatUUID(toUUID(u))

	if got != "12345678-1234-1234-1234-1234567890ab" {
		t.Fatalf("toUUID(): got %s", got)
	}
}
