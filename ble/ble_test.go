package ble

import (
  "reflect"
  "testing"

  ble_mod "github.com/go-ble/ble"
  "github.com/robertof/go-ble-thermo/device"
  "github.com/robertof/go-ble-thermo/session"
)

func TestIdentityOf(t *testing.T) {
  advertisement := FakeAdvertisement{
    name: "ESP32-Thermo",
    addr: ble_mod.NewAddr("a8:e2:c1:71:67:1e"),
  }

  got := IdentityOf(advertisement)
  want := device.Identity{Name: "ESP32-Thermo", Address: "A8:E2:C1:71:67:1E"}

  if got != want {
    t.Fatalf("IdentityOf(%+v): got %+v, wanted %+v", advertisement, got, want)
  }
}

func TestIdentityOf_Unnamed(t *testing.T) {
  got := IdentityOf(FakeAdvertisement{addr: ble_mod.NewAddr("18:93:D7:35:35:59")})

  if got.Name != "" || got.Matches("ESP32-Thermo") {
    t.Fatalf("IdentityOf(unnamed): got %+v, should not match anything", got)
  }
}

func TestConnParamsUnmarshalText(t *testing.T) {
  var p ConnParams

  if err := p.UnmarshalText([]byte("Power-Saving")); err != nil || p != ConnParamsPowerSaving {
    t.Fatalf("UnmarshalText(Power-Saving): got %v, %v", p, err)
  }

  if err := p.UnmarshalText(nil); err != nil || p != ConnParamsDefault {
    t.Fatalf("UnmarshalText(\"\"): got %v, %v", p, err)
  }

  if err := p.UnmarshalText([]byte("turbo")); err == nil {
    t.Fatalf("UnmarshalText(turbo): expected an error")
  }
}

func TestConnParamsAdapterOptions(t *testing.T) {
  def := ConnParamsDefault.AdapterOptions()
  saving := ConnParamsPowerSaving.AdapterOptions()

  if saving.SupervisionTimeout <= def.SupervisionTimeout {
    t.Fatalf("power saving supervision timeout %#x should exceed default %#x",
      saving.SupervisionTimeout, def.SupervisionTimeout)
  }

  // interval max * (latency + 1) must stay under half the supervision timeout
  interval := float64(saving.ConnIntervalMax) * 1.25
  timeout := float64(saving.SupervisionTimeout) * 10

  if interval * float64(saving.ConnLatency + 1) > timeout / 2 {
    t.Fatalf("power saving parameters violate the link layer constraints: %+v", saving)
  }
}

func TestFlagsString(t *testing.T) {
  if got := Flags(0).String(); got != "none" {
    t.Fatalf("Flags(0).String(): got %q, wanted %q", got, "none")
  }

  got := (FlagScanTypeActive | FlagEnableDeviceAllowList).String()

  if got != "active scan, device allow-list" {
    t.Fatalf("Flags.String(): got %q", got)
  }
}

func TestFlagsScanParameters(t *testing.T) {
  cases := []struct {
    flags Flags
    scan scanType
    filter filterPolicy
  }{
    {0, scanTypePassive, filterPolicyAcceptAll},
    {FlagScanTypeActive, scanTypeActive, filterPolicyAcceptAll},
    {FlagEnableDeviceAllowList, scanTypePassive, filterPolicyAllowListedOnly},
    {FlagScanTypeActive | FlagEnableDeviceAllowList, scanTypeActive, filterPolicyAllowListedOnly},
  }

  for _, c := range cases {
    if got := c.flags.scanType(); got != c.scan {
      t.Errorf("Flags(%v).scanType(): got %v, wanted %v", c.flags, got, c.scan)
    }

    if got := c.flags.filterPolicy(); got != c.filter {
      t.Errorf("Flags(%v).filterPolicy(): got %v, wanted %v", c.flags, got, c.filter)
    }
  }
}

func testProfile() *ble_mod.Profile {
  return &ble_mod.Profile{
    Services: []*ble_mod.Service{
      {
        UUID: ble_mod.UUID16(0x180a),
        Characteristics: []*ble_mod.Characteristic{{UUID: ble_mod.UUID16(0x2a29)}},
      },
      {
        UUID: ble_mod.MustParse("12345678-1234-1234-1234-1234567890ab"),
        Characteristics: []*ble_mod.Characteristic{
          {UUID: ble_mod.MustParse("abcd1234-ab12-cd34-ef56-abcdef123456")},
        },
      },
    },
  }
}

func TestServicesOf(t *testing.T) {
  got := servicesOf(testProfile())

  want := []device.Service{
    {UUID: ble_mod.UUID16(0x180a), Characteristics: []device.UUID{ble_mod.UUID16(0x2a29)}},
    {
      UUID: ble_mod.MustParse("12345678-1234-1234-1234-1234567890ab"),
      Characteristics: []device.UUID{ble_mod.MustParse("abcd1234-ab12-cd34-ef56-abcdef123456")},
    },
  }

  if !reflect.DeepEqual(got, want) {
    t.Fatalf("servicesOf(): got %v, wanted %v", got, want)
  }
}

func TestFindCharacteristic(t *testing.T) {
  sd := device.ServiceDescriptor{
    Service: device.MustParseUUID("12345678-1234-1234-1234-1234567890ab"),
    Characteristic: device.MustParseUUID("abcd1234-ab12-cd34-ef56-abcdef123456"),
    NotifyDescriptor: device.ClientCharacteristicConfigUUID,
  }

  if c := findCharacteristic(testProfile(), sd); c == nil {
    t.Fatalf("findCharacteristic(%v): got nil", sd)
  }

  // characteristic present, but under another service
  sd.Service = device.MustParseUUID("180a")

  if c := findCharacteristic(testProfile(), sd); c != nil {
    t.Fatalf("findCharacteristic(%v): got %v, wanted nil", sd, c)
  }

  if c := findCharacteristic(nil, sd); c != nil {
    t.Fatalf("findCharacteristic(nil profile): got %v, wanted nil", c)
  }
}

func TestRadioWithoutAdapter(t *testing.T) {
  r := NewRadio(nil)

  if r.Available() {
    t.Fatalf("Available(): got true for a radio without a device")
  }

  if err := r.StartScan(); err != ErrUnavailable {
    t.Fatalf("StartScan(): got %v, wanted %v", err, ErrUnavailable)
  }

  if err := r.StopScan(); err != nil {
    t.Fatalf("StopScan(): got %v, wanted nil", err)
  }

  if err := r.Close(42); err != nil {
    t.Fatalf("Close(unknown): got %v, wanted nil", err)
  }

  if err := r.DiscoverServices(42); err == nil {
    t.Fatalf("DiscoverServices(unknown): expected an error")
  }
}

func TestUnavailable(t *testing.T) {
  var radio session.Radio = Unavailable{}

  if radio.Available() {
    t.Fatalf("Unavailable.Available(): got true")
  }

  if _, err := radio.Connect("AA:BB:CC:DD:EE:FF"); err != ErrUnavailable {
    t.Fatalf("Unavailable.Connect(): got %v, wanted %v", err, ErrUnavailable)
  }
}

type FakeAdvertisement struct {
  name string
  manufacturerData []byte
  addr ble_mod.Addr
}

func (f FakeAdvertisement) LocalName() string {
  return f.name
}

func (f FakeAdvertisement) ManufacturerData() []byte {
  return f.manufacturerData
}

func (f FakeAdvertisement) ServiceData() []ble_mod.ServiceData {
  return nil
}

func (f FakeAdvertisement) Services() []ble_mod.UUID {
  return nil
}

func (f FakeAdvertisement) OverflowService() []ble_mod.UUID {
  return nil
}

func (f FakeAdvertisement) TxPowerLevel() int {
  return 0
}

func (f FakeAdvertisement) Connectable() bool {
  return true
}

func (f FakeAdvertisement) SolicitedService() []ble_mod.UUID {
  return nil
}

func (f FakeAdvertisement) RSSI() int {
  return 0
}

func (f FakeAdvertisement) Addr() ble_mod.Addr {
  return f.addr
}
