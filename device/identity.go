package device

import (
  "errors"
  "fmt"
  "net"
  "strings"
)

var ErrInvalidSpec = errors.New("invalid device spec")

// Identity is a peripheral as observed in a single advertisement.
type Identity struct {
  Name string
  Address string
}

func (i Identity) String() string {
  if i.Name == "" {
    return i.Address
  }

  return fmt.Sprintf("%s/%s", i.Name, i.Address)
}

// Matches reports whether the advertised name is exactly the target name. An empty target
// never matches, neither does an advertisement without a name.
func (i Identity) Matches(target string) bool {
  return target != "" && i.Name == target
}

// Target is the peripheral a session looks for. Only Name takes part in matching; Address,
// when set, narrows what the radio reports at all.
type Target struct {
  Name string
  Address string
}

func (t Target) String() string {
  if t.Address == "" {
    return t.Name
  }

  return fmt.Sprintf("%s (%s)", t.Name, t.Address)
}

// HardwareAddr parses Address as a MAC address. Returns nil when no address is configured.
func (t Target) HardwareAddr() (net.HardwareAddr, error) {
  if t.Address == "" {
    return nil, nil
  }

  addr, err := net.ParseMAC(t.Address)

  if err != nil {
    return nil, fmt.Errorf("invalid target address %q: %w", t.Address, err)
  }

  if len(addr) != 6 {
    return nil, fmt.Errorf("invalid target address %q: not a 48-bit address", t.Address)
  }

  return addr, nil
}

// TargetFromSpec builds a Target from a `name=...,addr=...` device spec.
func TargetFromSpec(spec DeviceSpec) (t Target, err error) {
  if unknown := spec.Unknown(); len(unknown) > 0 {
    return t, fmt.Errorf("%w: unknown keys %q", ErrInvalidSpec, unknown)
  }

  t.Name = spec.Name()
  t.Address = strings.ToUpper(spec.Addr())

  if t.Name == "" {
    return t, fmt.Errorf("%w: %q is required", ErrInvalidSpec, DeviceSpecFieldName)
  }

  if _, err := t.HardwareAddr(); err != nil {
    return t, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
  }

  return t, nil
}

// UnmarshalText lets a Target be passed directly as a `name=...,addr=...` flag value.
func (t *Target) UnmarshalText(text []byte) error {
  parsed, err := TargetFromSpec(NewDeviceSpec(string(text)))

  if err != nil {
    return err
  }

  *t = parsed
  return nil
}
