package device

import (
  "encoding/binary"
  "fmt"
  "strings"

  "github.com/go-ble/ble"
)

type UUID = ble.UUID

// ClientCharacteristicConfigUUID is the standard CCCD written to enable notifications.
var ClientCharacteristicConfigUUID = ble.ClientCharacteristicConfigUUID

// EnableNotificationValue is the CCCD value enabling notifications (not indications).
var EnableNotificationValue = []byte{0x01, 0x00}

// DisableNotificationValue clears both the notification and indication bits.
var DisableNotificationValue = []byte{0x00, 0x00}

// ServiceDescriptor identifies the characteristic streaming temperature values and its CCCD.
type ServiceDescriptor struct {
  Service UUID
  Characteristic UUID
  NotifyDescriptor UUID
}

func (s ServiceDescriptor) String() string {
  return fmt.Sprintf("service=%s,characteristic=%s,descriptor=%s",
    FormatUUID(s.Service), FormatUUID(s.Characteristic), FormatUUID(s.NotifyDescriptor))
}

// Validate checks that every attribute of the descriptor is set.
func (s ServiceDescriptor) Validate() error {
  switch {
  case len(s.Service) == 0:
    return fmt.Errorf("service UUID is not set")
  case len(s.Characteristic) == 0:
    return fmt.Errorf("characteristic UUID is not set")
  case len(s.NotifyDescriptor) == 0:
    return fmt.Errorf("notification descriptor UUID is not set")
  }

  return nil
}

// Service is a GATT service as reported by service discovery.
type Service struct {
  UUID UUID
  Characteristics []UUID
}

// FoundIn reports whether the discovered services contain the descriptor's service and, inside
// that service, its characteristic.
func (s ServiceDescriptor) FoundIn(services []Service) (serviceFound, characteristicFound bool) {
  for _, svc := range services {
    if !EqualUUID(svc.UUID, s.Service) {
      continue
    }

    serviceFound = true

    for _, c := range svc.Characteristics {
      if EqualUUID(c, s.Characteristic) {
        return true, true
      }
    }
  }

  return serviceFound, false
}

// ParseUUID parses a 16-bit ("2902") or 128-bit (dashed or not) UUID.
func ParseUUID(s string) (UUID, error) {
  u, err := ble.Parse(strings.TrimSpace(s))

  if err != nil {
    return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
  }

  if len(u) != 2 && len(u) != 16 {
    return nil, fmt.Errorf("invalid UUID %q: unexpected length %d", s, len(u))
  }

  return u, nil
}

// MustParseUUID is like ParseUUID but panics on malformed input.
func MustParseUUID(s string) UUID {
  u, err := ParseUUID(s)

  if err != nil {
    panic(err)
  }

  return u
}

// Expand returns the 128-bit form of a 16-bit UUID built on the Bluetooth base UUID.
func Expand(u UUID) UUID {
  if len(u) != 2 {
    return u
  }

  return ble.MustParse(fmt.Sprintf("0000%04x-0000-1000-8000-00805f9b34fb", binary.LittleEndian.Uint16(u)))
}

// EqualUUID compares UUIDs regardless of their 16-bit or 128-bit encoding.
func EqualUUID(a, b UUID) bool {
  return Expand(a).Equal(Expand(b))
}

// FormatUUID renders a UUID in its canonical lowercase dashed form.
func FormatUUID(u UUID) string {
  if len(u) != 16 {
    return u.String()
  }

  h := fmt.Sprintf("%x", []byte(ble.Reverse(u)))

  return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:]
}
