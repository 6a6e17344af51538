package device

import (
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// DeviceSpec is a parsed `name=...,addr=...` target description.
type DeviceSpec map[string]string

const (
  DeviceSpecFieldName = "name"
  DeviceSpecFieldAddress = "addr"
)

var knownDeviceSpecFields = []string{DeviceSpecFieldName, DeviceSpecFieldAddress}

func NewDeviceSpec(s string) DeviceSpec {
  spec := DeviceSpec{}

  for _, entry := range strings.Split(s, ",") {
    if strings.TrimSpace(entry) == "" {
      continue
    }

    key, value, ok := strings.Cut(entry, "=")

    if !ok {
      log.Warn().Str("Entry", entry).Msg("Skipping invalid device spec entry")
      continue
    }

    spec[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
  }

  return spec
}

func (ds DeviceSpec) Name() string {
  return ds[DeviceSpecFieldName]
}

func (ds DeviceSpec) Addr() string {
  return ds[DeviceSpecFieldAddress]
}

// Unknown returns the keys that do not describe a target, sorted.
func (ds DeviceSpec) Unknown() (keys []string) {
  for k := range ds {
    if !slices.Contains(knownDeviceSpecFields, k) {
      keys = append(keys, k)
    }
  }

  slices.Sort(keys)

  return keys
}
