package ble

import (
  "net"

  "github.com/go-ble/ble"
  "github.com/go-ble/ble/linux"
  "github.com/go-ble/ble/linux/hci/cmd"
  "github.com/pkg/errors"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-ble-thermo/utils"
  "github.com/rs/zerolog/log"
)

type Advertisement = ble.Advertisement
type Client = ble.Client

// Handle owns the HCI device the thermometer is reached through.
type Handle struct {
  dev *linux.Device
}

// RegisterMetrics exposes the radio counters (connections, disconnects, scan failures,
// notifications) on reg.
func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(
    successfulConnectionsCounter,
    failedConnectionsCounter,
    disconnectsCounter,
    scanFailuresCounter,
    notificationsCounter,
  )
}

func Init(deviceId int, flags Flags) (*Handle, error) {
  return InitWithConnParams(deviceId, ConnParamsDefault, flags)
}

func InitWithConnParams(deviceId int, connParams ConnParams, flags Flags) (*Handle, error) {
  log.Debug().
    Stringer("ScanType", flags.scanType()).
    Stringer("FilterPolicy", flags.filterPolicy()).
    Stringer("ConnParams", connParams).
    Stringer("Flags", flags).
    Int("DeviceID", deviceId).
    Msg("ble: opening HCI device")

  dev, err := linux.NewDevice(
    ble.OptDeviceID(deviceId),
    ble.OptScanParams(cmd.LESetScanParameters{
      LEScanType:           uint8(flags.scanType()),     // 0x00: passive, 0x01: active
      LEScanInterval:       0x0004,                      // 0x0004 - 0x4000; N * 0.625msec
      LEScanWindow:         0x0004,                      // 0x0004 - 0x4000; N * 0.625msec
      OwnAddressType:       0x00,                        // 0x00: public, 0x01: random
      ScanningFilterPolicy: uint8(flags.filterPolicy()), // 0x00: accept all, 0x01: ignore non-allow-listed.
    }),
    ble.OptConnParams(connParams.AdapterOptions()),
  )

  if err != nil {
    return nil, errors.Wrapf(err, "ble: failed to open hci%d", deviceId)
  }

  ble.SetDefaultDevice(dev)

  return &Handle{dev: dev}, nil
}

// SetAllowListedAddresses replaces the controller allow-list, so that a scan started with
// FlagEnableDeviceAllowList only reports the thermometer.
func (h *Handle) SetAllowListedAddresses(a []net.HardwareAddr) error {
  log.Debug().
    Array("DeviceAddresses", utils.ToZeroLogArray(a)).
    Msg("ble: allow-listing target addresses")

  // start from an empty list, the controller keeps entries across runs
  var res cmd.LEClearWhiteListRP

  if err := h.dev.HCI.Send(&cmd.LEClearWhiteList{}, &res); err != nil {
    return errors.Wrap(err, "ble: failed to clear allow-list")
  }

  if res.Status != 0 {
    return errors.Errorf("ble: failed to clear allow-list: got status: %v", res.Status)
  }

  for _, addr := range a {
    if len(addr) != 6 {
      return errors.Errorf("ble: cannot allow-list %q: not a 48-bit address", addr.String())
    }

    var res cmd.LEAddDeviceToWhiteListRP

    err := h.dev.HCI.Send(&cmd.LEAddDeviceToWhiteList{
      AddressType: 0x00, // public
      // HCI wants the address little-endian
      Address: [6]byte{addr[5], addr[4], addr[3], addr[2], addr[1], addr[0]},
    }, &res)

    if err != nil {
      return errors.Wrapf(err, "ble: failed to allow-list %q", addr.String())
    }

    if res.Status != 0 {
      return errors.Errorf("ble: failed to allow-list %q: got status: %v", addr.String(), res.Status)
    }
  }

  return nil
}

func (h *Handle) Stop() {
  if err := h.dev.Stop(); err != nil {
    log.Debug().Err(err).Msg("ble: failed to stop HCI device")
  }
}
