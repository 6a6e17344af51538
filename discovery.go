package main

import (
	"context"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/robertof/go-ble-thermo/ble"
	"github.com/robertof/go-ble-thermo/ble/bluez"
	"github.com/robertof/go-ble-thermo/config"
	"github.com/robertof/go-ble-thermo/session"
)

type DiscoverCmd struct {
  Duration time.Duration `help:"How long to collect advertisements for." default:"5s"`
}

type deviceInfo struct {
  name string
  connectable bool
  services []string
}

func (c *DiscoverCmd) Run(g *Globals) error {
  cfg, err := config.LoadOrDefault(g.Config)

  if err != nil {
    return err
  }

  if g.Backend != "" {
    cfg.Bluetooth.Backend = g.Backend
  }

  if g.DeviceID >= 0 {
    cfg.Bluetooth.DeviceID = g.DeviceID
  }

  setupLogging(g, os.Stderr, cfg.LogLevel)

  log.Info().
    Dur("DurationSec", c.Duration).
    Str("Backend", cfg.Bluetooth.Backend).
    Msg("Starting in device discovery mode")

  ctx, cancel := context.WithTimeout(context.Background(), c.Duration)
  ctx = ble.WrapContextWithSigHandler(ctx, cancel)
  defer cancel()

  var devices map[string]deviceInfo

  if cfg.Bluetooth.Backend == config.BackendBlueZ {
    devices, err = discoverWithRadio(ctx, bluez.NewDefault())
  } else {
    devices, err = discoverWithHCI(ctx, cfg.Bluetooth.DeviceID)
  }

  if err != nil {
    return err
  }

  log.Info().Int("Found", len(devices)).Msg("Finished device discovery")

  for addr, data := range devices {
    log.Info().
      Str("Addr", addr).
      Str("Name", data.name).
      Bool("Connectable", data.connectable).
      Strs("Services", data.services).
      Msg("Found device")
  }

  return nil
}

func discoverWithHCI(ctx context.Context, deviceID int) (map[string]deviceInfo, error) {
  handle, err := ble.Init(deviceID, ble.FlagScanTypeActive)

  if err != nil {
    return nil, err
  }

  defer handle.Stop()

  devices := make(map[string]deviceInfo)

  err = handle.ScanAll(ctx, func(a ble.Advertisement) {
    services := make(map[string]bool)

    for _, uuid := range a.Services() {
      services[uuid.String()] = true
    }

    addr := ble.IdentityOf(a).Address
    info, ok := devices[addr]

    if ok {
      // merge
      if info.name == "" {
        info.name = a.LocalName()
      }
      info.connectable = a.Connectable()

      for _, uuid := range info.services {
        services[uuid] = true
      }
    } else {
      info = deviceInfo{
        name: a.LocalName(),
        connectable: a.Connectable(),
      }
    }

    info.services = slices.Collect(maps.Keys(services))
    devices[addr] = info

    log.Debug().
      Str("Addr", addr).
      Str("Name", a.LocalName()).
      Bool("Connectable", a.Connectable()).
      Strs("Services", info.services).
      Hex("ManufacturerData", a.ManufacturerData()).
      Msg("Received device advertisement")
  })

  return devices, err
}

// discoverWithRadio collects the identities a session radio reports until ctx is done. Radios
// only report names and addresses, so nothing else is filled in.
func discoverWithRadio(ctx context.Context, r radio) (map[string]deviceInfo, error) {
  defer r.Shutdown()

  var mu sync.Mutex
  devices := make(map[string]deviceInfo)

  r.SetEventHandler(func(ev session.Event) {
    found, ok := ev.(session.DeviceFound)

    if !ok {
      return
    }

    mu.Lock()
    defer mu.Unlock()

    info := devices[found.Identity.Address]

    if info.name == "" {
      info.name = found.Identity.Name
    }

    devices[found.Identity.Address] = info

    log.Debug().
      Str("Addr", found.Identity.Address).
      Str("Name", found.Identity.Name).
      Msg("Received device advertisement")
  })

  if err := r.StartScan(); err != nil {
    return nil, err
  }

  <-ctx.Done()

  if err := r.StopScan(); err != nil {
    return nil, err
  }

  mu.Lock()
  defer mu.Unlock()

  return devices, nil
}
