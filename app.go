package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertof/go-ble-thermo/ble"
	"github.com/robertof/go-ble-thermo/ble/bluez"
	"github.com/robertof/go-ble-thermo/config"
	"github.com/robertof/go-ble-thermo/metrics"
	"github.com/robertof/go-ble-thermo/permission"
	"github.com/robertof/go-ble-thermo/session"
	"github.com/rs/zerolog/log"
)

// radio is a session.Radio that owns an adapter.
type radio interface {
  session.Radio
  Shutdown()
}

// app wires a session to its radio, permission gate and metrics registry.
type app struct {
  cfg *config.Config
  radio radio
  session *session.Session
  registry *prometheus.Registry
}

func newApp(cfg *config.Config, ui session.UserInterface) (*app, error) {
  scfg, err := cfg.SessionConfig()

  if err != nil {
    return nil, err
  }

  log.Info().
    Str("Name", scfg.Target.Name).
    Str("Address", scfg.Target.Address).
    Str("Backend", cfg.Bluetooth.Backend).
    Int("BluetoothDeviceID", cfg.Bluetooth.DeviceID).
    Stringer("PermissionModel", scfg.PermissionModel).
    Msg("Starting with the specified configuration")

  r := initRadio(cfg)

  s, err := session.New(scfg, r, initGate(cfg), ui)

  if err != nil {
    r.Shutdown()
    return nil, fmt.Errorf("failed to create session: %w", err)
  }

  registry := prometheus.NewRegistry()

  registry.MustRegister(
    collectors.NewGoCollector(),
    collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
  )

  metrics.RegisterCollector(s, scfg.Target.Name, registry)

  if _, ok := r.(*ble.Radio); ok {
    ble.RegisterMetrics(registry)
  }

  return &app{
    cfg: cfg,
    radio: r,
    session: s,
    registry: registry,
  }, nil
}

// Close tears the session down and releases the adapter.
func (a *app) Close() {
  a.session.Close()
  a.radio.Shutdown()
}

// serveMetrics exposes the registry until ctx is done. It returns at once when no listen address
// is configured.
func (a *app) serveMetrics(ctx context.Context) error {
  if a.cfg.Metrics.Listen == "" {
    return nil
  }

  mux := http.NewServeMux()
  mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

  srv := &http.Server{
    Addr: a.cfg.Metrics.Listen,
    Handler: mux,
    ReadHeaderTimeout: 5 * time.Second,
  }

  go func() {
    <-ctx.Done()

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5 * time.Second)
    defer cancel()

    if err := srv.Shutdown(shutdownCtx); err != nil {
      log.Warn().Err(err).Msg("Failed to shut down the Prometheus server cleanly")
    }
  }()

  log.Info().
    Str("ListenAddress", a.cfg.Metrics.Listen).
    Msg("Starting Prometheus server")

  if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
    return fmt.Errorf("unable to bind on requested address: %w", err)
  }

  return nil
}

func initRadio(cfg *config.Config) radio {
  if cfg.Bluetooth.Backend == config.BackendBlueZ {
    return bluez.NewDefault()
  }

  var bleFlags ble.Flags
  var allowList []net.HardwareAddr

  if cfg.Scan.Active {
    bleFlags |= ble.FlagScanTypeActive
  }

  if cfg.Device.Address != "" {
    addr, err := net.ParseMAC(cfg.Device.Address)

    if err != nil {
      log.Error().Err(err).Str("Address", cfg.Device.Address).Msg("Ignoring unparseable device address for the allow list")
    } else {
      bleFlags |= ble.FlagEnableDeviceAllowList
      allowList = append(allowList, addr)
    }
  }

  handle, err := ble.InitWithConnParams(cfg.Bluetooth.DeviceID, cfg.Bluetooth.ConnParams, bleFlags)

  if err != nil {
    log.Error().Err(err).Msg("Failed to initialize Bluetooth device")
    return ble.Unavailable{}
  }

  if len(allowList) > 0 {
    if err := handle.SetAllowListedAddresses(allowList); err != nil {
      log.Error().Err(err).Msg("Failed to set device allow list")
    }
  }

  r := ble.NewRadio(handle)
  r.ConnectTimeout = cfg.Bluetooth.ConnectTimeout

  return r
}

func initGate(cfg *config.Config) session.PermissionGate {
  if cfg.PermissionModel == session.PermissionModelLegacy {
    return permission.All()
  }

  return &permission.Process{}
}
