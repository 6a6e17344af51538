package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/robertof/go-ble-thermo/ble"
	"github.com/robertof/go-ble-thermo/config"
	"github.com/robertof/go-ble-thermo/ui"
	"github.com/robertof/go-ble-thermo/ui/tui"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type CLI struct {
  Globals

  TUI TUICmd `cmd:"" default:"withargs" help:"Show the interactive terminal UI (default)."`
  Watch WatchCmd `cmd:"" help:"Stream readings to the log without a terminal UI."`
  Discover DiscoverCmd `cmd:"" help:"Discover available BLE devices and quit."`
}

// Globals are shared by every command. Empty or zero overrides keep the config file value.
type Globals struct {
  Config string `help:"Path to the YAML config file." default:"${config_path}"`
  Debug bool `help:"Enable debug logs."`
  Trace bool `help:"Enable trace logs."`
  LogFile string `help:"Append logs to this file. The terminal UI discards them otherwise." type:"path"`

  Name string `help:"Advertised name of the thermometer."`
  Address string `help:"Only accept the thermometer with this MAC address."`
  Backend string `help:"Bluetooth stack: 'hci' (raw HCI socket) or 'bluez' (D-Bus)."`
  DeviceID int `help:"Bluetooth (HCI) device ID." default:"-1"`
  ConnParams string `help:"Bluetooth connection parameters (one of 'default' or 'power-saving')."`
  ScanTimeout time.Duration `help:"Give up scanning after this long."`
  PermissionModel string `help:"Permission model: 'modern' or 'legacy'."`
  MetricsListen string `help:"Serve Prometheus metrics on this address, e.g. localhost:9102."`
}

// loadConfig reads the config file, applies the command line overrides and validates the result.
func (g *Globals) loadConfig() (*config.Config, error) {
  cfg, err := config.LoadOrDefault(g.Config)

  if err != nil {
    return nil, err
  }

  if g.Name != "" {
    cfg.Device.Name = g.Name
  }

  if g.Address != "" {
    cfg.Device.Address = g.Address
  }

  if g.Backend != "" {
    cfg.Bluetooth.Backend = g.Backend
  }

  if g.DeviceID >= 0 {
    cfg.Bluetooth.DeviceID = g.DeviceID
  }

  if g.ConnParams != "" {
    if err := cfg.Bluetooth.ConnParams.UnmarshalText([]byte(g.ConnParams)); err != nil {
      return nil, err
    }
  }

  if g.ScanTimeout > 0 {
    cfg.Scan.Timeout = g.ScanTimeout
  }

  if g.PermissionModel != "" {
    if err := cfg.PermissionModel.UnmarshalText([]byte(g.PermissionModel)); err != nil {
      return nil, err
    }
  }

  if g.MetricsListen != "" {
    cfg.Metrics.Listen = g.MetricsListen
  }

  if err := cfg.Validate(); err != nil {
    return nil, fmt.Errorf("invalid config: %w", err)
  }

  return cfg, nil
}

// logOutput returns where logs go when the terminal is not available for them.
func (g *Globals) logOutput() (io.Writer, func(), error) {
  if g.LogFile == "" {
    return io.Discard, func() {}, nil
  }

  f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)

  if err != nil {
    return nil, nil, fmt.Errorf("failed to open log file: %w", err)
  }

  return f, func() { f.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
  ctx, cancel := context.WithCancel(context.Background())
  return ble.WrapContextWithSigHandler(ctx, cancel), cancel
}

type TUICmd struct {
  NoAutoStart bool `help:"Wait for a key press before scanning."`
}

func (c *TUICmd) Run(g *Globals) error {
  out, closeLog, err := g.logOutput()

  if err != nil {
    return err
  }

  defer closeLog()

  cfg, err := g.loadConfig()

  if err != nil {
    return err
  }

  setupLogging(g, out, cfg.LogLevel)

  sink := &tui.Sink{}
  a, err := newApp(cfg, sink)

  if err != nil {
    return err
  }

  defer a.Close()

  ctx, cancel := signalContext()
  defer cancel()

  eg, ctx := errgroup.WithContext(ctx)

  eg.Go(func() error {
    return a.serveMetrics(ctx)
  })

  eg.Go(func() error {
    defer cancel()

    err := tui.Run(a.session, sink, !c.NoAutoStart, tea.WithContext(ctx))

    if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
      return nil
    }

    return err
  })

  return eg.Wait()
}

type WatchCmd struct {
  RecordEvery time.Duration `help:"Record the current reading into the history at this interval. Disabled when zero."`
  Retry time.Duration `help:"Start over this long after the session fails or disconnects. By default the command exits instead."`
}

func (c *WatchCmd) Run(g *Globals) error {
  cfg, err := g.loadConfig()

  if err != nil {
    return err
  }

  out := io.Writer(os.Stderr)

  if g.LogFile != "" {
    f, closeLog, err := g.logOutput()

    if err != nil {
      return err
    }

    defer closeLog()
    out = f
  }

  setupLogging(g, out, cfg.LogLevel)

  sink := ui.NewLog()
  a, err := newApp(cfg, sink)

  if err != nil {
    return err
  }

  defer a.Close()

  ctx, cancel := signalContext()
  defer cancel()

  eg, ctx := errgroup.WithContext(ctx)

  eg.Go(func() error {
    return a.serveMetrics(ctx)
  })

  eg.Go(func() error {
    defer cancel()
    return c.watch(ctx, a, sink)
  })

  return eg.Wait()
}

func (c *WatchCmd) watch(ctx context.Context, a *app, sink *ui.Log) error {
  s := a.session
  s.Start()

  var record, retry <-chan time.Time

  if c.RecordEvery > 0 {
    ticker := time.NewTicker(c.RecordEvery)
    defer ticker.Stop()

    record = ticker.C
  }

  for {
    select {
    case <-ctx.Done():
      s.Teardown()
      return nil

    case <-record:
      s.RecordCurrentReading()

      log.Debug().
        Int("Recorded", s.Stats().Recorded).
        Msg("Recorded current reading")

    case <-sink.Changed():
      state := s.State()

      if !state.Terminal() || retry != nil {
        continue
      }

      err := s.Failure()

      if err != nil {
        log.Error().Err(err).Msg("Session failed")
      }

      if c.Retry <= 0 {
        return err
      }

      log.Info().Dur("RetryIn", c.Retry).Msg("Starting over")
      retry = time.After(c.Retry)

    case <-retry:
      retry = nil
      s.Start()
    }
  }
}
