package ble

import (
  "context"
  "fmt"

  "github.com/go-ble/ble"
  "github.com/robertof/go-ble-thermo/session"
  "github.com/rs/zerolog/log"
)

func WrapContextWithSigHandler(ctx context.Context, cancel func()) context.Context {
  return ble.WithSigHandler(ctx, cancel)
}

// Perform an active or passive scan and return every advertisement found.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
  err := h.dev.Scan(ctx, true, onDevice)

  if err = swallowCancellation(err); err != nil {
    return fmt.Errorf("failed to initiate scan: %w", err)
  }

  return nil
}

// StartScan begins a background scan reporting every advertisement as session.DeviceFound. A scan
// that ends on its own is reported as session.ScanFailed. Starting while a scan runs is a no-op.
func (r *Radio) StartScan() error {
  if !r.Available() {
    return ErrUnavailable
  }

  r.mu.Lock()
  defer r.mu.Unlock()

  if r.scanCancel != nil {
    return nil
  }

  ctx, cancel := context.WithCancel(context.Background())
  done := make(chan struct{})

  r.scanCancel = cancel
  r.scanDone = done

  log.Debug().Msg("ble: starting scan")

  go func() {
    defer close(done)

    err := swallowCancellation(r.h.dev.Scan(ctx, false, r.onAdvertisement))

    r.mu.Lock()
    if r.scanDone == done {
      r.scanCancel = nil
      r.scanDone = nil
    }
    r.mu.Unlock()

    if err != nil {
      scanFailuresCounter.Inc()
      log.Error().Err(err).Msg("ble: scan aborted")

      r.emit(session.ScanFailed{Code: session.ScanFailedInternalError, Err: err})
    }
  }()

  return nil
}

// StopScan cancels the running scan, if any, and waits for the controller to stop scanning.
func (r *Radio) StopScan() error {
  r.mu.Lock()
  cancel, done := r.scanCancel, r.scanDone
  r.scanCancel, r.scanDone = nil, nil
  r.mu.Unlock()

  if cancel == nil {
    return nil
  }

  log.Debug().Msg("ble: stopping scan")

  cancel()
  <-done

  return nil
}

func (r *Radio) onAdvertisement(a Advertisement) {
  log.Trace().
    Str("Advertisement", fmt.Sprintf("%+v", a)).
    Msg("ble: received advertisement")

  r.emit(session.DeviceFound{Identity: IdentityOf(a)})
}
