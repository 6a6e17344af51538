package metrics

import (
  "strconv"
  "strings"

  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-ble-thermo/device"
  "github.com/robertof/go-ble-thermo/session"
)

var (
  descState = prometheus.NewDesc(
    "thermo_session_state",
    "Current state of the session, 1 for the active state and 0 for every other one.",
    []string{"name", "state"},
    nil,
  )

  descNotifications = prometheus.NewDesc(
    "thermo_notifications_total",
    "Temperature notifications decoded since start.",
    []string{"name"},
    nil,
  )

  descDecodeErrors = prometheus.NewDesc(
    "thermo_decode_errors_total",
    "Notifications dropped because their payload could not be decoded.",
    []string{"name"},
    nil,
  )

  descHistoryLength = prometheus.NewDesc(
    "thermo_history_length",
    "Number of readings recorded in the history.",
    []string{"name"},
    nil,
  )

  descLastReading = prometheus.NewDesc(
    "thermo_last_reading_timestamp_seconds",
    "Unix time of the latest reading received.",
    []string{"name"},
    nil,
  )

  descTemperature = prometheus.NewDesc(
    "thermo_temperature_celsius",
    "Latest temperature reported by the sensor in Celsius, when it is numeric.",
    []string{"name"},
    nil,
  )
)

// Source is what the collector reads on every scrape. *session.Session implements it.
type Source interface {
  State() session.State
  Stats() session.Stats
  Latest() (device.Reading, bool)
}

type collector struct {
  src Source
  name string
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
  prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
  current := c.src.State()

  for _, s := range session.AllStates {
    value := 0.0

    if s == current {
      value = 1
    }

    ch <- prometheus.MustNewConstMetric(descState, prometheus.GaugeValue, value, c.name, s.String())
  }

  stats := c.src.Stats()

  ch <- prometheus.MustNewConstMetric(
    descNotifications, prometheus.CounterValue, float64(stats.Notifications), c.name)
  ch <- prometheus.MustNewConstMetric(
    descDecodeErrors, prometheus.CounterValue, float64(stats.DecodeErrors), c.name)
  ch <- prometheus.MustNewConstMetric(
    descHistoryLength, prometheus.GaugeValue, float64(stats.Recorded), c.name)

  reading, ok := c.src.Latest()

  if !ok {
    return
  }

  ch <- prometheus.MustNewConstMetric(
    descLastReading,
    prometheus.GaugeValue,
    float64(reading.ReceivedAt.UnixNano()) / 1e9,
    c.name,
  )

  // firmware sends free-form text, only export it when it is a plain number
  if temp, err := strconv.ParseFloat(strings.TrimSpace(reading.Text), 64); err == nil {
    temperature := prometheus.MustNewConstMetric(descTemperature, prometheus.GaugeValue, temp, c.name)
    ch <- prometheus.NewMetricWithTimestamp(reading.ReceivedAt, temperature)
  }
}

func RegisterCollector(src Source, name string, reg prometheus.Registerer) {
  reg.MustRegister(&collector{src: src, name: name})
}
