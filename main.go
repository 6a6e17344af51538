package main

import (
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/robertof/go-ble-thermo/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
  zerolog.DurationFieldUnit = time.Second
  zerolog.TimeFieldFormat = time.RFC3339Nano

  var cli CLI

  ctx := kong.Parse(
    &cli,
    kong.Name("go-ble-thermo"),
    kong.Description("Connects to a BLE thermometer and streams its temperature notifications."),
    kong.UsageOnError(),
    kong.Vars{
      "config_path": config.DefaultConfigPath(),
    },
  )

  err := ctx.Run(&cli.Globals)
  ctx.FatalIfErrorf(err)
}

// setupLogging points the global logger at out and picks the level from the flags, the
// environment and finally the config file.
func setupLogging(g *Globals, out io.Writer, cfgLevel string) {
  log.Logger = log.Output(zerolog.ConsoleWriter{
    Out: out,
    TimeFormat: "15:04:05.000",
    NoColor: out != os.Stderr,
  })

  switch {
  case g.Trace || os.Getenv("TRACE") != "":
    zerolog.SetGlobalLevel(zerolog.TraceLevel)
  case g.Debug || os.Getenv("DEBUG") != "":
    zerolog.SetGlobalLevel(zerolog.DebugLevel)
  default:
    level, err := zerolog.ParseLevel(cfgLevel)

    if err != nil || level == zerolog.NoLevel {
      level = zerolog.InfoLevel
    }

    zerolog.SetGlobalLevel(level)
  }
}
