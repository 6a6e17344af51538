package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robertof/go-ble-thermo/ble"
	"github.com/robertof/go-ble-thermo/device"
	"github.com/robertof/go-ble-thermo/session"
	"gopkg.in/yaml.v3"
)

const (
	BackendHCI   = "hci"
	BackendBlueZ = "bluez"
)

// Config holds all application configuration.
type Config struct {
	Device          DeviceConfig            `yaml:"device"`
	GATT            GATTConfig              `yaml:"gatt"`
	Scan            ScanConfig              `yaml:"scan"`
	Bluetooth       BluetoothConfig         `yaml:"bluetooth"`
	PermissionModel session.PermissionModel `yaml:"permission_model"`
	Metrics         MetricsConfig           `yaml:"metrics"`
	LogLevel        string                  `yaml:"log_level"`
}

// DeviceConfig identifies the peripheral. Address is optional and only narrows scanning.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// GATTConfig holds the UUIDs of the temperature service.
type GATTConfig struct {
	Service        string `yaml:"service"`
	Characteristic string `yaml:"characteristic"`
	Descriptor     string `yaml:"descriptor"`
}

type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Active  bool          `yaml:"active"`
}

type BluetoothConfig struct {
	Backend        string         `yaml:"backend"` // "hci" or "bluez"
	DeviceID       int            `yaml:"device_id"`
	ConnParams     ble.ConnParams `yaml:"conn_params"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "go-ble-thermo")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config matching the reference ESP32 firmware.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "ESP32-Thermo",
		},
		GATT: GATTConfig{
			Service:        "12345678-1234-1234-1234-1234567890ab",
			Characteristic: "abcd1234-ab12-cd34-ef56-abcdef123456",
			Descriptor:     "2902",
		},
		Scan: ScanConfig{
			Timeout: session.DefaultScanTimeout,
			Active:  true,
		},
		Bluetooth: BluetoothConfig{
			Backend:        BackendHCI,
			DeviceID:       0,
			ConnParams:     ble.ConnParamsDefault,
			ConnectTimeout: ble.DefaultConnectTimeout,
		},
		PermissionModel: session.PermissionModelModern,
		LogLevel:        "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(expandTilde(path))

	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := c.SessionConfig(); err != nil {
		return err
	}

	switch c.Bluetooth.Backend {
	case BackendHCI, BackendBlueZ:
	default:
		return fmt.Errorf("bluetooth.backend must be %q or %q, got %q", BackendHCI, BackendBlueZ, c.Bluetooth.Backend)
	}

	if c.Bluetooth.DeviceID < 0 {
		return fmt.Errorf("bluetooth.device_id must be >= 0")
	}

	if c.Bluetooth.ConnectTimeout <= 0 {
		return fmt.Errorf("bluetooth.connect_timeout must be > 0")
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be trace, debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SessionConfig converts the file representation into what a session needs.
func (c *Config) SessionConfig() (session.Config, error) {
	target, err := device.TargetFromSpec(device.DeviceSpec{
		device.DeviceSpecFieldName:    c.Device.Name,
		device.DeviceSpecFieldAddress: c.Device.Address,
	})
	if err != nil {
		return session.Config{}, fmt.Errorf("device: %w", err)
	}

	var sd device.ServiceDescriptor

	for _, f := range []struct {
		key string
		in  string
		out *device.UUID
	}{
		{"gatt.service", c.GATT.Service, &sd.Service},
		{"gatt.characteristic", c.GATT.Characteristic, &sd.Characteristic},
		{"gatt.descriptor", c.GATT.Descriptor, &sd.NotifyDescriptor},
	} {
		u, err := device.ParseUUID(f.in)
		if err != nil {
			return session.Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.out = u
	}

	if c.Scan.Timeout <= 0 {
		return session.Config{}, fmt.Errorf("scan.timeout must be > 0")
	}

	cfg := session.Config{
		Target:          target,
		Descriptor:      sd,
		ScanTimeout:     c.Scan.Timeout,
		PermissionModel: c.PermissionModel,
	}

	if err := cfg.Validate(); err != nil {
		return session.Config{}, err
	}

	return cfg, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
