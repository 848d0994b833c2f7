// Package config defines the controlpi configuration file.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/transport/i2cbus"
	"go.viam.com/controlpi/transport/serialbus"
)

// The transports a config can select.
const (
	TransportI2C    = "i2c"
	TransportSerial = "serial"
	TransportFake   = "fake"
)

// Transports lists every supported transport.
var Transports = []string{TransportI2C, TransportSerial, TransportFake}

// EnvConfigDir overrides the directory the default config file is read from.
const EnvConfigDir = "CONTROLPI_CONFIG_DIR"

// maxAddress is the highest 7-bit bus address.
const maxAddress = 0x7F

// Config describes how to reach the motor controller and how to log.
type Config struct {
	Transport      string `json:"transport"`
	I2CBus         int    `json:"i2c_bus"`
	Address        int    `json:"address"`
	SerialPath     string `json:"serial_path,omitempty"`
	SerialBaudRate int    `json:"serial_baud_rate"`
	InitialActive  bool   `json:"initial_active"`
	SettleDelay    string `json:"settle_delay"`
	PacingDelay    string `json:"pacing_delay"`
	LogFile        string `json:"log_file,omitempty"`
	Debug          bool   `json:"debug"`
}

// Default returns the configuration of the reference build: an I2C controller at 0x08 on bus 3.
func Default() *Config {
	return &Config{
		Transport:      TransportI2C,
		I2CBus:         i2cbus.DefaultBusID,
		Address:        controller.DefaultAddress,
		SerialBaudRate: serialbus.DefaultBaudRate,
		SettleDelay:    controller.DefaultSettleDelay.String(),
		PacingDelay:    controller.DefaultPacingDelay.String(),
	}
}

// Dir returns the config directory.
// Resolution order: $CONTROLPI_CONFIG_DIR > $XDG_CONFIG_HOME/controlpi > ~/.config/controlpi.
func Dir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "controlpi")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "controlpi-config")
	}
	return filepath.Join(home, ".config", "controlpi")
}

// DefaultPath returns the path of the config file read when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// Read reads and validates the config at path. An empty path reads DefaultPath, and a missing
// file there yields Default. Fields missing from the file keep their default values.
func Read(path string) (*Config, error) {
	usingDefault := path == ""
	if usingDefault {
		path = DefaultPath()
	}
	conf := Default()

	//nolint:gosec
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrapf(err, "cannot parse config %q", path)
		}
	case usingDefault && os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}

	if err := conf.Validate("config"); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Transport == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "transport")
	}
	if !lo.Contains(Transports, conf.Transport) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown transport %q, acceptable values are %v", conf.Transport, Transports))
	}
	if conf.Address < 0 || conf.Address > maxAddress {
		return utils.NewConfigValidationError(path,
			errors.Errorf("address 0x%02X does not fit in 7 bits", conf.Address))
	}
	switch conf.Transport {
	case TransportI2C:
		if conf.I2CBus < 0 {
			return utils.NewConfigValidationError(path, errors.Errorf("invalid i2c_bus %d", conf.I2CBus))
		}
	case TransportSerial:
		if conf.SerialPath == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "serial_path")
		}
		if !lo.Contains(serialbus.ValidBaudRates, conf.SerialBaudRate) {
			return utils.NewConfigValidationError(path,
				errors.Errorf("invalid serial_baud_rate %d, acceptable values are %v", conf.SerialBaudRate, serialbus.ValidBaudRates))
		}
	}
	if _, err := parseDelay("settle_delay", conf.SettleDelay); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if _, err := parseDelay("pacing_delay", conf.PacingDelay); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// parseDelay parses a non-negative duration. Empty means zero, which the client treats as its
// default.
func parseDelay(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", field)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative, got %v", field, d)
	}
	return d, nil
}

// ControllerConfig returns the client configuration. The config must have been validated.
func (conf *Config) ControllerConfig() controller.Config {
	settle, _ := parseDelay("settle_delay", conf.SettleDelay)
	pacing, _ := parseDelay("pacing_delay", conf.PacingDelay)
	return controller.Config{
		Address:       byte(conf.Address),
		InitialActive: conf.InitialActive,
		SettleDelay:   settle,
		PacingDelay:   pacing,
	}
}

// Write saves the config to path as indented JSON, creating the directory if needed.
func (conf *Config) Write(path string) error {
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
