package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/spinsense/internal/serialmux"
	"github.com/banshee-data/spinsense/internal/spin"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/spinsense.defaults.json"

const (
	DefaultSerialPort        = "/dev/ttyACM0"
	DefaultSyntheticInterval = 10 * time.Millisecond
)

// SpinConfig is the startup configuration for the spin service. The
// detector fields share their JSON names with the /api/config endpoint so
// the same document can be used for both.
type SpinConfig struct {
	// Detector params
	Threshold   *float64 `json:"threshold,omitempty"`   // deg/s
	StartDelay  *string  `json:"start_delay,omitempty"` // duration string like "150ms"
	StopDelay   *string  `json:"stop_delay,omitempty"`  // duration string like "250ms"
	StatsWindow *int     `json:"stats_window,omitempty"`

	// Serial params
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// Dev mode
	SyntheticInterval *string `json:"synthetic_interval,omitempty"`
}

// EmptySpinConfig returns a SpinConfig with all fields unset so every
// getter yields its default.
func EmptySpinConfig() *SpinConfig {
	return &SpinConfig{}
}

// LoadSpinConfig loads a SpinConfig from a JSON file. The file must have a
// .json extension and be at most 1MB. Omitted fields keep their defaults.
func LoadSpinConfig(path string) (*SpinConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySpinConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// current directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *SpinConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSpinConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func parseNonNegativeDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, d)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *SpinConfig) Validate() error {
	if c.Threshold != nil {
		if math.IsNaN(*c.Threshold) || math.IsInf(*c.Threshold, 0) || *c.Threshold < 0 {
			return fmt.Errorf("threshold must be a non-negative number, got %v", *c.Threshold)
		}
	}
	if err := parseNonNegativeDuration("start_delay", c.StartDelay); err != nil {
		return err
	}
	if err := parseNonNegativeDuration("stop_delay", c.StopDelay); err != nil {
		return err
	}
	if c.StatsWindow != nil && (*c.StatsWindow <= 0 || *c.StatsWindow > spin.MaxStatsWindow) {
		return fmt.Errorf("stats_window must be between 1 and %d, got %d", spin.MaxStatsWindow, *c.StatsWindow)
	}
	if c.BaudRate != nil {
		if _, err := (serialmux.PortOptions{BaudRate: *c.BaudRate}).Normalize(); err != nil || *c.BaudRate <= 0 {
			return fmt.Errorf("invalid baud_rate %d", *c.BaudRate)
		}
	}
	if c.SyntheticInterval != nil && *c.SyntheticInterval != "" {
		d, err := time.ParseDuration(*c.SyntheticInterval)
		if err != nil {
			return fmt.Errorf("invalid synthetic_interval '%s': %w", *c.SyntheticInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("synthetic_interval must be positive, got %s", d)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetThreshold returns the threshold value or the default.
func (c *SpinConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return spin.DefaultThreshold
	}
	return *c.Threshold
}

// GetStartDelay parses and returns StartDelay as a time.Duration.
func (c *SpinConfig) GetStartDelay() time.Duration {
	return durationOr(c.StartDelay, spin.DefaultStartDelay)
}

// GetStopDelay parses and returns StopDelay as a time.Duration.
func (c *SpinConfig) GetStopDelay() time.Duration {
	return durationOr(c.StopDelay, spin.DefaultStopDelay)
}

// GetStatsWindow returns the stats_window value or the default.
func (c *SpinConfig) GetStatsWindow() int {
	if c.StatsWindow == nil {
		return spin.DefaultStatsWindow
	}
	return *c.StatsWindow
}

// GetSerialPort returns the serial_port value or the default.
func (c *SpinConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *SpinConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetSyntheticInterval returns the dev-mode sample interval or the default.
func (c *SpinConfig) GetSyntheticInterval() time.Duration {
	return durationOr(c.SyntheticInterval, DefaultSyntheticInterval)
}

// DetectorConfig returns the resolved detector parameters.
func (c *SpinConfig) DetectorConfig() spin.Config {
	return spin.Config{
		Threshold:  c.GetThreshold(),
		StartDelay: c.GetStartDelay(),
		StopDelay:  c.GetStopDelay(),
	}
}

// DetectorOptions converts the configuration into spin.Options.
func (c *SpinConfig) DetectorOptions() spin.Options {
	opts := spin.OptionsFromConfig(c.DetectorConfig())
	opts.StatsWindow = c.GetStatsWindow()
	return opts
}

// PortOptions returns the serial options for the configured baud rate.
func (c *SpinConfig) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.GetBaudRate()}
}
