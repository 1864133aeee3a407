// Package spin turns a noisy stream of 3-axis angular-rate samples into a
// single debounced "is spinning" state.
//
// A Detector compares the largest absolute axis rate of each sample against
// a threshold. The state only flips to spinning after the rate has stayed
// above the threshold for StartDelay, and only flips back after it has stayed
// at or below the threshold for StopDelay. Taking the maximum over the axes
// makes detection independent of how the device is held.
package spin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/spinsense/internal/timeutil"
)

// Defaults applied to unset Options fields.
const (
	DefaultThreshold   = 50.0 // deg/s
	DefaultStartDelay  = 150 * time.Millisecond
	DefaultStopDelay   = 250 * time.Millisecond
	DefaultStatsWindow = 256
)

// Upper bounds on configurable values.
const (
	// MaxStatsWindow bounds the rate history kept for RateStats.
	MaxStatsWindow = 65536
	// MaxDelayMs is the largest millisecond delay that fits a time.Duration.
	MaxDelayMs = math.MaxInt64 / int64(time.Millisecond)
)

var (
	// ErrInvalidConfig is returned by New for negative or non-finite settings.
	ErrInvalidConfig = errors.New("invalid detector config")
	// ErrSubscribe wraps failures to subscribe to the sample source.
	ErrSubscribe = errors.New("subscribe to sample source")
	// ErrCancel wraps failures to cancel a source subscription.
	ErrCancel = errors.New("cancel sample subscription")
)

// Sample is a single angular-rate reading in degrees per second.
type Sample struct {
	Time    time.Time
	X, Y, Z float64
}

// Rate returns the largest absolute rate across the three axes.
func (s Sample) Rate() float64 {
	return math.Max(math.Abs(s.X), math.Max(math.Abs(s.Y), math.Abs(s.Z)))
}

// Valid reports whether all three axes are finite numbers.
func (s Sample) Valid() bool {
	for _, v := range [3]float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Source delivers angular-rate samples to a callback until the returned
// Handle is cancelled. Subscribe may block while the source negotiates
// access to the underlying device. Samples for one subscription are
// delivered serially.
type Source interface {
	Subscribe(ctx context.Context, fn func(Sample)) (Handle, error)
}

// Handle is an active Source subscription.
type Handle interface {
	// Cancel stops delivery. Once it returns, the subscription callback is
	// not invoked again.
	Cancel(ctx context.Context) error
}

// Config holds the resolved detector parameters. It is fixed for the
// lifetime of a Detector.
type Config struct {
	Threshold  float64       `json:"threshold"`
	StartDelay time.Duration `json:"start_delay"`
	StopDelay  time.Duration `json:"stop_delay"`
}

// DefaultConfig returns the stock detector parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		StartDelay: DefaultStartDelay,
		StopDelay:  DefaultStopDelay,
	}
}

// Validate checks that all parameters are finite and non-negative. Zero
// delays are allowed and make the state follow the threshold instantly.
func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return fmt.Errorf("%w: threshold must be finite, got %v", ErrInvalidConfig, c.Threshold)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be non-negative, got %v", ErrInvalidConfig, c.Threshold)
	}
	if c.StartDelay < 0 {
		return fmt.Errorf("%w: start delay must be non-negative, got %v", ErrInvalidConfig, c.StartDelay)
	}
	if c.StopDelay < 0 {
		return fmt.Errorf("%w: stop delay must be non-negative, got %v", ErrInvalidConfig, c.StopDelay)
	}
	return nil
}

// ValidateStatsWindow checks a rate history size. Zero and negative sizes
// are rejected here; New maps them to DefaultStatsWindow before checking.
func ValidateStatsWindow(n int) error {
	if n <= 0 || n > MaxStatsWindow {
		return fmt.Errorf("%w: stats window must be between 1 and %d, got %d", ErrInvalidConfig, MaxStatsWindow, n)
	}
	return nil
}

// DelayFromMillis converts a millisecond delay to a Duration. Values that
// are negative or would overflow a Duration are rejected.
func DelayFromMillis(ms int64) (time.Duration, error) {
	if ms < 0 || ms > MaxDelayMs {
		return 0, fmt.Errorf("%w: delay must be between 0 and %d ms, got %d", ErrInvalidConfig, MaxDelayMs, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Options configures New. Nil fields take the package defaults.
type Options struct {
	Threshold  *float64
	StartDelay *time.Duration
	StopDelay  *time.Duration

	// Clock stamps sample deliveries. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// StatsWindow is the number of recent rates kept for RateStats.
	StatsWindow int
}

// Config resolves the options against the defaults.
func (o Options) Config() Config {
	c := DefaultConfig()
	if o.Threshold != nil {
		c.Threshold = *o.Threshold
	}
	if o.StartDelay != nil {
		c.StartDelay = *o.StartDelay
	}
	if o.StopDelay != nil {
		c.StopDelay = *o.StopDelay
	}
	return c
}

// OptionsFromConfig returns Options that resolve to c.
func OptionsFromConfig(c Config) Options {
	return Options{
		Threshold:  &c.Threshold,
		StartDelay: &c.StartDelay,
		StopDelay:  &c.StopDelay,
	}
}

// State is the published view of a detector.
type State struct {
	Spinning bool    `json:"spinning"`
	Rate     float64 `json:"rate"`
}

// Transition is broadcast to watchers whenever the spinning state flips.
type Transition struct {
	Spinning bool      `json:"spinning"`
	Rate     float64   `json:"rate"`
	At       time.Time `json:"at"`
}
