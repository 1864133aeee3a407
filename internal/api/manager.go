package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/spinsense/internal/monitoring"
	"github.com/banshee-data/spinsense/internal/spin"
	"github.com/banshee-data/spinsense/internal/timeutil"
)

var errManagerClosed = errors.New("detector manager closed")

// Manager owns the live detector. A detector's parameters are fixed for its
// lifetime, so changing them replaces the detector.
type Manager struct {
	src   spin.Source
	clock timeutil.Clock

	// lifecycleMu serialises Start, Stop, Reconfigure and Close.
	lifecycleMu sync.Mutex

	mu     sync.RWMutex
	det    *spin.Detector
	window int
	closed bool
}

// NewManager builds the initial detector from opts.
func NewManager(src spin.Source, opts spin.Options) (*Manager, error) {
	det, err := spin.New(src, opts)
	if err != nil {
		return nil, err
	}
	window := opts.StatsWindow
	if window <= 0 {
		window = spin.DefaultStatsWindow
	}
	return &Manager{
		src:    src,
		clock:  opts.Clock,
		det:    det,
		window: window,
	}, nil
}

// Detector returns the current detector. The returned detector may be
// replaced by Reconfigure, which closes its watcher channels.
func (m *Manager) Detector() *spin.Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.det
}

// Config returns the current detector parameters and stats window size.
func (m *Manager) Config() (spin.Config, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.det.Config(), m.window
}

// Start starts the current detector.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.isClosed() {
		return errManagerClosed
	}
	return m.Detector().Start(ctx)
}

// Stop stops the current detector.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.Detector().Stop(ctx)
}

// Reconfigure replaces the detector with one using cfg. The new detector is
// started when the old one was running. On a validation error the current
// detector is left untouched.
func (m *Manager) Reconfigure(ctx context.Context, cfg spin.Config, statsWindow int) error {
	next, window, err := m.build(cfg, statsWindow)
	if err != nil {
		return err
	}
	return m.replace(ctx, next, window)
}

// build creates a detector for cfg without publishing it, so callers can
// persist a config only once it is known to be usable.
func (m *Manager) build(cfg spin.Config, statsWindow int) (*spin.Detector, int, error) {
	if statsWindow <= 0 {
		statsWindow = spin.DefaultStatsWindow
	}
	opts := spin.OptionsFromConfig(cfg)
	opts.Clock = m.clock
	opts.StatsWindow = statsWindow

	next, err := spin.New(m.src, opts)
	if err != nil {
		return nil, 0, err
	}
	return next, statsWindow, nil
}

// replace publishes next as the current detector and closes the old one.
func (m *Manager) replace(ctx context.Context, next *spin.Detector, statsWindow int) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.isClosed() {
		return errManagerClosed
	}

	// Publish the replacement before closing the old detector so watchers
	// that see their channel close pick up the new one.
	m.mu.Lock()
	prev := m.det
	m.det = next
	m.window = statsWindow
	m.mu.Unlock()

	wasRunning := prev.Running()
	if err := prev.Close(ctx); err != nil {
		monitoring.Logf("spin: closing replaced detector: %v", err)
	}
	if wasRunning {
		if err := next.Start(ctx); err != nil {
			return fmt.Errorf("restart detector: %w", err)
		}
	}
	cfg := next.Config()
	monitoring.Logf("spin: detector reconfigured (threshold=%.1f start=%v stop=%v window=%d)",
		cfg.Threshold, cfg.StartDelay, cfg.StopDelay, statsWindow)
	return nil
}

// Watch registers a watcher on the current detector. If Reconfigure
// replaces the detector while registering, the watcher moves to the
// replacement, so the returned channel only closes once the returned
// detector is replaced or closed.
func (m *Manager) Watch() (*spin.Detector, string, <-chan spin.Transition) {
	for {
		det := m.Detector()
		id, ch := det.Watch()
		if m.Detector() == det {
			return det, id, ch
		}
		det.Unwatch(id)
	}
}

// Close closes the current detector. Later Start and Reconfigure calls fail.
func (m *Manager) Close(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	m.mu.Lock()
	m.closed = true
	det := m.det
	m.mu.Unlock()

	return det.Close(ctx)
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
