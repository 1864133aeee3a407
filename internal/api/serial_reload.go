package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spinsense/internal/db"
	"github.com/banshee-data/spinsense/internal/monitoring"
	"github.com/banshee-data/spinsense/internal/serialmux"
)

// reattachInterval is how often the fanout loop and Monitor look for a mux
// while none is attached.
const reattachInterval = 250 * time.Millisecond

var errSerialClosed = errors.New("serial manager is closed")

// SerialMuxFactory opens a mux for an IMU on path. It is injected so the
// manager can be tested and so dev mode can supply a mock.
type SerialMuxFactory func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

// SerialConfigSnapshot describes the port configuration currently in use.
type SerialConfigSnapshot struct {
	ConfigID int                   `json:"config_id,omitempty"`
	Name     string                `json:"name,omitempty"`
	PortPath string                `json:"port_path"`
	Source   string                `json:"source"`
	Options  serialmux.PortOptions `json:"options"`
}

// SerialReloadResult is returned to API clients when a reload request is
// processed.
type SerialReloadResult struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Config  *SerialConfigSnapshot `json:"config,omitempty"`
}

// SerialPortManager implements serialmux.SerialMuxInterface over a mux that
// can be swapped for a different port at runtime. Subscriber channels belong
// to the manager and survive swaps, so a gyro source built on the manager
// keeps delivering after ReloadConfig.
type SerialPortManager struct {
	mu       sync.RWMutex
	current  serialmux.SerialMuxInterface
	snapshot *SerialConfigSnapshot
	closed   bool

	db      *db.DB
	factory SerialMuxFactory

	reloadMu sync.Mutex

	done chan struct{}

	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
}

// NewSerialPortManager wraps initial, which was opened with snapshot, and
// starts forwarding its lines to manager subscribers until Close.
func NewSerialPortManager(database *db.DB, initial serialmux.SerialMuxInterface, snapshot SerialConfigSnapshot, factory SerialMuxFactory) *SerialPortManager {
	m := &SerialPortManager{
		current:     initial,
		db:          database,
		factory:     factory,
		done:        make(chan struct{}),
		subscribers: make(map[string]chan string),
	}
	if snapshot.PortPath != "" {
		snap := snapshot
		m.snapshot = &snap
	}
	go m.runEventFanout()
	return m
}

// CurrentMux returns the mux in use, or nil while a reload is in progress.
func (m *SerialPortManager) CurrentMux() serialmux.SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active configuration snapshot.
func (m *SerialPortManager) Snapshot() SerialConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return SerialConfigSnapshot{}
	}
	return *m.snapshot
}

// runEventFanout subscribes to whichever mux is current and copies its
// lines to every manager subscriber. A closed mux subscription means the mux
// was swapped or closed, so the loop subscribes again.
func (m *SerialPortManager) runEventFanout() {
	var subID string
	var subCh chan string
	var subMux serialmux.SerialMuxInterface

	defer func() {
		if subMux != nil {
			subMux.Unsubscribe(subID)
		}
		m.fanoutMu.Lock()
		for id, ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, id)
		}
		m.fanoutMu.Unlock()
		monitoring.Logf("Event fanout loop terminated")
	}()

	for {
		if subMux == nil {
			mux := m.CurrentMux()
			if mux == nil {
				select {
				case <-m.done:
					return
				case <-time.After(reattachInterval):
					continue
				}
			}
			subMux = mux
			subID, subCh = mux.Subscribe()
		}

		select {
		case <-m.done:
			return
		case payload, ok := <-subCh:
			if !ok {
				subMux, subID, subCh = nil, "", nil
				continue
			}
			m.fanoutMu.RLock()
			for _, ch := range m.subscribers {
				select {
				case ch <- payload:
				default:
				}
			}
			m.fanoutMu.RUnlock()
		}
	}
}

// Subscribe returns a channel that keeps receiving lines across reloads.
// After Close it returns a closed channel.
func (m *SerialPortManager) Subscribe() (string, chan string) {
	ch := make(chan string, serialmux.SubscriberBuffer)

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		close(ch)
		return "", ch
	}

	id := uuid.NewString()
	m.fanoutMu.Lock()
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (m *SerialPortManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *SerialPortManager) active() (serialmux.SerialMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errSerialClosed
	}
	if m.current == nil {
		return nil, errors.New("serial mux unavailable")
	}
	return m.current, nil
}

// SendCommand delegates to the current mux.
func (m *SerialPortManager) SendCommand(command string) error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.SendCommand(command)
}

// Initialize delegates to the current mux.
func (m *SerialPortManager) Initialize() error {
	mux, err := m.active()
	if err != nil {
		return err
	}
	return mux.Initialize()
}

// Monitor runs Monitor on the current mux and moves on to the replacement
// when a reload closes it. It returns when ctx is done.
func (m *SerialPortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux != nil {
			err := mux.Monitor(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				monitoring.Logf("serial monitor terminated with error: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reattachInterval):
		}
	}
}

// Close closes the current mux and all subscriber channels. Later calls to
// SendCommand and Initialize fail.
func (m *SerialPortManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	current := m.current
	m.current = nil
	m.mu.Unlock()

	close(m.done)
	if current != nil {
		return current.Close()
	}
	return nil
}

// AttachAdminRoutes registers the serial debug routes against the manager.
func (m *SerialPortManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesForMux(mux, m)
}

// ReloadConfig switches to the first enabled serial config stored in the
// database. The old port is closed before the new one is opened since both
// may name the same device.
func (m *SerialPortManager) ReloadConfig(ctx context.Context) (*SerialReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("serial mux factory not configured")
	}
	if m.db == nil {
		return nil, errors.New("database not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	configs, err := m.db.GetEnabledSerialConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load serial configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no enabled serial configurations found")
	}

	cfg := configs[0]
	opts, err := cfg.PortOptions().Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}
	snap := SerialConfigSnapshot{
		ConfigID: cfg.ID,
		Name:     cfg.Name,
		PortPath: cfg.PortPath,
		Source:   "database",
		Options:  opts,
	}

	current := m.Snapshot()
	if current.PortPath == cfg.PortPath && current.Options.Equal(opts) && m.CurrentMux() != nil {
		return &SerialReloadResult{
			Success: true,
			Message: fmt.Sprintf("Serial configuration %q already active", cfg.Name),
			Config:  &snap,
		}, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errSerialClosed
	}
	old := m.current
	m.current = nil
	m.mu.Unlock()

	if old != nil {
		monitoring.Logf("Closing serial port %s before reload", current.PortPath)
		if err := old.Close(); err != nil {
			monitoring.Logf("warning: failed to close previous serial mux: %v", err)
		}
	}

	next, err := m.factory(cfg.PortPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.PortPath, err)
	}
	if err := next.Initialize(); err != nil {
		next.Close()
		return nil, fmt.Errorf("failed to initialize IMU: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		next.Close()
		return nil, errSerialClosed
	}
	m.current = next
	m.snapshot = &snap
	m.mu.Unlock()

	monitoring.Logf("Reloaded serial configuration %q on %s", cfg.Name, cfg.PortPath)
	return &SerialReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded serial configuration %q", cfg.Name),
		Config:  &snap,
	}, nil
}
