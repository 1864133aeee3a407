package gyro

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/spinsense/internal/monitoring"
	"github.com/banshee-data/spinsense/internal/serialmux"
	"github.com/banshee-data/spinsense/internal/spin"
)

// SerialSource is a spin.Source fed by an IMU behind a serial mux.
type SerialSource struct {
	mux serialmux.SerialMuxInterface

	initMu      sync.Mutex
	initialized bool

	status   serialmux.DeviceStatus
	unparsed atomic.Uint64
}

// NewSerialSource returns a source reading gyro lines from mux. The caller
// owns mux and is responsible for running its Monitor loop.
func NewSerialSource(mux serialmux.SerialMuxInterface) *SerialSource {
	return &SerialSource{mux: mux}
}

// Subscribe starts delivering samples to fn. The first successful call
// puts the device into streaming mode; if that handshake fails the error is
// returned and the next call tries again.
func (s *SerialSource) Subscribe(ctx context.Context, fn func(spin.Sample)) (spin.Handle, error) {
	if fn == nil {
		return nil, errors.New("gyro: nil sample callback")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.initialize(); err != nil {
		return nil, err
	}

	id, lines := s.mux.Subscribe()
	h := &serialHandle{
		mux:  s.mux,
		id:   id,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.run(lines, func(line string) { s.handleLine(line, fn) })
	return h, nil
}

func (s *SerialSource) initialize() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.mux.Initialize(); err != nil {
		return fmt.Errorf("initialize IMU: %w", err)
	}
	s.initialized = true
	monitoring.Logf("gyro: IMU streaming initialized")
	return nil
}

func (s *SerialSource) handleLine(line string, fn func(spin.Sample)) {
	sample, err := Parse(line)
	switch {
	case err == nil:
		fn(sample)
	case errors.Is(err, ErrNonFinite):
		// The detector counts and drops these.
		fn(sample)
	case serialmux.ClassifyPayload(line) == serialmux.EventTypeStatus:
		if err := s.status.HandleStatusLine(line); err != nil {
			s.unparsed.Add(1)
		}
	default:
		if s.unparsed.Add(1)%100 == 1 {
			monitoring.Logf("gyro: ignoring unparsable line %q: %v", line, err)
		}
	}
}

// Status returns the latest status values reported by the device.
func (s *SerialSource) Status() map[string]any {
	return s.status.Snapshot()
}

// Unparsed returns how many lines were neither samples nor status lines.
func (s *SerialSource) Unparsed() uint64 {
	return s.unparsed.Load()
}

type serialHandle struct {
	mux  serialmux.SerialMuxInterface
	id   string
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (h *serialHandle) run(lines <-chan string, handle func(string)) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			// Cancel may have raced with the receive.
			select {
			case <-h.stop:
				return
			default:
			}
			handle(line)
		}
	}
}

// Cancel detaches from the mux and waits for the delivery goroutine to
// finish its current line.
func (h *serialHandle) Cancel(ctx context.Context) error {
	h.once.Do(func() {
		close(h.stop)
		h.mux.Unsubscribe(h.id)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gyro: waiting for delivery to stop: %w", ctx.Err())
	}
}
