package spin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spinsense/internal/monitoring"
	"github.com/banshee-data/spinsense/internal/timeutil"
)

// watchBuffer is the per-watcher channel capacity. Transitions are rare so a
// small buffer absorbs bursts without blocking delivery.
const watchBuffer = 16

// Detector runs the spin hysteresis over samples from a Source.
type Detector struct {
	cfg   Config
	src   Source
	clock timeutil.Clock

	// lifecycleMu serialises Start and Stop.
	lifecycleMu sync.Mutex
	handle      Handle

	mu         sync.Mutex
	generation uint64
	spinning   bool
	rate       float64
	aboveSince *time.Time
	belowSince *time.Time
	rates      *rateWindow
	dropped    uint64

	watchMu  sync.Mutex
	watchers map[string]chan Transition
}

// New creates a detector reading from src. src may be nil when samples are
// fed through OnSample directly; Start then fails.
func New(src Source, opts Options) (*Detector, error) {
	cfg := opts.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	window := opts.StatsWindow
	if window <= 0 {
		window = DefaultStatsWindow
	}
	if err := ValidateStatsWindow(window); err != nil {
		return nil, err
	}

	return &Detector{
		cfg:      cfg,
		src:      src,
		clock:    clock,
		rates:    newRateWindow(window),
		watchers: make(map[string]chan Transition),
	}, nil
}

// Config returns the detector parameters.
func (d *Detector) Config() Config {
	return d.cfg
}

// Start subscribes to the source. It is a no-op when already subscribed.
// On failure nothing is retained and Start may be called again.
func (d *Detector) Start(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.handle != nil {
		return nil
	}
	if d.src == nil {
		return fmt.Errorf("%w: no source configured", ErrSubscribe)
	}

	d.mu.Lock()
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	h, err := d.src.Subscribe(ctx, func(s Sample) { d.deliver(gen, s) })
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	if h == nil {
		return fmt.Errorf("%w: source returned no handle", ErrSubscribe)
	}
	d.handle = h
	monitoring.Logf("spin: detector started (threshold=%.1f start=%v stop=%v)",
		d.cfg.Threshold, d.cfg.StartDelay, d.cfg.StopDelay)
	return nil
}

// Stop cancels the subscription and resets the detector to its initial
// state. The reset happens even when cancellation fails, in which case the
// cancellation error is returned. Stop is safe to call when not started.
func (d *Detector) Stop(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	// Fence off the current subscription before cancelling it so a sample
	// already in flight cannot land after the reset below.
	d.mu.Lock()
	d.generation++
	d.mu.Unlock()

	var cancelErr error
	if d.handle != nil {
		if err := d.handle.Cancel(ctx); err != nil {
			cancelErr = fmt.Errorf("%w: %w", ErrCancel, err)
		}
		d.handle = nil
	}

	d.mu.Lock()
	wasSpinning := d.spinning
	d.spinning = false
	d.rate = 0
	d.aboveSince = nil
	d.belowSince = nil
	d.rates.reset()
	d.mu.Unlock()

	if wasSpinning {
		d.broadcast(Transition{Spinning: false, At: d.clock.Now()})
	}
	if cancelErr != nil {
		monitoring.Logf("spin: detector stopped with error: %v", cancelErr)
	}
	return cancelErr
}

// Running reports whether the detector holds an active subscription.
func (d *Detector) Running() bool {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	return d.handle != nil
}

// deliver is the subscription callback. Samples from a cancelled
// subscription and samples with non-finite axes are dropped here.
func (d *Detector) deliver(gen uint64, s Sample) {
	now := d.clock.Now()

	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return
	}
	if !s.Valid() {
		d.dropped++
		d.mu.Unlock()
		monitoring.Logf("spin: dropping non-finite sample %+v", s)
		return
	}
	t, changed := d.step(s, now)
	d.mu.Unlock()

	if changed {
		d.broadcast(t)
	}
}

// OnSample runs one step of the hysteresis for s observed at now.
func (d *Detector) OnSample(s Sample, now time.Time) {
	d.mu.Lock()
	t, changed := d.step(s, now)
	d.mu.Unlock()

	if changed {
		d.broadcast(t)
	}
}

// step must be called with d.mu held.
func (d *Detector) step(s Sample, now time.Time) (Transition, bool) {
	rate := s.Rate()
	d.rate = rate
	d.rates.push(rate)

	if rate > d.cfg.Threshold {
		d.belowSince = nil
		if d.aboveSince == nil {
			d.aboveSince = &now
		}
		if !d.spinning && now.Sub(*d.aboveSince) >= d.cfg.StartDelay {
			d.spinning = true
			return Transition{Spinning: true, Rate: rate, At: now}, true
		}
		return Transition{}, false
	}

	d.aboveSince = nil
	if d.belowSince == nil {
		d.belowSince = &now
	}
	if d.spinning && now.Sub(*d.belowSince) >= d.cfg.StopDelay {
		d.spinning = false
		return Transition{Spinning: false, Rate: rate, At: now}, true
	}
	return Transition{}, false
}

// State returns the published spinning flag and latest rate.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{Spinning: d.spinning, Rate: d.rate}
}

// IsSpinning reports the debounced spinning state.
func (d *Detector) IsSpinning() bool {
	return d.State().Spinning
}

// CurrentRate returns the rate of the most recent sample, or 0 after Stop.
func (d *Detector) CurrentRate() float64 {
	return d.State().Rate
}

// Dropped returns the number of samples discarded for non-finite axes.
func (d *Detector) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Watch registers a channel receiving every state transition. The channel
// is closed by Unwatch. Slow watchers miss transitions rather than stall
// sample delivery.
func (d *Detector) Watch() (string, <-chan Transition) {
	id := uuid.NewString()
	ch := make(chan Transition, watchBuffer)

	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	d.watchers[id] = ch
	return id, ch
}

// Unwatch removes and closes a watcher channel.
func (d *Detector) Unwatch(id string) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	if ch, ok := d.watchers[id]; ok {
		close(ch)
		delete(d.watchers, id)
	}
}

// Close stops the detector and closes all watcher channels.
func (d *Detector) Close(ctx context.Context) error {
	err := d.Stop(ctx)

	d.watchMu.Lock()
	for id, ch := range d.watchers {
		close(ch)
		delete(d.watchers, id)
	}
	d.watchMu.Unlock()

	return err
}

func (d *Detector) broadcast(t Transition) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	for _, ch := range d.watchers {
		select {
		case ch <- t:
		default:
		}
	}
}
