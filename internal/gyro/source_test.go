package gyro

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spinsense/internal/serialmux"
	"github.com/banshee-data/spinsense/internal/spin"
	"github.com/banshee-data/spinsense/internal/timeutil"
)

type recorder struct {
	mu      sync.Mutex
	samples []spin.Sample
}

func (r *recorder) add(s spin.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *recorder) get(i int) spin.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples[i]
}

// newMonitoredMux returns a mux over a blocking test port with Monitor
// running until the test ends.
func newMonitoredMux(t *testing.T) (*serialmux.SerialMux[*serialmux.TestableSerialPort], *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	mux := serialmux.NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.Monitor(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		mux.Close()
		<-done
	})
	return mux, port
}

func TestSerialSource_DeliversSamples(t *testing.T) {
	mux, port := newMonitoredMux(t)
	src := NewSerialSource(mux)

	var rec recorder
	h, err := src.Subscribe(context.Background(), rec.add)
	require.NoError(t, err)
	defer h.Cancel(context.Background())

	port.AddReadData([]byte("{\"gx\":1,\"gy\":2,\"gz\":3}\n{\"fw\":\"1.2.0\"}\nOK\n0,0,75\n"))

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3.0, rec.get(0).Z)
	assert.Equal(t, 75.0, rec.get(1).Z)
	require.Eventually(t, func() bool { return src.Status()["fw"] == "1.2.0" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), src.Unparsed())
}

func TestSerialSource_ForwardsNonFiniteSamples(t *testing.T) {
	mux, port := newMonitoredMux(t)
	src := NewSerialSource(mux)

	var rec recorder
	h, err := src.Subscribe(context.Background(), rec.add)
	require.NoError(t, err)
	defer h.Cancel(context.Background())

	port.AddReadData([]byte("NaN,0,0\n"))
	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, rec.get(0).Valid())
}

func TestSerialSource_InitializesOnce(t *testing.T) {
	mux, port := newMonitoredMux(t)
	src := NewSerialSource(mux)

	for i := 0; i < 2; i++ {
		h, err := src.Subscribe(context.Background(), func(spin.Sample) {})
		require.NoError(t, err)
		require.NoError(t, h.Cancel(context.Background()))
	}

	assert.Equal(t, "RST\nFMT JSON\nGYR DPS\nODR 100\nSTR ON\n", string(port.GetWrittenData()))
}

func TestSerialSource_RetriesFailedHandshake(t *testing.T) {
	mux, port := newMonitoredMux(t)
	port.WriteError = errors.New("device busy")
	src := NewSerialSource(mux)

	_, err := src.Subscribe(context.Background(), func(spin.Sample) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize IMU")

	h, err := src.Subscribe(context.Background(), func(spin.Sample) {})
	require.NoError(t, err)
	require.NoError(t, h.Cancel(context.Background()))
}

func TestSerialSource_SubscribeRejectsNilAndCancelledContext(t *testing.T) {
	src := NewSerialSource(serialmux.NewDisabledSerialMux())

	_, err := src.Subscribe(context.Background(), nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Subscribe(ctx, func(spin.Sample) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialSource_CancelStopsDelivery(t *testing.T) {
	mux, port := newMonitoredMux(t)
	src := NewSerialSource(mux)

	var rec recorder
	h, err := src.Subscribe(context.Background(), rec.add)
	require.NoError(t, err)

	port.AddReadData([]byte("0,0,10\n"))
	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.Cancel(context.Background()))
	// A second Cancel is harmless.
	require.NoError(t, h.Cancel(context.Background()))

	port.AddReadData([]byte("0,0,20\n"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}

func TestSerialSource_CancelTimesOutOnStuckCallback(t *testing.T) {
	mux, port := newMonitoredMux(t)
	src := NewSerialSource(mux)

	entered := make(chan struct{})
	release := make(chan struct{})
	h, err := src.Subscribe(context.Background(), func(spin.Sample) {
		close(entered)
		<-release
	})
	require.NoError(t, err)

	port.AddReadData([]byte("0,0,10\n"))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.Cancel(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, h.Cancel(context.Background()))
}

func TestSerialSource_DrivesDetector(t *testing.T) {
	mux, port := newMonitoredMux(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	det, err := spin.New(NewSerialSource(mux), spin.Options{Clock: clock})
	require.NoError(t, err)
	require.NoError(t, det.Start(context.Background()))
	defer det.Stop(context.Background())

	feed := func(line string, rate float64) {
		t.Helper()
		port.AddReadData([]byte(line + "\n"))
		require.Eventually(t, func() bool { return det.CurrentRate() == rate }, 2*time.Second, 5*time.Millisecond)
	}

	feed("0,0,120", 120)
	assert.False(t, det.IsSpinning())

	clock.Advance(spin.DefaultStartDelay)
	feed("0,-130,0", 130)
	assert.True(t, det.IsSpinning())

	clock.Advance(time.Millisecond)
	feed("5,0,0", 5)
	clock.Advance(spin.DefaultStopDelay)
	feed("0,6,0", 6)
	assert.False(t, det.IsSpinning())
}
