package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	if now := clock.Now(); now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}

	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	clock := NewMockClock(epoch)
	if got := clock.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	clock.Advance(250 * time.Millisecond)
	if got := clock.Now().Sub(epoch); got != 250*time.Millisecond {
		t.Errorf("elapsed = %v, want 250ms", got)
	}
}

func expectTick(t *testing.T, ticker Ticker, want time.Time) {
	t.Helper()
	select {
	case got := <-ticker.C():
		if !got.Equal(want) {
			t.Errorf("tick = %v, want %v", got, want)
		}
	default:
		t.Fatal("expected a tick")
	}
}

func expectNoTick(t *testing.T, ticker Ticker) {
	t.Helper()
	select {
	case got := <-ticker.C():
		t.Fatalf("unexpected tick at %v", got)
	default:
	}
}

func TestMockTicker(t *testing.T) {
	tests := []struct {
		name    string
		advance []time.Duration
		ticks   []bool
	}{
		{
			name:    "fires at each interval",
			advance: []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond},
			ticks:   []bool{false, true, true},
		},
		{
			name:    "large jump fires once",
			advance: []time.Duration{time.Second},
			ticks:   []bool{true},
		},
		{
			name:    "deadlines stay on the grid",
			advance: []time.Duration{150 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond},
			ticks:   []bool{true, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewMockClock(epoch)
			ticker := clock.NewTicker(100 * time.Millisecond)
			defer ticker.Stop()

			for i, d := range tt.advance {
				clock.Advance(d)
				if tt.ticks[i] {
					expectTick(t, ticker, clock.Now())
				} else {
					expectNoTick(t, ticker)
				}
			}
		})
	}
}

func TestMockTicker_FullChannelDropsTicks(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	clock.Advance(10 * time.Millisecond)
	first := clock.Now()
	clock.Advance(10 * time.Millisecond)

	expectTick(t, ticker, first)
	expectNoTick(t, ticker)
}

func TestMockTicker_Stop(t *testing.T) {
	clock := NewMockClock(epoch)
	ticker := clock.NewTicker(10 * time.Millisecond)
	ticker.Stop()
	ticker.Stop()

	clock.Advance(time.Second)
	expectNoTick(t, ticker)
}

func TestMockClock_NewTickerPanicsOnNonPositive(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewMockClock(epoch).NewTicker(0)
}
