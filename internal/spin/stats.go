package spin

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// rateWindow keeps the most recent rates for diagnostics. It is guarded by
// the detector mutex.
type rateWindow struct {
	data []float64
	head int
	size int
}

func newRateWindow(capacity int) *rateWindow {
	return &rateWindow{data: make([]float64, capacity)}
}

func (w *rateWindow) push(v float64) {
	w.data[w.head] = v
	w.head = (w.head + 1) % len(w.data)
	if w.size < len(w.data) {
		w.size++
	}
}

// values returns the window contents, oldest first.
func (w *rateWindow) values() []float64 {
	out := make([]float64, w.size)
	start := (w.head - w.size + len(w.data)) % len(w.data)
	for i := 0; i < w.size; i++ {
		out[i] = w.data[(start+i)%len(w.data)]
	}
	return out
}

func (w *rateWindow) reset() {
	w.head = 0
	w.size = 0
}

// RateStats summarises the recent rate window.
type RateStats struct {
	Count     int     `json:"count"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
	Threshold float64 `json:"threshold"`
	// AboveFraction is the share of windowed samples above the threshold.
	AboveFraction float64 `json:"above_fraction"`
}

// RecentRates returns the rates in the diagnostic window, oldest first.
func (d *Detector) RecentRates() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rates.values()
}

// RateStats computes summary statistics over the recent rate window.
func (d *Detector) RateStats() RateStats {
	rates := d.RecentRates()
	return computeRateStats(rates, d.cfg.Threshold)
}

func computeRateStats(rates []float64, threshold float64) RateStats {
	s := RateStats{Count: len(rates), Threshold: threshold}
	if len(rates) == 0 {
		return s
	}

	sorted := make([]float64, len(rates))
	copy(sorted, rates)
	sort.Float64s(sorted)

	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	if len(sorted) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	} else {
		s.Mean = sorted[0]
	}

	above := 0
	for _, r := range rates {
		if r > threshold {
			above++
		}
	}
	s.AboveFraction = float64(above) / float64(len(rates))
	return s
}
