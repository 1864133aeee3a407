package gyro

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Synthetic motion profile used by dev mode.
const (
	SyntheticStill    = 3 * time.Second
	SyntheticSpin     = 3 * time.Second
	syntheticSpinRate = 180.0 // deg/s about z
	syntheticNoise    = 8.0
)

// SyntheticLine returns a generator of JSON gyro lines that alternates
// between SyntheticStill of near-zero rates and SyntheticSpin of rotation
// about the z axis, measured from start. The generator is not safe for
// concurrent use.
func SyntheticLine(start time.Time, seed uint64) func(now time.Time) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	noise := func() float64 { return (rng.Float64()*2 - 1) * syntheticNoise }
	cycle := SyntheticStill + SyntheticSpin

	return func(now time.Time) []byte {
		phase := now.Sub(start) % cycle
		if phase < 0 {
			phase += cycle
		}
		gx, gy, gz := noise(), noise(), noise()
		if phase >= SyntheticStill {
			// Ease in and out so the rate crosses the threshold gradually.
			p := float64(phase-SyntheticStill) / float64(SyntheticSpin)
			gz += syntheticSpinRate * math.Sin(math.Pi*p)
		}
		t := float64(now.UnixNano()) / 1e9
		return fmt.Appendf(nil, `{"t":%.3f,"gx":%.3f,"gy":%.3f,"gz":%.3f}`, t, gx, gy, gz)
	}
}
