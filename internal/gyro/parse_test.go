package gyro

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/spinsense/internal/spin"
)

func TestParse(t *testing.T) {
	ts := time.Unix(1700000000, 250_000_000).UTC()

	tests := []struct {
		name string
		line string
		want spin.Sample
	}{
		{"json with time", `{"t":1700000000.25,"gx":1.5,"gy":-0.25,"gz":92}`, spin.Sample{Time: ts, X: 1.5, Y: -0.25, Z: 92}},
		{"json without time", `{"gx":0,"gy":0,"gz":-60}`, spin.Sample{Z: -60}},
		{"json extra keys", `{"gx":1,"gy":2,"gz":3,"ax":9.81}`, spin.Sample{X: 1, Y: 2, Z: 3}},
		{"csv three fields", "1.5,-0.25,92.0", spin.Sample{X: 1.5, Y: -0.25, Z: 92}},
		{"csv with time", "1700000000.25, 1.5, -0.25, 92", spin.Sample{Time: ts, X: 1.5, Y: -0.25, Z: 92}},
		{"trailing newline", "0,0,51\r\n", spin.Sample{Z: 51}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.line, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParse_NotSample(t *testing.T) {
	lines := []string{
		"",
		"OK",
		`{"fw":"1.2.0","odr":100}`,
		`{"gx":1,"gy":2}`,
		`{"gx":"fast","gy":0,"gz":0}`,
		"{broken",
		"1,2",
		"1,2,3,4,5",
		"a,b,c",
	}
	for _, line := range lines {
		if _, err := Parse(line); !errors.Is(err, ErrNotSample) {
			t.Errorf("Parse(%q) error = %v, want ErrNotSample", line, err)
		}
	}
}

func TestParse_NonFinite(t *testing.T) {
	for _, line := range []string{"NaN,0,0", "0,+Inf,0", "0,0,1e400", "1700000000,0,0,-inf"} {
		s, err := Parse(line)
		if !errors.Is(err, ErrNonFinite) {
			t.Errorf("Parse(%q) error = %v, want ErrNonFinite", line, err)
			continue
		}
		if s.Valid() {
			t.Errorf("Parse(%q) returned a valid sample", line)
		}
	}
}

func TestSyntheticLine_Profile(t *testing.T) {
	start := time.Unix(1000, 0)
	next := SyntheticLine(start, 42)

	parse := func(at time.Duration) spin.Sample {
		t.Helper()
		line := next(start.Add(at))
		var raw map[string]float64
		if err := json.Unmarshal(line, &raw); err != nil {
			t.Fatalf("synthetic line %q is not JSON: %v", line, err)
		}
		s, err := Parse(string(line))
		if err != nil {
			t.Fatalf("Parse(%q): %v", line, err)
		}
		return s
	}

	still := parse(time.Second)
	if still.Rate() > syntheticNoise {
		t.Errorf("still phase rate %v exceeds noise %v", still.Rate(), syntheticNoise)
	}

	peak := parse(SyntheticStill + SyntheticSpin/2)
	if math.Abs(peak.Z) < syntheticSpinRate-syntheticNoise {
		t.Errorf("spin phase z rate %v, want about %v", peak.Z, syntheticSpinRate)
	}

	// The profile repeats every cycle.
	again := parse(SyntheticStill + SyntheticSpin + time.Second)
	if again.Rate() > syntheticNoise {
		t.Errorf("second still phase rate %v exceeds noise", again.Rate())
	}
}

func TestSyntheticLine_Deterministic(t *testing.T) {
	start := time.Unix(0, 0)
	a, b := SyntheticLine(start, 7), SyntheticLine(start, 7)
	for i := 0; i < 5; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Millisecond)
		if la, lb := string(a(now)), string(b(now)); la != lb {
			t.Fatalf("same seed produced %q and %q", la, lb)
		}
	}
}
