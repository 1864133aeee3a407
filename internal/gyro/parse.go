// Package gyro adapts IMU serial output into spin samples.
package gyro

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/spinsense/internal/spin"
)

var (
	// ErrNotSample is returned for lines that do not carry a gyro reading,
	// such as status or acknowledgement lines.
	ErrNotSample = errors.New("line is not a gyro sample")
	// ErrNonFinite is returned when an axis reading is NaN or infinite.
	ErrNonFinite = errors.New("gyro sample has non-finite axis")
)

type jsonSample struct {
	T  *float64 `json:"t,omitempty"`
	GX *float64 `json:"gx"`
	GY *float64 `json:"gy"`
	GZ *float64 `json:"gz"`
}

// Parse decodes one line of IMU output. Two encodings are accepted:
//
//	{"t": 1700000000.125, "gx": 1.5, "gy": -0.25, "gz": 92.0}
//	1.5,-0.25,92.0
//	1700000000.125,1.5,-0.25,92.0
//
// The timestamp is optional, in unix seconds. Rates are degrees per second.
func Parse(line string) (spin.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return spin.Sample{}, ErrNotSample
	}
	if strings.HasPrefix(line, "{") {
		return parseJSON(line)
	}
	return parseCSV(line)
}

func parseJSON(line string) (spin.Sample, error) {
	var js jsonSample
	if err := json.Unmarshal([]byte(line), &js); err != nil {
		return spin.Sample{}, fmt.Errorf("%w: %w", ErrNotSample, err)
	}
	if js.GX == nil || js.GY == nil || js.GZ == nil {
		return spin.Sample{}, ErrNotSample
	}
	s := spin.Sample{X: *js.GX, Y: *js.GY, Z: *js.GZ}
	if js.T != nil {
		s.Time = unixSeconds(*js.T)
	}
	return s, nil
}

func parseCSV(line string) (spin.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 && len(fields) != 4 {
		return spin.Sample{}, ErrNotSample
	}

	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil && !(errors.Is(err, strconv.ErrRange) && math.IsInf(v, 0)) {
			return spin.Sample{}, fmt.Errorf("%w: field %d: %w", ErrNotSample, i, err)
		}
		vals[i] = v
	}

	var s spin.Sample
	if len(vals) == 4 {
		s.Time = unixSeconds(vals[0])
		vals = vals[1:]
	}
	s.X, s.Y, s.Z = vals[0], vals[1], vals[2]
	if !s.Valid() {
		return s, ErrNonFinite
	}
	return s, nil
}

func unixSeconds(t float64) time.Time {
	sec, frac := math.Modf(t)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
