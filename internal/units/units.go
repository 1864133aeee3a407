// Package units provides shared constants and conversion for angular rate
// units.
package units

import "math"

// Unit constants
const (
	DPS  = "dps"  // degrees per second
	RADS = "rads" // radians per second
	RPM  = "rpm"  // revolutions per minute
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{DPS, RADS, RPM}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "dps, rads, rpm"
}

// ConvertRate converts an angular rate from degrees per second to the
// target units. The detector works in deg/s throughout.
func ConvertRate(rateDPS float64, targetUnits string) float64 {
	switch targetUnits {
	case RADS:
		return rateDPS * math.Pi / 180
	case RPM:
		return rateDPS / 6 // 360 deg per rev, 60 s per min
	default:
		return rateDPS
	}
}
