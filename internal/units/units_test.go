package units

import (
	"math"
	"testing"
)

func TestConvertRate(t *testing.T) {
	tests := []struct {
		name     string
		rateDPS  float64
		units    string
		expected float64
	}{
		{"180 dps to rads", 180, RADS, math.Pi},
		{"360 dps to rpm", 360, RPM, 60},
		{"50 dps to dps", 50, DPS, 50},
		{"unknown units default to dps", 50, "unknown", 50},
		{"zero to rpm", 0, RPM, 0},
		{"negative rate to rads", -90, RADS, -math.Pi / 2},
		{"threshold 50 dps to rpm", 50, RPM, 8.3333},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertRate(tt.rateDPS, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertRate(%f, %s) = %f, want %f", tt.rateDPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		unit     string
		expected bool
	}{
		{DPS, true},
		{RADS, true},
		{RPM, true},
		{"", false},
		{"DPS", false},
		{"mph", false},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%q) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "dps, rads, rpm" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}
