package main

import (
	"testing"
)

// TestFlagDefaults verifies every service flag exists with its documented
// default value.
func TestFlagDefaults(t *testing.T) {
	if devMode == nil || *devMode {
		t.Errorf("expected -dev to default to false")
	}
	if listen == nil || *listen != ":8080" {
		t.Errorf("expected -listen default :8080")
	}
	if port == nil || *port != "" {
		t.Errorf("expected -port to default to empty so stored config applies")
	}
	if baud == nil || *baud != 0 {
		t.Errorf("expected -baud to default to 0")
	}
	if dbPath == nil || *dbPath != "spinsense.db" {
		t.Errorf("expected -db-path default spinsense.db")
	}
	if configFile == nil || *configFile != "" {
		t.Errorf("expected -config to default to empty")
	}
	if autostart == nil || !*autostart {
		t.Errorf("expected -autostart to default to true")
	}
}

func TestControlURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://localhost:8080"},
		{"0.0.0.0:9000", "http://0.0.0.0:9000"},
		{"imu.local:80", "http://imu.local:80"},
		{"https://imu.example.com", "https://imu.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := controlURL(tt.addr); got != tt.want {
				t.Errorf("controlURL(%q) = %q, want %q", tt.addr, got, tt.want)
			}
		})
	}
}
