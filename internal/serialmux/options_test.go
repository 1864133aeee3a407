package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalize() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalize_NegativeBaudRateDefaults(t *testing.T) {
	got, err := PortOptions{BaudRate: -5}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", got.BaudRate, DefaultBaudRate)
	}
}

func TestPortOptions_Normalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"odd baud rate", PortOptions{BaudRate: 12345}},
		{"data bits too low", PortOptions{DataBits: 4}},
		{"data bits too high", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalize(); err == nil {
				t.Errorf("Normalize(%+v) expected error", tt.opts)
			}
		})
	}
}

func TestPortOptions_Normalize_ParityAliases(t *testing.T) {
	tests := map[string]string{
		"":      "N",
		"n":     "N",
		"none":  "N",
		" E ":   "E",
		"even":  "E",
		"o":     "O",
		"ODD":   "O",
		"NONE ": "N",
	}
	for in, want := range tests {
		got, err := PortOptions{Parity: in}.Normalize()
		if err != nil {
			t.Errorf("Parity %q: unexpected error %v", in, err)
			continue
		}
		if got.Parity != want {
			t.Errorf("Parity %q normalized to %q, want %q", in, got.Parity, want)
		}
	}
}

func TestPortOptions_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b PortOptions
		want bool
	}{
		{"defaults match explicit", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "none"}, true},
		{"different baud", PortOptions{BaudRate: 9600}, PortOptions{BaudRate: 115200}, false},
		{"different parity", PortOptions{Parity: "E"}, PortOptions{Parity: "O"}, false},
		{"invalid first", PortOptions{DataBits: 3}, PortOptions{}, false},
		{"invalid second", PortOptions{}, PortOptions{StopBits: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
		want serial.Mode
	}{
		{"default", PortOptions{}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}},
		{"even parity", PortOptions{Parity: "E"}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.OneStopBit}},
		{"odd two stop", PortOptions{BaudRate: 921600, Parity: "O", StopBits: 2}, serial.Mode{BaudRate: 921600, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.SerialMode()
			if err != nil {
				t.Fatalf("SerialMode() error = %v", err)
			}
			if got.BaudRate != tt.want.BaudRate || got.DataBits != tt.want.DataBits ||
				got.Parity != tt.want.Parity || got.StopBits != tt.want.StopBits {
				t.Errorf("SerialMode() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode_InvalidOptions(t *testing.T) {
	if _, err := (PortOptions{DataBits: 10}).SerialMode(); err == nil {
		t.Error("expected error for invalid options")
	}
}
