package serialmux

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/banshee-data/spinsense/internal/monitoring"
)

// DeviceStatus holds the latest status values reported by the IMU.
type DeviceStatus struct {
	mu     sync.Mutex
	values map[string]any
}

// HandleStatusLine merges a JSON status line into the stored status.
func (d *DeviceStatus) HandleStatusLine(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal status line: %w", err)
	}

	d.mu.Lock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	maps.Copy(d.values, values)
	d.mu.Unlock()

	monitoring.Logf("Status Line: %+v", payload)
	return nil
}

// Snapshot returns a copy of the current status values.
func (d *DeviceStatus) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.values))
	maps.Copy(out, d.values)
	return out
}

// HandleEvent routes a non-sample line. Gyro samples are consumed by the
// gyro source subscriptions, so they are ignored here.
func (d *DeviceStatus) HandleEvent(payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeGyroSample:
		return nil
	case EventTypeStatus:
		if err := d.HandleStatusLine(payload); err != nil {
			return fmt.Errorf("failed to handle status line: %w", err)
		}
	default:
		monitoring.Logf("unknown event type: %s", payload)
	}
	return nil
}
