package serialmux

import "strings"

const (
	EventTypeGyroSample = "gyro_sample"
	EventTypeStatus     = "status"
	EventTypeUnknown    = "unknown"
)

// ClassifyPayload inspects a line from the IMU and returns an event type
// token. Gyro samples carry gx/gy/gz keys or are bare comma separated
// numbers; any other JSON object is a status line.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	if strings.HasPrefix(p, "{") {
		if strings.Contains(p, `"gx"`) && strings.Contains(p, `"gy"`) && strings.Contains(p, `"gz"`) {
			return EventTypeGyroSample
		}
		return EventTypeStatus
	}
	if n := strings.Count(p, ","); n == 2 || n == 3 {
		if strings.Trim(p, "0123456789+-.eE, ") == "" {
			return EventTypeGyroSample
		}
	}
	return EventTypeUnknown
}
