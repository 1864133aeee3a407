package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/spinsense/internal/db"
	"github.com/banshee-data/spinsense/internal/httputil"
	"github.com/banshee-data/spinsense/internal/monitoring"
	"github.com/banshee-data/spinsense/internal/spin"
	"github.com/banshee-data/spinsense/internal/units"
	"github.com/banshee-data/spinsense/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// lifecycleTimeout bounds how long a start or stop request may wait on the
// IMU handshake or subscription teardown.
const lifecycleTimeout = 5 * time.Second

// DeviceReporter exposes diagnostics from the sample source.
type DeviceReporter interface {
	Status() map[string]any
	Unparsed() uint64
}

type Server struct {
	manager *Manager
	db      *db.DB
	device  DeviceReporter
	serial  *SerialPortManager

	keepalive time.Duration
}

// NewServer returns a server for manager. database may be nil, in which case
// config changes are applied but not persisted and serial config routes
// report 503.
func NewServer(manager *Manager, database *db.DB) *Server {
	return &Server{
		manager:   manager,
		db:        database,
		keepalive: 15 * time.Second,
	}
}

// SetDevice attaches the source diagnostics served by /api/device.
func (s *Server) SetDevice(d DeviceReporter) {
	s.device = d
}

// SetSerialManager enables the serial reload routes.
func (s *Server) SetSerialManager(m *SerialPortManager) {
	s.serial = m
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/spin", s.showSpin)
	mux.HandleFunc("/api/spin/start", s.startDetector)
	mux.HandleFunc("/api/spin/stop", s.stopDetector)
	mux.HandleFunc("/api/spin/stream", s.streamTransitions)
	mux.HandleFunc("/api/spin/stats", s.showStats)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/serial/configs", s.handleSerialConfigsOrCreate)
	mux.HandleFunc("/api/serial/configs/", s.handleSerialConfigByID)
	mux.HandleFunc("/api/serial/models", s.handleSensorModels)
	mux.HandleFunc("/api/serial/reload", s.handleSerialReload)
	mux.HandleFunc("/api/serial/active", s.handleSerialActive)
	mux.HandleFunc("/api/device", s.showDevice)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// SpinStatus is the body of GET /api/spin and the start and stop routes.
// Rate is reported in Units.
type SpinStatus struct {
	Spinning bool    `json:"spinning"`
	Rate     float64 `json:"rate"`
	Units    string  `json:"units"`
	Running  bool    `json:"running"`
	Dropped  uint64  `json:"dropped"`
}

// requestUnits reads the optional units query parameter. It writes a 400
// and returns false when the unit is unknown.
func requestUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return units.DPS, true
	}
	if !units.IsValid(u) {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q, expected one of: %s", u, units.GetValidUnitsString()))
		return "", false
	}
	return u, true
}

func (s *Server) spinState(unit string) SpinStatus {
	det := s.manager.Detector()
	st := det.State()
	return SpinStatus{
		Spinning: st.Spinning,
		Rate:     units.ConvertRate(st.Rate, unit),
		Units:    unit,
		Running:  det.Running(),
		Dropped:  det.Dropped(),
	}
}

func (s *Server) showSpin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	unit, ok := requestUnits(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, s.spinState(unit))
}

func (s *Server) startDetector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), lifecycleTimeout)
	defer cancel()

	if err := s.manager.Start(ctx); err != nil {
		monitoring.Logf("Error starting detector: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to start detector: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.spinState(units.DPS))
}

func (s *Server) stopDetector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), lifecycleTimeout)
	defer cancel()

	if err := s.manager.Stop(ctx); err != nil {
		// The detector is reset even when cancellation fails.
		monitoring.Logf("Error stopping detector: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to stop detector: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.spinState(units.DPS))
}

type statsResponse struct {
	spin.RateStats
	Units   string `json:"units"`
	Window  int    `json:"window"`
	Dropped uint64 `json:"dropped"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	unit, ok := requestUnits(w, r)
	if !ok {
		return
	}
	det := s.manager.Detector()
	_, window := s.manager.Config()

	st := det.RateStats()
	for _, v := range []*float64{&st.Mean, &st.StdDev, &st.Min, &st.Max, &st.P50, &st.P95, &st.Threshold} {
		*v = units.ConvertRate(*v, unit)
	}
	httputil.WriteJSONOK(w, statsResponse{
		RateStats: st,
		Units:     unit,
		Window:    window,
		Dropped:   det.Dropped(),
	})
}

// streamTransitions serves state transitions as Server-Sent Events. A
// "state" event carrying the current state is sent on connect and whenever
// the detector is replaced by a config change.
func (s *Server) streamTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	det, id, ch := s.manager.Watch()
	defer func() { det.Unwatch(id) }()

	writeEvent := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			monitoring.Logf("failed to encode %s event: %v", event, err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent("state", det.State()) {
		return
	}

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case t, ok := <-ch:
			if !ok {
				// Closed without a replacement means the manager shut down.
				if s.manager.Detector() == det {
					return
				}
				det, id, ch = s.manager.Watch()
				if !writeEvent("state", det.State()) {
					return
				}
				continue
			}
			if !writeEvent("transition", t) {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) showDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.device == nil {
		httputil.NotFound(w, "no device attached")
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"status":   s.device.Status(),
		"unparsed": s.device.Unparsed(),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
