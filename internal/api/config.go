package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/spinsense/internal/db"
	"github.com/banshee-data/spinsense/internal/httputil"
	"github.com/banshee-data/spinsense/internal/monitoring"
	"github.com/banshee-data/spinsense/internal/spin"
)

// ConfigRequest is the body of PUT /api/config. Omitted fields keep their
// current value.
type ConfigRequest struct {
	Threshold    *float64 `json:"threshold,omitempty"`
	StartDelayMs *int64   `json:"start_delay_ms,omitempty"`
	StopDelayMs  *int64   `json:"stop_delay_ms,omitempty"`
	StatsWindow  *int     `json:"stats_window,omitempty"`
}

// ConfigResponse describes the running detector parameters.
type ConfigResponse struct {
	Threshold    float64 `json:"threshold"`
	StartDelayMs int64   `json:"start_delay_ms"`
	StopDelayMs  int64   `json:"stop_delay_ms"`
	StatsWindow  int     `json:"stats_window"`
	// Persisted reports whether a stored profile exists.
	Persisted bool `json:"persisted"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w, r)
	case http.MethodPut:
		s.updateConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) configResponse() (ConfigResponse, error) {
	cfg, window := s.manager.Config()
	stored := db.DetectorConfigFrom(cfg, window)
	resp := ConfigResponse{
		Threshold:    stored.Threshold,
		StartDelayMs: stored.StartDelayMs,
		StopDelayMs:  stored.StopDelayMs,
		StatsWindow:  stored.StatsWindow,
	}
	if s.db != nil {
		saved, err := s.db.GetDetectorConfig()
		if err != nil {
			return resp, err
		}
		resp.Persisted = saved != nil
	}
	return resp, nil
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	resp, err := s.configResponse()
	if err != nil {
		monitoring.Logf("Error fetching detector config: %v", err)
		httputil.InternalServerError(w, "failed to fetch detector config")
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cfg, window := s.manager.Config()
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.StartDelayMs != nil {
		d, err := spin.DelayFromMillis(*req.StartDelayMs)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("start_delay_ms: %v", err))
			return
		}
		cfg.StartDelay = d
	}
	if req.StopDelayMs != nil {
		d, err := spin.DelayFromMillis(*req.StopDelayMs)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("stop_delay_ms: %v", err))
			return
		}
		cfg.StopDelay = d
	}
	if req.StatsWindow != nil {
		if err := spin.ValidateStatsWindow(*req.StatsWindow); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("stats_window: %v", err))
			return
		}
		window = *req.StatsWindow
	}

	// Build the replacement first so only a usable config is persisted.
	next, window, err := s.manager.build(cfg, window)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if s.db != nil {
		stored := db.DetectorConfigFrom(cfg, window)
		if err := s.db.SaveDetectorConfig(&stored); err != nil {
			if errors.Is(err, spin.ErrInvalidConfig) {
				httputil.BadRequest(w, err.Error())
				return
			}
			monitoring.Logf("Error saving detector config: %v", err)
			httputil.InternalServerError(w, "failed to save detector config")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), lifecycleTimeout)
	defer cancel()
	if err := s.manager.replace(ctx, next, window); err != nil {
		monitoring.Logf("Error applying detector config: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to apply detector config: %v", err))
		return
	}

	s.showConfig(w, r)
}
