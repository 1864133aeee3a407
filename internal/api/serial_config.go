package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/spinsense/internal/db"
	"github.com/banshee-data/spinsense/internal/httputil"
	"github.com/banshee-data/spinsense/internal/monitoring"
)

// SerialConfigRequest represents the request body for creating serial configs
type SerialConfigRequest struct {
	Name        string `json:"name"`
	PortPath    string `json:"port_path"`
	BaudRate    int    `json:"baud_rate"`
	DataBits    int    `json:"data_bits"`
	StopBits    int    `json:"stop_bits"`
	Parity      string `json:"parity"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
	SensorModel string `json:"sensor_model"`
}

// requireDB writes 503 and returns false when no database is attached.
func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "database unavailable")
		return false
	}
	return true
}

// handleSerialConfigsOrCreate handles GET and POST to /api/serial/configs
func (s *Server) handleSerialConfigsOrCreate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleSerialConfigs(w, r)
	case http.MethodPost:
		s.handleCreateSerialConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

// handleSerialConfigs handles GET /api/serial/configs - List all serial configurations
func (s *Server) handleSerialConfigs(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	configs, err := s.db.GetSerialConfigs()
	if err != nil {
		monitoring.Logf("Error fetching serial configs: %v", err)
		httputil.InternalServerError(w, "failed to fetch serial configurations")
		return
	}
	httputil.WriteJSONOK(w, configs)
}

// handleSerialConfigByID handles GET/PATCH/DELETE /api/serial/configs/:id
func (s *Server) handleSerialConfigByID(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/serial/configs/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		httputil.BadRequest(w, "missing config ID")
		return
	}
	id, err := strconv.Atoi(pathParts[0])
	if err != nil {
		httputil.BadRequest(w, "invalid config ID")
		return
	}
	if !s.requireDB(w) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSerialConfig(w, id)
	case http.MethodPatch:
		s.handleEnableSerialConfig(w, r, id)
	case http.MethodDelete:
		s.handleDeleteSerialConfig(w, id)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleGetSerialConfig(w http.ResponseWriter, id int) {
	config, err := s.db.GetSerialConfig(id)
	if err != nil {
		monitoring.Logf("Error fetching serial config %d: %v", id, err)
		httputil.InternalServerError(w, "failed to fetch serial configuration")
		return
	}
	if config == nil {
		httputil.NotFound(w, "configuration not found")
		return
	}
	httputil.WriteJSONOK(w, config)
}

// handleCreateSerialConfig handles POST /api/serial/configs
func (s *Server) handleCreateSerialConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}

	var req SerialConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	if req.PortPath == "" {
		httputil.BadRequest(w, "port path is required")
		return
	}
	if !isValidPortPath(req.PortPath) {
		httputil.BadRequest(w, "invalid port path, must start with /dev/tty or /dev/serial")
		return
	}

	model, ok := GetSensorModel(req.SensorModel)
	if req.SensorModel != "" && !ok {
		httputil.BadRequest(w, fmt.Sprintf("unsupported sensor model: %s", req.SensorModel))
		return
	}
	if req.BaudRate == 0 && ok {
		req.BaudRate = model.DefaultBaudRate
	}

	config := &db.SerialConfig{
		Name:        req.Name,
		PortPath:    req.PortPath,
		BaudRate:    req.BaudRate,
		DataBits:    req.DataBits,
		StopBits:    req.StopBits,
		Parity:      req.Parity,
		Enabled:     req.Enabled,
		Description: req.Description,
		SensorModel: req.SensorModel,
	}
	if err := s.db.CreateSerialConfig(config); err != nil {
		monitoring.Logf("Error creating serial config: %v", err)
		switch {
		case strings.Contains(err.Error(), "UNIQUE constraint failed"):
			httputil.Conflict(w, "configuration with this name already exists")
		case strings.Contains(err.Error(), "invalid serial options"):
			httputil.BadRequest(w, err.Error())
		default:
			httputil.InternalServerError(w, "failed to create serial configuration")
		}
		return
	}

	created, err := s.db.GetSerialConfig(config.ID)
	if err != nil || created == nil {
		monitoring.Logf("Error fetching created config: %v", err)
		httputil.InternalServerError(w, "configuration created but failed to fetch")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// handleEnableSerialConfig handles PATCH /api/serial/configs/:id with a
// body of {"enabled": bool}.
func (s *Server) handleEnableSerialConfig(w http.ResponseWriter, r *http.Request, id int) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		httputil.BadRequest(w, "body must be {\"enabled\": true|false}")
		return
	}
	if err := s.db.SetSerialConfigEnabled(id, *req.Enabled); err != nil {
		monitoring.Logf("Error updating serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "configuration not found")
			return
		}
		httputil.InternalServerError(w, "failed to update serial configuration")
		return
	}
	s.handleGetSerialConfig(w, id)
}

// handleDeleteSerialConfig handles DELETE /api/serial/configs/:id
func (s *Server) handleDeleteSerialConfig(w http.ResponseWriter, id int) {
	if err := s.db.DeleteSerialConfig(id); err != nil {
		monitoring.Logf("Error deleting serial config %d: %v", id, err)
		if strings.Contains(err.Error(), "not found") {
			httputil.NotFound(w, "configuration not found")
			return
		}
		httputil.InternalServerError(w, "failed to delete serial configuration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSensorModels handles GET /api/serial/models - List all sensor models
func (s *Server) handleSensorModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, GetAllSensorModels())
}

// isValidPortPath validates that a port path is in an allowed format
func isValidPortPath(path string) bool {
	return strings.HasPrefix(path, "/dev/tty") || strings.HasPrefix(path, "/dev/serial")
}

// handleSerialReload handles POST /api/serial/reload, switching the IMU to
// the first enabled stored configuration.
func (s *Server) handleSerialReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.serial == nil {
		httputil.ServiceUnavailable(w, "serial reload not available")
		return
	}
	result, err := s.serial.ReloadConfig(r.Context())
	if err != nil {
		monitoring.Logf("Error reloading serial config: %v", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, SerialReloadResult{Success: false, Message: err.Error()})
		return
	}
	httputil.WriteJSONOK(w, result)
}

// handleSerialActive handles GET /api/serial/active
func (s *Server) handleSerialActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.serial == nil {
		httputil.NotFound(w, "no serial port manager")
		return
	}
	httputil.WriteJSONOK(w, s.serial.Snapshot())
}
