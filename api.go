package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-levelmon/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmon/internal/server"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseJSON reads, parses and validates JSON from the request body.
// Returns parsed value and true on success, zero value and false on failure.
func parseJSON[T any](s *Server, w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return v, false
	}
	if err := server.ValidateStruct(&v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": server.ValidationErrorFrom(err)})
		return v, false
	}
	return v, true
}

// writeMonitoringResponse writes the response of a start or stop request.
func (s *Server) writeMonitoringResponse(w http.ResponseWriter, resp types.MonitoringResponse) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleAPIMonitoring returns the state of every source.
// GET /api/monitoring
func (s *Server) handleAPIMonitoring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"monitors": s.monitorStatuses()})
}

// handleAPIMonitoringStart starts monitoring for a source selector.
// POST /api/monitoring/start {"source": "microphone|system|both"}
func (s *Server) handleAPIMonitoringStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[server.MonitoringStartRequest](s, w, r)
	if !ok {
		return
	}
	s.writeMonitoringResponse(w, server.StartMonitoring(s.manager, req.Source))
}

// handleAPIMonitoringStop stops monitoring for a source selector.
// POST /api/monitoring/stop {"source": "microphone|system|all"}
func (s *Server) handleAPIMonitoringStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := parseJSON[server.MonitoringStopRequest](s, w, r)
	if !ok {
		return
	}
	s.writeMonitoringResponse(w, server.StopMonitoring(s.manager, req.Source))
}

// handleAPIDevices returns available audio devices. Enumeration failures on
// one direction are reported alongside the devices that were found.
// GET /api/devices
func (s *Server) handleAPIDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	devices, err := s.manager.ListDevices()
	resp := map[string]any{
		"input_devices":  devices.Input,
		"output_devices": devices.Output,
		"system_devices": devices.System,
	}
	if err != nil {
		slog.Warn("device enumeration incomplete", "error", err)
		resp["error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAPIEvents returns a page of the event log.
// GET /api/events?filter=lifecycle|failure&limit=50&offset=0
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	filter := eventlog.TypeFilter(q.Get("filter"))
	if !eventlog.IsValidFilter(filter) {
		s.writeError(w, http.StatusBadRequest, "filter must be one of: lifecycle failure")
		return
	}
	limit, ok := queryInt(q.Get("limit"), server.DefaultEventPage)
	if !ok || limit < 1 || limit > eventlog.MaxReadLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(eventlog.MaxReadLimit))
		return
	}
	offset, ok := queryInt(q.Get("offset"), 0)
	if !ok || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.config.Snapshot().EventLogPath, limit, offset, filter)
	if err != nil {
		slog.Error("failed to read event log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": events, "has_more": hasMore})
}

// queryInt parses an optional integer query parameter.
func queryInt(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// handleAPIVersion returns build and update information.
// GET /api/version
func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.version.Info())
}

// handleHealth reports liveness and the number of running samplers.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	running := 0
	for _, src := range types.Sources {
		if s.manager.IsRunning(src) {
			running++
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"running":     running,
		"subscribers": s.hub.Subscribers(),
	})
}
