// Package handlers implements the relay's HTTP surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voxrelay/voxrelay/pkg/relay/config"
	"github.com/voxrelay/voxrelay/pkg/relay/diag"
	"github.com/voxrelay/voxrelay/pkg/relay/sessions"
)

const recentErrorLimit = 20

// RootHandler serves the service banner.
type RootHandler struct {
	Config config.Config
}

func (h RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Gemini Live API - Speech-to-Speech Backend",
		"status":  "running",
		"model":   h.Config.GeminiModel,
	})
}

// HealthHandler reports relay liveness and session load.
type HealthHandler struct {
	Config  config.Config
	Tracker *sessions.Tracker
	Diag    *diag.Sink
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "running",
		"active_sessions":   h.Tracker.Count(),
		"total_errors":      h.Diag.Total(),
		"gemini_configured": h.Config.Configured(),
		"model":             h.Config.GeminiModel,
	})
}

// ErrorsHandler exposes the recent diagnostic history.
type ErrorsHandler struct {
	Diag *diag.Sink
}

func (h ErrorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recent := h.Diag.Recent(recentErrorLimit)
	if recent == nil {
		recent = []diag.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_errors":  h.Diag.Total(),
		"recent_errors": recent,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
