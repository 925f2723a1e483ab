package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tab-element-monitor/internal/monitor"
	"tab-element-monitor/internal/snapshot"
	"tab-element-monitor/internal/storage"
)

// SessionAPI is the controller surface the HTTP layer needs.
type SessionAPI interface {
	Start(ctx context.Context, raw monitor.RawConfig) error
	Stop(ctx context.Context, reason string) error
}

type Handler struct {
	api     SessionAPI
	history *storage.History // nil when no database is configured
}

func New(api SessionAPI, history *storage.History) *Handler {
	return &Handler{api: api, history: history}
}

// StartMonitor starts a session from the posted raw config.
func (h *Handler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	var raw monitor.RawConfig
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid request body"})
		return
	}

	if err := h.api.Start(r.Context(), raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// StopMonitor stops the active session, recording that the user asked.
func (h *Handler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	if err := h.api.Stop(r.Context(), "Stopped by user."); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GetStatus returns the last published session status.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshot.Get())
}

// GetObservations returns observation history over a sliding window
// (default 24h).
func (h *Handler) GetObservations(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history storage not configured", http.StatusServiceUnavailable)
		return
	}

	window := 24 * time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window duration", http.StatusBadRequest)
			return
		}
		window = d
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	from := time.Now().UTC().Add(-window)
	obs, err := h.history.Observations(r.Context(), from, limit)
	if err != nil {
		log.Printf("observations query failed: %v", err)
		http.Error(w, "observations query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"window":       window.String(),
		"from":         from.Format(time.RFC3339),
		"observations": obs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}
