// Package api exposes the diagnostics HTTP handlers of the sync library. The
// host application mounts them on its own mux; /metrics via promhttp is the
// host's concern.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
	"github.com/muzaparoff/shuttlx-sub002/internal/syncengine"
)

// Engine is the slice of the sync engine the handlers read from.
type Engine interface {
	Status() syncengine.Status
	LoadCatalog() []domain.Program
	Sessions() []domain.Session
	RequestRefresh()
}

// Handler serves read-only diagnostics over the sync engine.
type Handler struct {
	engine Engine
}

// NewHandler builds a Handler.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sync/status", h.syncStatus)
	mux.HandleFunc("/v1/sync/refresh", h.syncRefresh)
	mux.HandleFunc("/v1/programs", h.programs)
	mux.HandleFunc("/v1/sessions", h.sessions)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	status := h.engine.Status()
	resp := SyncStatusView{
		PendingSessions: status.PendingSessions,
		Health:          status.Health,
		HealthPercent:   status.HealthPercent(),
		InFlight:        status.InFlight,
		Description:     status.Description(),
	}
	if !status.LastSync.IsZero() {
		last := status.LastSync
		resp.LastSync = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) syncRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	// Fire and forget: the refresh resolves asynchronously, the status
	// endpoint reflects the outcome.
	h.engine.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func (h *Handler) programs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	catalog := h.engine.LoadCatalog()
	writeJSON(w, http.StatusOK, ProgramsResponse{Count: len(catalog), Items: catalog})
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	history := h.engine.Sessions()
	writeJSON(w, http.StatusOK, SessionsResponse{Count: len(history), Items: history})
}

// SyncStatusView is the response body for GET /v1/sync/status.
type SyncStatusView struct {
	LastSync        *time.Time `json:"last_sync,omitempty"`
	PendingSessions int        `json:"pending_sessions"`
	Health          float64    `json:"health"`
	HealthPercent   int        `json:"health_percent"`
	InFlight        bool       `json:"in_flight"`
	Description     string     `json:"description"`
}

// ProgramsResponse packages the catalog listing.
type ProgramsResponse struct {
	Count int              `json:"count"`
	Items []domain.Program `json:"items"`
}

// SessionsResponse packages the session history listing.
type SessionsResponse struct {
	Count int              `json:"count"`
	Items []domain.Session `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
