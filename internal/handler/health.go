package handler

import (
	"net/http"

	"guppyrelay/internal/registry"
	"guppyrelay/internal/router"
)

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.Warn(r.Context(), "[GET /healthz] ❌ Store unreachable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Router   router.Stats   `json:"router"`
	Registry registry.Stats `json:"registry"`
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Router:   h.Router.Stats(),
		Registry: h.Registry.Stats(),
	})
}
