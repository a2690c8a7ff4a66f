package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/lukeocodes/mod-gpt/internal/cache"
	natsclient "github.com/lukeocodes/mod-gpt/internal/nats"
	"github.com/lukeocodes/mod-gpt/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	db         *store.DB
	dedupe     *cache.Dedupe
}

// NewHealthHandler creates a new health handler. Any dependency may be
// nil; nil dependencies are skipped in readiness.
func NewHealthHandler(natsClient *natsclient.Client, db *store.DB, dedupe *cache.Dedupe) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		db:         db,
		dedupe:     dedupe,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unreachable",
			})
			return
		}
	}

	if h.dedupe != nil {
		if err := h.dedupe.Healthy(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis unreachable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
