package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/authlink/internal/repository"
)

// HealthSource is what the health endpoint probes.
type HealthSource interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (repository.Stats, error)
}

// HealthHandler reports database reachability.
type HealthHandler struct {
	db     HealthSource
	logger *slog.Logger
}

func NewHealthHandler(db HealthSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

// HandleHealth answers 200 with row counts, or 503 when the database does
// not answer within two seconds.
//
// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health: database unreachable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, Response{Status: "error", Message: "Database unavailable"})
		return
	}
	stats, err := h.db.Stats(ctx)
	if err != nil {
		h.logger.Error("health: counting rows", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, Response{Status: "error", Message: "Database unavailable"})
		return
	}
	writeOK(w, http.StatusOK, stats)
}
