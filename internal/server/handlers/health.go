package handlers

import (
	"context"

	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	version string
	store   healthStore
}

type healthStore interface {
	Exists() bool
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(version string, store healthStore) *HealthHandler {
	return &HealthHandler{version: version, store: store}
}

// Health reports "ok", or "degraded" when the database file is missing.
func (h *HealthHandler) Health(ctx context.Context, req *dto.HealthRequest) (*dto.HealthResponse, error) {
	status := "ok"
	if h.store != nil && !h.store.Exists() {
		status = "degraded"
	}
	return &dto.HealthResponse{Status: status, Version: h.version}, nil
}
