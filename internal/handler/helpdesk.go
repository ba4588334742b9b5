package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/middleware"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
)

// HelpdeskStatusStore reads and writes the operating status of the desk.
type HelpdeskStatusStore interface {
	HelpdeskStaffed(ctx context.Context) (bool, error)
	SetHelpdeskStaffed(ctx context.Context, staffed bool) error
}

// HelpdeskHandler exposes the operating status of the human desk.
type HelpdeskHandler struct {
	store  HelpdeskStatusStore
	logger *logger.Logger
}

// NewHelpdeskHandler creates a new helpdesk handler.
func NewHelpdeskHandler(st HelpdeskStatusStore, log *logger.Logger) *HelpdeskHandler {
	return &HelpdeskHandler{store: st, logger: log}
}

// Status handles GET /api/v1/helpdesk/status
func (h *HelpdeskHandler) Status(w http.ResponseWriter, r *http.Request) {
	staffed, err := h.store.HelpdeskStaffed(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to read helpdesk status")
		return
	}
	writeJSON(w, http.StatusOK, model.HelpdeskStatus{IsActive: &staffed})
}

// SetStatus handles PUT /api/v1/helpdesk/status
func (h *HelpdeskHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req model.HelpdeskStatus
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateHelpdeskStatus(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SetHelpdeskStaffed(r.Context(), *req.IsActive); err != nil {
		writeServiceError(w, h.logger, err, "failed to update helpdesk status")
		return
	}

	h.logger.Info("helpdesk status changed",
		zap.Bool("is_active", *req.IsActive),
		zap.String("user_id", middleware.GetUserID(r.Context())),
	)
	writeJSON(w, http.StatusOK, req)
}
