package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dokuprime/helpdesk-assistant/internal/middleware"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/internal/service"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
)

// ConversationHandler handles conversation and feedback endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  log,
	}
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.Get(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Turns handles GET /api/v1/conversations/{id}/turns
func (h *ConversationHandler) Turns(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Turns(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list turns")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Feedback handles POST /api/v1/turns/{id}/feedback
func (h *ConversationHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || questionID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid turn ID")
		return
	}

	var req model.FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateFeedback(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Feedback(r.Context(), questionID, *req.IsAnswered); err != nil {
		writeServiceError(w, h.logger, err, "failed to record feedback")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
