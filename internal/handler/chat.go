// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/middleware"
	"github.com/dokuprime/helpdesk-assistant/internal/model"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
)

// TurnHandler processes one user turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// ChatHandler handles the chat endpoint used by every channel.
type ChatHandler struct {
	chat    TurnHandler
	apology string
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler. apology is returned to the
// user when a turn cannot be completed.
func NewChatHandler(chat TurnHandler, apology string, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:    chat,
		apology: apology,
		logger:  log,
	}
}

// Chat handles POST /api/v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.chat.HandleTurn(r.Context(), req)
	if err != nil {
		log := h.logger.With(
			zap.String("correlation_id", logger.CorrelationID(r.Context())),
			zap.String("conversation_id", req.ConversationID),
			zap.String("platform", req.Platform),
		)
		writeTurnError(w, log, err, h.apology)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
