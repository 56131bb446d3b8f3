// Package handler provides HTTP handlers for the console API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatdesk/handoff-console/internal/controller"
	"github.com/chatdesk/handoff-console/internal/middleware"
	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/internal/upstream"
	"github.com/chatdesk/handoff-console/pkg/logger"
)

// HandoffHandler exposes the handoff controller to agent front-ends.
type HandoffHandler struct {
	ctrl   *controller.Controller
	logger *logger.Logger
}

// NewHandoffHandler creates a new handoff handler.
func NewHandoffHandler(ctrl *controller.Controller, log *logger.Logger) *HandoffHandler {
	return &HandoffHandler{
		ctrl:   ctrl,
		logger: log,
	}
}

// Pending handles GET /api/v1/handoff/pending
func (h *HandoffHandler) Pending(w http.ResponseWriter, r *http.Request) {
	sessions := h.ctrl.Pending()
	writeJSON(w, http.StatusOK, model.ListSessionsResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// Active handles GET /api/v1/handoff/active
func (h *HandoffHandler) Active(w http.ResponseWriter, r *http.Request) {
	sessions := h.ctrl.Active()
	writeJSON(w, http.StatusOK, model.ListSessionsResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// Accept handles POST /api/v1/handoff/{session_id}/accept
func (h *HandoffHandler) Accept(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.Accept(r.Context(), sessionID); err != nil {
		h.logger.Warn("accept failed",
			zap.Int64("session_id", sessionID), zap.Error(err))
		h.writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     model.StatusHumanActive,
	})
}

// Open handles POST /api/v1/handoff/{session_id}/open
func (h *HandoffHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.Open(sessionID); err != nil {
		h.writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"open":       true,
	})
}

// Reply handles POST /api/v1/handoff/{session_id}/reply
func (h *HandoffHandler) Reply(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The controller verifies the id against the open conversation under
	// its own lock; no check-then-act window here.
	if err := h.ctrl.SendMessage(r.Context(), sessionID, req.Message); err != nil {
		h.writeOpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /api/v1/handoff/{session_id}/close
func (h *HandoffHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.CloseSession(r.Context(), sessionID); err != nil {
		h.logger.Warn("close failed",
			zap.Int64("session_id", sessionID), zap.Error(err))
		h.writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     model.StatusClosed,
	})
}

// Messages handles GET /api/v1/handoff/{session_id}/messages. The open
// conversation is served from the live buffer; any other session gets a
// one-shot bounded history fetch without being selected.
func (h *HandoffHandler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := middleware.ParseSessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if open, ok := h.ctrl.OpenSessionID(); ok && open == sessionID {
		messages, err := h.ctrl.Messages()
		if err != nil {
			h.writeOpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, model.ListMessagesResponse{
			SessionID: sessionID,
			Messages:  messages,
		})
		return
	}

	messages, err := h.ctrl.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, upstream.ErrDegraded) {
			writeJSON(w, http.StatusOK, model.ListMessagesResponse{
				SessionID: sessionID,
				Messages:  []model.Message{},
			})
			return
		}
		h.writeOpError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ListMessagesResponse{
		SessionID: sessionID,
		Messages:  messages,
	})
}

func (h *HandoffHandler) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is empty")
	case errors.Is(err, controller.ErrNoOpenConversation):
		writeError(w, http.StatusConflict, "no conversation selected")
	case errors.Is(err, controller.ErrConversationNotOpen):
		writeError(w, http.StatusConflict, "conversation is not open")
	case errors.Is(err, controller.ErrBusy):
		writeError(w, http.StatusConflict, "operation already in flight")
	case errors.Is(err, upstream.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "session_expired")
	case errors.Is(err, upstream.ErrConflict):
		writeError(w, http.StatusConflict, "session already claimed")
	case errors.Is(err, upstream.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, upstream.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusBadGateway, "upstream error")
	}
}
