package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nanami404/meeting-assistant/internal/service"
	"github.com/nanami404/meeting-assistant/pkg/httputil"
	"github.com/nanami404/meeting-assistant/pkg/middleware"
	"github.com/nanami404/meeting-assistant/pkg/pagination"
	"github.com/nanami404/meeting-assistant/pkg/validator"
)

// MessageHandler handles the inbox endpoints.
type MessageHandler struct {
	messages *service.MessageService
	logger   *slog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *service.MessageService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, logger: logger}
}

// SendMessageRequest is the payload for POST /messages.
type SendMessageRequest struct {
	Title        string   `json:"title" validate:"required,min=1,max=200"`
	Content      string   `json:"content" validate:"required,min=1,max=10000"`
	RecipientIDs []string `json:"recipient_ids" validate:"required,min=1,max=1000"`
}

// Send handles POST /api/v1/messages.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req SendMessageRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	msg, err := h.messages.Send(r.Context(), &service.SendInput{
		SenderID:     middleware.UserIDFromContext(r.Context()),
		Title:        req.Title,
		Content:      req.Content,
		RecipientIDs: req.RecipientIDs,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: msg})
}

// List handles GET /api/v1/messages. Supports page/per_page pagination and
// an optional is_read filter.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	params := pagination.FromRequest(r)

	var isRead *bool
	if raw := r.URL.Query().Get("is_read"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{
					Code:    "INVALID_PARAMETER",
					Message: "is_read must be true or false",
				},
			})
			return
		}
		isRead = &v
	}

	entries, total, err := h.messages.List(r.Context(), userID, params.Offset, params.PerPage, isRead)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK,
		httputil.NewPaginatedResponse(entries, total, params.Page, params.PerPage))
}

// MarkRead handles POST /api/v1/messages/{id}/read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.messages.MarkRead(r.Context(), userID, id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "read"},
	})
}

// MarkAllRead handles POST /api/v1/messages/read-all.
func (h *MessageHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	n, err := h.messages.MarkAllRead(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]int{"updated": n},
	})
}

// Delete handles DELETE /api/v1/messages/{id}.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.messages.Delete(r.Context(), userID, id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "deleted"},
	})
}

// DeleteByKind handles DELETE /api/v1/messages?kind=read|unread|all.
func (h *MessageHandler) DeleteByKind(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	kind := r.URL.Query().Get("kind")

	n, err := h.messages.DeleteByKind(r.Context(), userID, kind)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]int{"deleted": n},
	})
}
