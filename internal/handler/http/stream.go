package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nanami404/meeting-assistant/internal/domain"
	"github.com/nanami404/meeting-assistant/internal/service"
	"github.com/nanami404/meeting-assistant/pkg/httputil"
	"github.com/nanami404/meeting-assistant/pkg/middleware"
)

// heartbeatInterval is how often an SSE comment is written to keep
// intermediaries from timing out an idle stream.
const heartbeatInterval = 30 * time.Second

// StreamHandler serves the live message stream over Server-Sent Events.
type StreamHandler struct {
	auth     *service.AuthService
	messages *service.MessageService
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(auth *service.AuthService, messages *service.MessageService, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{auth: auth, messages: messages, logger: logger}
}

// Stream handles GET /api/v1/messages/stream.
//
// Authentication happens in the handler rather than the shared middleware
// because EventSource clients cannot set headers; the access token may
// arrive either as a bearer header or as a `token` query parameter.
// After the backlog is replayed the handler blocks on the connection's
// frame channel until the client disconnects or the channel is evicted.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	tok := bearerToken(r)
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		writeStreamAuthError(w, "missing access token")
		return
	}

	claims, err := h.auth.VerifyAccess(r.Context(), tok)
	if err != nil {
		writeStreamAuthError(w, "invalid or expired token")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:    "STREAMING_UNSUPPORTED",
				Message: "streaming is not supported by this connection",
			},
		})
		return
	}

	ctx := middleware.WithUserID(r.Context(), claims.UserID)

	conn, backlog, err := h.messages.Connect(ctx, claims.UserID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer h.messages.Disconnect(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	// Unread backlog first, oldest to newest, then live traffic.
	for i := range backlog {
		if !writeFrame(w, flusher, &backlog[i]) {
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			// Evicted server-side: logout, refresh replay, or a slow consumer.
			return
		case frame := <-conn.Frames():
			if !writeFrame(w, flusher, &frame) {
				return
			}
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes one SSE data event. Returns false when the client is gone.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame *domain.Frame) bool {
	payload, err := json.Marshal(frame)
	if err != nil {
		return true
	}
	if _, err := w.Write([]byte("event: message\ndata: ")); err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// bearerToken extracts the token from an Authorization: Bearer header, or
// returns "" when the header is missing or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func writeStreamAuthError(w http.ResponseWriter, message string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: message},
	})
}
