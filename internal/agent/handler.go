package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/ledgerchat/internal/api"
	"github.com/ashureev/ledgerchat/internal/domain"
	"github.com/ashureev/ledgerchat/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// Handler serves the chat API.
type Handler struct {
	service     *Service
	rateLimiter *RateLimiter
	log         ConversationLogger
	logger      *slog.Logger
}

// NewHandler creates a chat handler. A nil conversation logger disables
// conversation logging.
func NewHandler(service *Service, limiter *RateLimiter, convLog ConversationLogger, logger *slog.Logger) *Handler {
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:     service,
		rateLimiter: limiter,
		log:         convLog,
		logger:      logger,
	}
}

// HandleChat handles POST /api/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	key, owner := identity.SessionKey(r.Context(), req.UserAddress)
	if key == "" {
		api.Error(w, http.StatusUnauthorized, "no session identity")
		return
	}
	if h.rateLimiter != nil && !h.rateLimiter.Allow(key) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	resp, err := h.chat(r.Context(), "chat_http", key, owner, req, chiMiddleware.GetReqID(r.Context()))
	if err != nil {
		status, msg := statusForError(err)
		api.Error(w, status, msg)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// chat runs one turn and records both sides of it in the conversation log.
func (h *Handler) chat(ctx context.Context, channel, key, owner string, req ChatRequest, requestID string) (*Response, error) {
	h.logger.Info("Chat request",
		"session_key", key,
		"channel", channel,
		"message_length", len(req.Message),
	)
	h.log.Log(ConversationLogEvent{
		SessionKey: key,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta:       map[string]any{"request_id": requestID},
	})

	start := time.Now()
	resp, err := h.service.Chat(ctx, key, owner, req)
	if err != nil {
		h.logger.Error("Chat turn failed", "session_key", key, "error", err)
		h.log.Log(ConversationLogEvent{
			SessionKey: key,
			Channel:    channel,
			Direction:  "inbound",
			EventType:  "chat_error",
			ContentRaw: err.Error(),
			Meta:       map[string]any{"request_id": requestID},
		})
		return nil, err
	}

	meta := map[string]any{
		"request_id":         requestID,
		"success":            resp.Success,
		"needs_confirmation": resp.NeedsConfirmation,
		"duration_ms":        time.Since(start).Milliseconds(),
	}
	if resp.Error != "" {
		meta["error"] = resp.Error
	}
	if resp.Transaction != nil {
		meta["tx_id"] = resp.Transaction.TxID
		meta["tx_status"] = resp.Transaction.Status
	}
	h.log.Log(ConversationLogEvent{
		SessionKey: key,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: resp.Message,
		Meta:       meta,
	})
	return resp, nil
}

// HandleClear handles POST /api/chat/clear requests.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)

	var req ClearRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	key, _ := identity.SessionKey(r.Context(), req.UserAddress)
	if err := h.service.Clear(r.Context(), key); err != nil {
		status, msg := statusForError(err)
		api.Error(w, status, msg)
		return
	}
	h.log.Log(ConversationLogEvent{
		SessionKey: key,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_cleared",
	})
	api.JSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleSession handles GET /api/chat/session requests.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	key, _ := identity.SessionKey(r.Context(), r.URL.Query().Get("userAddress"))
	summary, err := h.service.Summary(r.Context(), key)
	if err != nil {
		status, msg := statusForError(err)
		api.Error(w, status, msg)
		return
	}
	api.JSON(w, http.StatusOK, summary)
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, string(domain.KindSessionNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, string(domain.KindOf(err))
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/clear", h.HandleClear)
		r.Get("/session", h.HandleSession)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
	if err := h.log.Close(); err != nil {
		h.logger.Warn("failed to close conversation logger", "error", err)
	}
}
