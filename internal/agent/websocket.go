package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/ledgerchat/internal/identity"
	"github.com/coder/websocket"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves chat turns over a websocket. Each text frame is a
// ChatRequest (or a ping) and is answered with one frame.
type WebSocketHandler struct {
	chat          *Handler
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a websocket handler that shares the chat
// handler's service, rate limiter and conversation log.
func NewWebSocketHandler(chat *Handler, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		chat:          chat,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is an inbound frame.
type wsMessage struct {
	Type string `json:"type,omitempty"`
	ChatRequest
}

// wsReply is an outbound frame.
type wsReply struct {
	Type     string    `json:"type"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.chat.logger.With("ip", identity.IPFromRequest(r))
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	h.readLoop(ctx, ws, logger, chiMiddleware.GetReqID(r.Context()))
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop answers frames in order; the next frame is not read until the
// current turn has been answered.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, logger *slog.Logger, requestID string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			if err := h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "text frames only"}); err != nil {
				return
			}
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		reply := h.handleFrame(ctx, msg, requestID)
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			logger.Debug("WebSocket write error", "error", err)
			return
		}
	}
}

func (h *WebSocketHandler) handleFrame(ctx context.Context, msg wsMessage, requestID string) wsReply {
	if msg.Type == "ping" {
		return wsReply{Type: "pong"}
	}
	if msg.Message == "" {
		return wsReply{Type: "error", Error: "message is required"}
	}

	key, owner := identity.SessionKey(ctx, msg.UserAddress)
	if key == "" {
		return wsReply{Type: "error", Error: "no session identity"}
	}
	if h.chat.rateLimiter != nil && !h.chat.rateLimiter.Allow(key) {
		return wsReply{Type: "error", Error: "rate limit exceeded"}
	}

	resp, err := h.chat.chat(ctx, "chat_ws", key, owner, msg.ChatRequest, requestID)
	if err != nil {
		_, text := statusForError(err)
		return wsReply{Type: "error", Error: text}
	}
	return wsReply{Type: "message", Response: resp}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
