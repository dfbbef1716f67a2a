package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/signdesk/internal/chat"
	"github.com/ashureev/signdesk/internal/identity"
	"github.com/coder/websocket"
)

// wsMessage is a client frame on /ws/chat.
type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Email   string `json:"email,omitempty"`
}

// wsReply is a server frame on /ws/chat.
type wsReply struct {
	Type string `json:"type"`
	chat.TurnResult
	Error string `json:"error,omitempty"`
}

// ChatSocket runs chat turns over a WebSocket. Each text frame is one turn;
// turns on a socket are handled in order.
type ChatSocket struct {
	*Handler
	sockets        *SocketRegistry
	originPatterns []string
}

// NewChatSocket creates the /ws/chat handler.
func NewChatSocket(base *Handler, sockets *SocketRegistry, originPatterns []string) *ChatSocket {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	return &ChatSocket{Handler: base, sockets: sockets, originPatterns: originPatterns}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	if key == "" {
		key = identity.NewSessionKey()
	}
	remoteIP := clientIP(r)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", key)
		}
	}()

	h.sockets.Register(key, ws)
	defer h.sockets.Unregister(key, ws)

	ctx := r.Context()
	if err := writeJSON(ctx, ws, wsReply{Type: "session", TurnResult: chat.TurnResult{SessionKey: key}}); err != nil {
		return
	}
	h.logger.Info("Chat socket opened", "session_id", key, "ip", remoteIP)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", key)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", key)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = wsMessage{Type: "message", Message: string(data)}
		}

		var reply wsReply
		switch msg.Type {
		case "ping":
			reply = wsReply{Type: "pong"}
		case "message", "":
			reply = h.turn(ctx, key, remoteIP, msg)
		default:
			reply = wsReply{Type: "error", Error: "unknown message type"}
		}
		if err := writeJSON(ctx, ws, reply); err != nil {
			h.logger.Debug("Failed to write chat frame", "error", err, "session_id", key)
			return
		}
	}
}

func (h *ChatSocket) turn(ctx context.Context, key, clientIP string, msg wsMessage) wsReply {
	if strings.TrimSpace(msg.Message) == "" {
		return wsReply{Type: "error", Error: "message is required"}
	}
	if !h.limiter.Allow(clientIP) {
		return wsReply{Type: "error", Error: "rate limit exceeded"}
	}
	res, err := h.chat.HandleTurn(ctx, key, msg.Message, msg.Email)
	if err != nil {
		if errors.Is(err, chat.ErrGeneration) {
			return wsReply{Type: "error", TurnResult: res, Error: "response generation failed"}
		}
		return wsReply{Type: "error", Error: err.Error()}
	}
	return wsReply{Type: "reply", TurnResult: res}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
