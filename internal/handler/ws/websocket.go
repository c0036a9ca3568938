// Package ws serves the chat exchange over a WebSocket connection.
package ws

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chathandler "github.com/zhouzirui/mindcare/backend/internal/handler/chat"
	"github.com/zhouzirui/mindcare/backend/internal/middleware"
	"github.com/zhouzirui/mindcare/backend/internal/service/reply"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 64 << 10
)

// Handler WebSocket聊天处理器
type Handler struct {
	replier     chathandler.Replier
	upgrader    websocket.Upgrader
	readTimeout time.Duration
	log         *zap.SugaredLogger
}

// New 创建WebSocket处理器。origins 为空时不校验 Origin。
func New(replier chathandler.Replier, origins []string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")

	return &Handler{
		replier:     replier,
		readTimeout: readTimeout,
		log:         log.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(origins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// conn 串行化所有写操作，gorilla 只允许一个并发写者
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.Timestamp = time.Now().Unix()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade failed", "error", err)
		return
	}
	defer wsConn.Close()

	c := &conn{ws: wsConn}
	wsConn.SetReadLimit(maxFrameSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.pingLoop(ctx, c)

	h.log.Debugw("connection opened", "anonymous", userID == "")
	_ = c.write(outgoingMessage{Type: "connected"})

	// 未显式指定 sessionId 时沿用本连接上一次的会话
	var current string
	for {
		var msg inboundMessage
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warnw("read error", "error", err)
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))

		if msg.RequestID == "" {
			msg.RequestID = uuid.NewString()
		}

		switch strings.ToLower(msg.Type) {
		case "message":
			if msg.SessionID == "" {
				msg.SessionID = current
			}
			token, ok := h.handleMessage(ctx, c, userID, msg)
			if ok {
				current = token
			}
			// 生成期间不会处理 pong，回复后重新计算读超时
			_ = wsConn.SetReadDeadline(time.Now().Add(h.readTimeout))
		case "ping":
			_ = c.write(outgoingMessage{Type: "pong", RequestID: msg.RequestID})
		default:
			h.sendError(c, msg.RequestID, "UNSUPPORTED_TYPE", "unsupported message type")
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, userID string, msg inboundMessage) (string, bool) {
	resp, err := h.replier.Handle(ctx, reply.Request{
		SessionID: msg.SessionID,
		UserID:    userID,
		Text:      msg.Text,
	})
	if err != nil {
		_, code, message := chathandler.ErrorStatus(err)
		if code == "INTERNAL" || code == "GENERATION_FAILED" {
			h.log.Errorw("reply failed", "session", msg.SessionID, "error", err)
		}
		h.sendError(c, msg.RequestID, code, message)
		return "", false
	}

	if err := c.write(outgoingMessage{Type: "reply", RequestID: msg.RequestID, Data: resp}); err != nil {
		h.log.Warnw("write reply failed", "session", resp.SessionID, "error", err)
	}
	return resp.SessionID, true
}

func (h *Handler) sendError(c *conn, requestID, code, message string) {
	if err := c.write(outgoingMessage{
		Type:      "error",
		RequestID: requestID,
		Data:      errorData{Code: code, Message: message},
	}); err != nil {
		h.log.Warnw("write error frame failed", "error", err)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
