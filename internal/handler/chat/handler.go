package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/middleware"
	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/mindcare/backend/internal/service/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/reply"
	"github.com/zhouzirui/mindcare/backend/pkg/utils"
)

// Replier is satisfied by *reply.Orchestrator.
type Replier interface {
	Handle(ctx context.Context, req reply.Request) (reply.Response, error)
}

// Sessions is the read side of the session manager.
type Sessions interface {
	History(ctx context.Context, token string) ([]chat.Message, error)
	ListSessions(ctx context.Context, userID string) ([]chat.Summary, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	replier  Replier
	sessions Sessions
	log      *zap.SugaredLogger
}

// New 创建聊天处理器
func New(replier Replier, sessions Sessions, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{replier: replier, sessions: sessions, log: log.With("component", "chat-handler")}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleChat)
	r.Get("/history/{sessionID}", h.handleHistory)
	r.Get("/sessions", h.handleSessions)
}

type chatRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`
}

// handleChat 处理一条用户消息并返回回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	resp, err := h.replier.Handle(r.Context(), reply.Request{
		SessionID: payload.SessionID,
		UserID:    middleware.UserID(r.Context()),
		Text:      payload.UserMessage,
	})
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

type historyResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
}

// handleHistory 返回会话的完整记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "sessionID")

	msgs, err := h.sessions.History(r.Context(), token)
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, historyResponse{SessionID: token, Messages: msgs})
}

// handleSessions 列出当前用户的会话
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.ListSessions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.respondFailure(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, list)
}

func (h *Handler) respondFailure(w http.ResponseWriter, err error) {
	status, code, message := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "status", status, "error", err)
	}
	utils.RespondError(w, status, code, message)
}

// ErrorStatus maps a domain error to its HTTP status, machine code and client message.
func ErrorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, reply.ErrEmptyMessage):
		return http.StatusBadRequest, "EMPTY_MESSAGE", "Empty message not allowed"
	case errors.Is(err, chatservice.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found"
	case errors.Is(err, reply.ErrGenerationFailed):
		return http.StatusBadGateway, "GENERATION_FAILED", "Could not generate a reply, please try again"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED", "request cancelled"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}
