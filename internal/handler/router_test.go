package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindcare/backend/internal/analysis/safety"
	"github.com/zhouzirui/mindcare/backend/internal/config"
	"github.com/zhouzirui/mindcare/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/mindcare/backend/internal/service/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/emotion"
	"github.com/zhouzirui/mindcare/backend/internal/service/reply"
	"github.com/zhouzirui/mindcare/backend/internal/store/memory"
)

func newTestRouter(t *testing.T, server config.ServerConfig) http.Handler {
	t.Helper()
	classifier, err := safety.NewDefaultClassifier()
	require.NoError(t, err)
	sessions := chatservice.NewService(memory.New(), chatservice.Options{})
	gen := ai.GeneratorFunc(func(context.Context, string) (string, error) { return "ok", nil })
	orch := reply.NewOrchestrator(classifier, emotion.NewService(emotion.LexiconFactory(), emotion.Config{}, nil), sessions, gen, nil)

	return NewRouter(Deps{Replier: orch, Sessions: sessions, Server: server})
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChatRouteWithoutTrailingSlash(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{CORSOrigins: []string{"http://localhost:5173"}})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"user_message":"hello"}`))
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestRateLimitApplies(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/sessions", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
