package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindcare/backend/internal/analysis/safety"
	"github.com/zhouzirui/mindcare/backend/internal/middleware"
	"github.com/zhouzirui/mindcare/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/mindcare/backend/internal/service/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/emotion"
	"github.com/zhouzirui/mindcare/backend/internal/service/reply"
	"github.com/zhouzirui/mindcare/backend/internal/store/memory"
)

func setupRouter(t *testing.T, gen ai.Generator) *chi.Mux {
	t.Helper()

	classifier, err := safety.NewDefaultClassifier()
	require.NoError(t, err)
	sessions := chatservice.NewService(memory.New(), chatservice.Options{})
	detector := emotion.NewService(emotion.LexiconFactory(), emotion.Config{}, nil)
	orch := reply.NewOrchestrator(classifier, detector, sessions, gen, nil)

	r := chi.NewRouter()
	r.Use(middleware.Identity("", nil))
	r.Route("/api/chat", New(orch, sessions, nil).RegisterRoutes)
	return r
}

func staticReply(text string) ai.Generator {
	return ai.GeneratorFunc(func(context.Context, string) (string, error) { return text, nil })
}

func postChat(t *testing.T, r http.Handler, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestChatRoundTrip(t *testing.T) {
	r := setupRouter(t, staticReply("Glad to hear that!"))

	rec := postChat(t, r, "u1", map[string]string{"user_message": "I feel happy today"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SessionID string  `json:"session_id"`
		Reply     string  `json:"reply"`
		Title     *string `json:"title"`
		Emotion   *string `json:"emotion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Glad to hear that!", resp.Reply)
	require.NotNil(t, resp.Title)
	assert.Equal(t, "Glad to hear that!", *resp.Title)
	require.NotNil(t, resp.Emotion)
	assert.Equal(t, "joy", *resp.Emotion)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history/"+resp.SessionID, nil)
	hist := httptest.NewRecorder()
	r.ServeHTTP(hist, req)
	require.Equal(t, http.StatusOK, hist.Code)

	var history struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			Role      string  `json:"role"`
			Content   string  `json:"content"`
			Emotion   *string `json:"emotion"`
			CreatedAt string  `json:"created_at"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(hist.Body.Bytes(), &history))
	assert.Equal(t, resp.SessionID, history.SessionID)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "user", history.Messages[0].Role)
	assert.Equal(t, "I feel happy today", history.Messages[0].Content)
	assert.Equal(t, "bot", history.Messages[1].Role)
	assert.NotEmpty(t, history.Messages[1].CreatedAt)

	req = httptest.NewRequest(http.MethodGet, "/api/chat/sessions", nil)
	req.Header.Set(middleware.UserIDHeader, "u1")
	list := httptest.NewRecorder()
	r.ServeHTTP(list, req)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"session_id":"`+resp.SessionID+`"`)
	assert.Contains(t, list.Body.String(), `"last_updated"`)
}

func TestCrisisResponseHasNoEmotion(t *testing.T) {
	r := setupRouter(t, staticReply("should not be used"))

	rec := postChat(t, r, "", map[string]string{"user_message": "I can't go on anymore"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "AASRA")
	assert.NotContains(t, rec.Body.String(), `"emotion"`)
}

func TestChatErrors(t *testing.T) {
	failing := ai.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", context.DeadlineExceeded
	})

	tests := []struct {
		name   string
		gen    ai.Generator
		body   string
		status int
		code   string
	}{
		{name: "empty", gen: staticReply("x"), body: `{"user_message":"   "}`, status: http.StatusBadRequest, code: "EMPTY_MESSAGE"},
		{name: "bad json", gen: staticReply("x"), body: `{`, status: http.StatusBadRequest, code: "INVALID_BODY"},
		{name: "unknown session", gen: staticReply("x"), body: `{"user_message":"hi","session_id":"nope"}`, status: http.StatusNotFound, code: "SESSION_NOT_FOUND"},
		{name: "generation failure", gen: failing, body: `{"user_message":"hi"}`, status: http.StatusBadGateway, code: "GENERATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(t, tt.gen)
			req := httptest.NewRequest(http.MethodPost, "/api/chat/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	r := setupRouter(t, staticReply("x"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/history/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsAnonymousIsEmpty(t *testing.T) {
	r := setupRouter(t, staticReply("x"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
