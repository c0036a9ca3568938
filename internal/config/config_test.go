package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LLM_PROVIDER",
		"EMOTION_PROVIDER", "EMOTION_TIMEOUT", "CHAT_CONTEXT_LIMIT", "CHAT_TITLE_LIMIT",
		"STORE_DRIVER", "REDIS_ADDR", "REDIS_LOCK_TTL", "JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, defaultCORSOrigins, cfg.Server.CORSOrigins)
	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.Equal(t, EmotionLexicon, cfg.Emotion.Provider)
	assert.Equal(t, 5*time.Second, cfg.Emotion.Timeout)
	assert.Equal(t, 6, cfg.Chat.ContextLimit)
	assert.Equal(t, 50, cfg.Chat.TitleLimit)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMOTION_PROVIDER", "huggingface")
	t.Setenv("EMOTION_TIMEOUT", "750ms")
	t.Setenv("CHAT_CONTEXT_LIMIT", "0")
	t.Setenv("CHAT_TITLE_LIMIT", "40")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, EmotionHuggingFace, cfg.Emotion.Provider)
	assert.Equal(t, 750*time.Millisecond, cfg.Emotion.Timeout)
	assert.Equal(t, 6, cfg.Chat.ContextLimit)
	assert.Equal(t, 40, cfg.Chat.TitleLimit)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":             "80 80",
		"LLM_PROVIDER":     "gemini",
		"EMOTION_PROVIDER": "vibes",
		"EMOTION_TIMEOUT":  "soon",
		"STORE_DRIVER":     "mongo",
		"RATE_LIMIT_RPS":   "fast",
		"REDIS_LOCK_TTL":   "10",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	_, err := Load()
	assert.Error(t, err)
}
