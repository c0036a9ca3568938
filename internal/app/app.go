// Package app assembles the service graph from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/analysis/safety"
	"github.com/zhouzirui/mindcare/backend/internal/config"
	"github.com/zhouzirui/mindcare/backend/internal/service/ai"
	"github.com/zhouzirui/mindcare/backend/internal/service/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/emotion"
	"github.com/zhouzirui/mindcare/backend/internal/service/reply"
	"github.com/zhouzirui/mindcare/backend/internal/store"
	"github.com/zhouzirui/mindcare/backend/internal/store/memory"
	"github.com/zhouzirui/mindcare/backend/internal/store/postgres"
	"github.com/zhouzirui/mindcare/backend/internal/store/sqlite"
)

// App holds the wired services.
type App struct {
	Store        store.Store
	Sessions     *chat.Service
	Safety       *safety.Classifier
	Emotion      *emotion.Service
	Generator    ai.Generator
	Orchestrator *reply.Orchestrator

	redis *redis.Client
	log   *zap.SugaredLogger
}

// Build constructs every collaborator described by cfg.
func Build(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	a := &App{log: log}

	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}
	a.Store = st

	locker, err := a.newLocker(ctx, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Sessions = chat.NewService(st, chat.Options{
		ContextLimit: cfg.Chat.ContextLimit,
		TitleLimit:   cfg.Chat.TitleLimit,
		Locker:       locker,
		Logger:       log,
	})

	a.Safety, err = safety.NewDefaultClassifier()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to compile safety patterns: %w", err)
	}

	var chatModel model.ChatModel
	a.Generator, chatModel = newGenerator(ctx, cfg.AI, log)
	a.Emotion = emotion.NewService(emotionFactory(cfg.Emotion, chatModel, log), emotion.Config{Timeout: cfg.Emotion.Timeout}, log)

	a.Orchestrator = reply.NewOrchestrator(a.Safety, a.Emotion, a.Sessions, a.Generator, log)
	return a, nil
}

// Close releases the store and redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warnw("failed to close redis", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.log.Warnw("failed to close store", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.SugaredLogger) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Infow("using sqlite store", "path", cfg.SQLitePath)
		return db, nil
	case config.StorePostgres:
		return postgres.Open(cfg.PostgresDSN, log)
	default:
		log.Info("using in-memory store, conversations are lost on restart")
		return memory.New(), nil
	}
}

func (a *App) newLocker(ctx context.Context, cfg config.RedisConfig) (chat.Locker, error) {
	if !cfg.Enabled() {
		return chat.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.redis = client
	a.log.Infow("redis session lock enabled", "addr", cfg.Addr)
	return chat.NewRedisLocker(client, cfg.LockTTL, a.log), nil
}

// newGenerator picks the configured provider. Without credentials every generation fails,
// which clients see as a 502 while crisis replies keep working.
func newGenerator(ctx context.Context, cfg config.AIConfig, log *zap.SugaredLogger) (ai.Generator, model.ChatModel) {
	if !cfg.Enabled() {
		log.Warnw("LLM credentials missing, replies on the normal path will fail", "provider", cfg.Provider)
		return unavailableGenerator(cfg.Provider), nil
	}

	if cfg.Provider == config.ProviderOpenAI {
		gen, err := ai.NewOpenAIGenerator(ai.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
		}, log)
		if err != nil {
			log.Warnw("failed to initialize openai generator", "error", err)
			return unavailableGenerator(cfg.Provider), nil
		}
		log.Infow("AI service initialized", "provider", cfg.Provider, "model", cfg.OpenAIModel)
		return gen, nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		log.Warnw("failed to create chat model", "error", err)
		return unavailableGenerator(cfg.Provider), nil
	}
	svc, err := ai.NewService(ctx, chatModel, log)
	if err != nil {
		log.Warnw("failed to initialize AI service", "error", err)
		return unavailableGenerator(cfg.Provider), nil
	}
	log.Infow("AI service initialized", "provider", cfg.Provider, "model", cfg.Model)
	return svc, chatModel
}

func unavailableGenerator(provider string) ai.Generator {
	return ai.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%s generator is not configured", provider)
	})
}

func emotionFactory(cfg config.EmotionConfig, chatModel model.ChatModel, log *zap.SugaredLogger) emotion.Factory {
	switch cfg.Provider {
	case config.EmotionHuggingFace:
		return emotion.HuggingFaceFactory(cfg.HFURL, cfg.HFToken, cfg.Timeout)
	case config.EmotionLLM:
		if chatModel == nil {
			log.Warn("EMOTION_PROVIDER=llm needs an ark chat model, falling back to lexicon")
			return emotion.LexiconFactory()
		}
		return emotion.LLMFactory(chatModel)
	default:
		return emotion.LexiconFactory()
	}
}
