package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Emotion EmotionConfig
	Chat    ChatConfig
	Store   StoreConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	emotion, err := loadEmotionConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	redis, err := loadRedisConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Emotion: emotion,
		Chat:    chat,
		Store:   store,
		Redis:   redis,
		Auth:    AuthConfig{JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET"))},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// 与原前端开发环境保持一致
var defaultCORSOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

// loadServerConfig 解析服务器监听地址与中间件参数。
func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}

	rps, err := parseOptionalFloatEnv("RATE_LIMIT_RPS")
	if err != nil {
		return ServerConfig{}, err
	}
	burst, err := parseOptionalIntEnv("RATE_LIMIT_BURST")
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		Addr:           addr,
		CORSOrigins:    parseListEnv("CORS_ORIGINS", defaultCORSOrigins),
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}
	if rps != nil {
		cfg.RateLimitRPS = *rps
	}
	if burst != nil {
		cfg.RateLimitBurst = *burst
	}
	return cfg, nil
}

func parseAddr(raw string) (string, error) {
	port := strings.TrimSpace(raw)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。Provider 为 ark 或 openai。
type AIConfig struct {
	Provider      string
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	BaseURL       string
	Region        string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Enabled 表示当前 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderOpenAI {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
	}, nil
}

// EmotionConfig 描述情绪分类后端。Provider 为 lexicon、llm 或 huggingface。
type EmotionConfig struct {
	Provider string
	HFToken  string
	HFURL    string
	Timeout  time.Duration
}

const (
	EmotionLexicon     = "lexicon"
	EmotionLLM         = "llm"
	EmotionHuggingFace = "huggingface"
)

func loadEmotionConfig() (EmotionConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("EMOTION_PROVIDER", EmotionLexicon))
	switch provider {
	case EmotionLexicon, EmotionLLM, EmotionHuggingFace:
	default:
		return EmotionConfig{}, fmt.Errorf("invalid EMOTION_PROVIDER value %q", provider)
	}

	timeout, err := parseDurationEnv("EMOTION_TIMEOUT", 5*time.Second)
	if err != nil {
		return EmotionConfig{}, err
	}

	return EmotionConfig{
		Provider: provider,
		HFToken:  strings.TrimSpace(os.Getenv("HF_API_TOKEN")),
		HFURL:    strings.TrimSpace(os.Getenv("HF_EMOTION_URL")),
		Timeout:  timeout,
	}, nil
}

// ChatConfig 控制上下文窗口和标题长度。
type ChatConfig struct {
	ContextLimit int
	TitleLimit   int
}

func loadChatConfig() (ChatConfig, error) {
	cfg := ChatConfig{ContextLimit: 6, TitleLimit: 50}

	if limit, err := parseOptionalIntEnv("CHAT_CONTEXT_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if limit != nil && *limit >= 1 {
		cfg.ContextLimit = *limit
	}

	if limit, err := parseOptionalIntEnv("CHAT_TITLE_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if limit != nil && *limit >= 1 {
		cfg.TitleLimit = *limit
	}
	return cfg, nil
}

// StoreConfig 选择会话存储。Driver 为 memory、sqlite 或 postgres。
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

func loadStoreConfig() (StoreConfig, error) {
	cfg := StoreConfig{
		Driver:      strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreMemory)),
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "mindcare.db"),
		PostgresDSN: strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
	}

	switch cfg.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return StoreConfig{}, fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", cfg.Driver)
	}
	return cfg, nil
}

// RedisConfig 为空 Addr 时使用进程内锁。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled 表示是否配置了 Redis。
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func loadRedisConfig() (RedisConfig, error) {
	ttl, err := parseDurationEnv("REDIS_LOCK_TTL", 10*time.Second)
	if err != nil {
		return RedisConfig{}, err
	}

	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return RedisConfig{}, err
	}

	cfg := RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		LockTTL:  ttl,
	}
	if db != nil {
		cfg.DB = *db
	}
	return cfg, nil
}

// AuthConfig 为空 JWTSecret 时信任 X-User-ID 请求头。
type AuthConfig struct {
	JWTSecret string
}

// LogConfig 描述日志级别和输出格式。
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var list []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
