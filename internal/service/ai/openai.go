package ai

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig selects an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// OpenAIGenerator calls the chat completions API directly.
type OpenAIGenerator struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *zap.SugaredLogger
}

// NewOpenAIGenerator builds a generator for cfg.
func NewOpenAIGenerator(cfg OpenAIConfig, log *zap.SugaredLogger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		log:    log.With("component", "openai"),
	}, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if g.cfg.Temperature != nil {
		req.Temperature = float32(*g.cfg.Temperature)
	}
	if g.cfg.TopP != nil {
		req.TopP = float32(*g.cfg.TopP)
	}
	if g.cfg.MaxTokens != nil {
		req.MaxTokens = *g.cfg.MaxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.log.Debugw("generated reply", "model", g.cfg.Model, "length", len(reply), "tokens", resp.Usage.TotalTokens)
	return reply, nil
}

var _ Generator = (*OpenAIGenerator)(nil)
