package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Generator produces a reply for a fully composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Service runs prompts through an eino chain over a chat model.
type Service struct {
	chatModel model.ChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
	log       *zap.SugaredLogger
}

// NewService compiles the generation chain over chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, log *zap.SugaredLogger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	// prompt 作为变量传入，用户文本里的花括号不会被模板解析
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{prompt}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		chain:     runnable,
		log:       log.With("component", "ai"),
	}, nil
}

// Generate implements Generator.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", fmt.Errorf("AI chain returned no message")
	}

	reply := strings.TrimSpace(response.Content)
	s.log.Debugw("generated reply", "length", len(reply))
	return reply, nil
}

// ChatModel returns the underlying model, shared with the llm emotion classifier.
func (s *Service) ChatModel() model.ChatModel {
	return s.chatModel
}

var _ Generator = (*Service)(nil)
