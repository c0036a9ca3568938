package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// LLMClassifier 使用大模型对用户输入做情绪分类。
type LLMClassifier struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMClassifier compiles the classification chain over chatModel.
func NewLLMClassifier(ctx context.Context, chatModel model.ChatModel) (*LLMClassifier, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required for llm emotion classifier")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage("{user_message}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}
	return &LLMClassifier{chain: runnable}, nil
}

// LLMFactory returns a Factory that builds an LLMClassifier on first use.
func LLMFactory(chatModel model.ChatModel) Factory {
	return func(ctx context.Context) (Classifier, error) {
		return NewLLMClassifier(ctx, chatModel)
	}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (string, error) {
	msg, err := c.chain.Invoke(ctx, map[string]any{"user_message": strings.TrimSpace(text)})
	if err != nil {
		return "", fmt.Errorf("emotion classifier invoke: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("emotion classifier returned empty output")
	}
	return parseClassifierOutput(msg.Content)
}

// parseClassifierOutput 解析大模型返回的 JSON，取出 emotion 字段。
func parseClassifierOutput(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("missing json object")
	}

	var payload struct {
		Emotion string `json:"emotion"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.Emotion) == "" {
		return "", fmt.Errorf("missing emotion field")
	}
	return payload.Emotion, nil
}

// classifierSystemPrompt is an FString template, so literal braces are doubled.
const classifierSystemPrompt = "You are an emotion classifier. Read the user's message and label the dominant emotion.\n" +
	"Answer with a single JSON object and nothing else: {{\"emotion\": \"<label>\"}}, where <label> is one of " +
	"anger, disgust, fear, joy, neutral, sadness, surprise."
