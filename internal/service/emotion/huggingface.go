package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHuggingFaceURL points at the hosted distilroberta emotion model.
const DefaultHuggingFaceURL = "https://api-inference.huggingface.co/models/j-hartmann/emotion-english-distilroberta-base"

// HuggingFaceClassifier calls a hosted text-classification endpoint that answers
// with [[{"label": ..., "score": ...}, ...]].
type HuggingFaceClassifier struct {
	url    string
	token  string
	client *http.Client
}

// NewHuggingFaceClassifier creates the HTTP classifier. An empty url uses
// DefaultHuggingFaceURL.
func NewHuggingFaceClassifier(url, token string, timeout time.Duration) *HuggingFaceClassifier {
	if strings.TrimSpace(url) == "" {
		url = DefaultHuggingFaceURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HuggingFaceClassifier{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// HuggingFaceFactory returns a Factory for the HTTP classifier.
func HuggingFaceFactory(url, token string, timeout time.Duration) Factory {
	return func(context.Context) (Classifier, error) {
		return NewHuggingFaceClassifier(url, token, timeout), nil
	}
}

type hfScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify implements Classifier.
func (c *HuggingFaceClassifier) Classify(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("huggingface request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("huggingface read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("huggingface status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return parseHuggingFaceScores(raw)
}

// parseHuggingFaceScores accepts both the nested and the flat list shapes.
func parseHuggingFaceScores(raw []byte) (string, error) {
	var nested [][]hfScore
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 {
		return topLabel(nested[0])
	}

	var flat []hfScore
	if err := json.Unmarshal(raw, &flat); err != nil {
		return "", fmt.Errorf("malformed classifier output: %w", err)
	}
	return topLabel(flat)
}

func topLabel(scores []hfScore) (string, error) {
	if len(scores) == 0 {
		return "", fmt.Errorf("classifier returned no labels")
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	if best.Label == "" {
		return "", fmt.Errorf("classifier returned an empty label")
	}
	return best.Label, nil
}
