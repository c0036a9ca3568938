package emotion

import (
	"context"

	analysis "github.com/zhouzirui/mindcare/backend/internal/analysis/emotion"
)

// LexiconClassifier labels text with the offline keyword analyzer.
type LexiconClassifier struct{}

// Classify implements Classifier.
func (LexiconClassifier) Classify(_ context.Context, text string) (string, error) {
	return string(analysis.Analyze(text).Emotion), nil
}

// LexiconFactory returns a Factory for the keyword analyzer.
func LexiconFactory() Factory {
	return func(context.Context) (Classifier, error) {
		return LexiconClassifier{}, nil
	}
}
