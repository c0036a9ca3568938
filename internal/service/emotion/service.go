// Package emotion adapts an external emotion classifier for the reply path. The
// adapter never fails a request: any backend problem degrades to the neutral label.
package emotion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Neutral is returned whenever classification cannot produce a label.
const Neutral = "neutral"

// Classifier is the external emotion classification collaborator.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (string, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Factory constructs the classifier. It runs at most once per Service.
type Factory func(ctx context.Context) (Classifier, error)

// Config 控制情绪分析适配器的行为。
type Config struct {
	// Timeout bounds a single classification call. Zero disables the bound.
	Timeout time.Duration
}

// Result is the outcome of one detection. Label is never empty.
type Result struct {
	Label    string
	Degraded bool
	Err      error
}

// Service owns the process-lifetime classifier instance.
type Service struct {
	factory Factory
	cfg     Config
	log     *zap.SugaredLogger

	once       sync.Once
	classifier Classifier
	initErr    error
}

// NewService creates the adapter. The classifier is built lazily on first Detect.
func NewService(factory Factory, cfg Config, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{
		factory: factory,
		cfg:     cfg,
		log:     log.With("component", "emotion"),
	}
}

// Detect classifies text and normalizes the label to lower case.
func (s *Service) Detect(ctx context.Context, text string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = degraded(fmt.Errorf("emotion classifier panic: %v", r))
			s.log.Warnw("classifier panicked, using neutral", "panic", r)
		}
	}()

	classifier, err := s.instance(ctx)
	if err != nil {
		s.log.Warnw("classifier unavailable, using neutral", "error", err)
		return degraded(err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	label, err := classifier.Classify(ctx, text)
	if err != nil {
		s.log.Warnw("classifier failed, using neutral", "error", err)
		return degraded(err)
	}

	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return degraded(fmt.Errorf("emotion classifier returned an empty label"))
	}
	return Result{Label: label}
}

// instance builds the classifier exactly once. Construction is detached from the
// caller's cancellation so one aborted request cannot poison the shared instance.
func (s *Service) instance(ctx context.Context) (Classifier, error) {
	s.once.Do(func() {
		if s.factory == nil {
			s.initErr = fmt.Errorf("emotion classifier factory not configured")
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.initErr = fmt.Errorf("emotion classifier construction panic: %v", r)
				}
			}()
			s.classifier, s.initErr = s.factory(context.WithoutCancel(ctx))
		}()
		if s.initErr == nil && s.classifier == nil {
			s.initErr = fmt.Errorf("emotion classifier factory returned nil")
		}
		if s.initErr == nil {
			s.log.Info("emotion classifier initialized")
		}
	})
	return s.classifier, s.initErr
}

func degraded(err error) Result {
	return Result{Label: Neutral, Degraded: true, Err: err}
}
