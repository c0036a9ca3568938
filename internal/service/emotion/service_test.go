package emotion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticFactory(c Classifier) Factory {
	return func(context.Context) (Classifier, error) { return c, nil }
}

func TestDetectNormalizesLabel(t *testing.T) {
	svc := NewService(staticFactory(ClassifierFunc(func(context.Context, string) (string, error) {
		return "  JOY ", nil
	})), Config{}, nil)

	res := svc.Detect(context.Background(), "I'm feeling great today!")
	assert.Equal(t, "joy", res.Label)
	assert.False(t, res.Degraded)
	assert.NoError(t, res.Err)
}

func TestDetectKeepsUnknownLabels(t *testing.T) {
	svc := NewService(staticFactory(ClassifierFunc(func(context.Context, string) (string, error) {
		return "Optimism", nil
	})), Config{}, nil)

	assert.Equal(t, "optimism", svc.Detect(context.Background(), "hi").Label)
}

func TestDetectFallsBackToNeutral(t *testing.T) {
	cases := map[string]Factory{
		"classify error": staticFactory(ClassifierFunc(func(context.Context, string) (string, error) {
			return "", errors.New("model unavailable")
		})),
		"empty label": staticFactory(ClassifierFunc(func(context.Context, string) (string, error) {
			return "   ", nil
		})),
		"classify panic": staticFactory(ClassifierFunc(func(context.Context, string) (string, error) {
			panic("boom")
		})),
		"factory error": func(context.Context) (Classifier, error) {
			return nil, errors.New("weights missing")
		},
		"factory panic": func(context.Context) (Classifier, error) {
			panic("bad init")
		},
		"factory nil": func(context.Context) (Classifier, error) {
			return nil, nil
		},
		"no factory": nil,
	}

	for name, factory := range cases {
		t.Run(name, func(t *testing.T) {
			svc := NewService(factory, Config{}, nil)
			var res Result
			require.NotPanics(t, func() {
				res = svc.Detect(context.Background(), "hello")
			})
			assert.Equal(t, Neutral, res.Label)
			assert.True(t, res.Degraded)
			assert.Error(t, res.Err)
		})
	}
}

func TestDetectTimeoutDegrades(t *testing.T) {
	svc := NewService(staticFactory(ClassifierFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})), Config{Timeout: 10 * time.Millisecond}, nil)

	res := svc.Detect(context.Background(), "hello")
	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestClassifierConstructedOnceUnderConcurrency(t *testing.T) {
	var builds atomic.Int32
	factory := func(context.Context) (Classifier, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return LexiconClassifier{}, nil
	}
	svc := NewService(factory, Config{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Detect(context.Background(), "I'm feeling great today!")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
}

func TestCancelledFirstCallerDoesNotPoisonInstance(t *testing.T) {
	factory := func(ctx context.Context) (Classifier, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return LexiconClassifier{}, nil
	}
	svc := NewService(factory, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Detect(ctx, "hello")

	res := svc.Detect(context.Background(), "I'm feeling great today!")
	assert.False(t, res.Degraded)
	assert.Equal(t, "joy", res.Label)
}

func TestLexiconClassifier(t *testing.T) {
	svc := NewService(LexiconFactory(), Config{}, nil)
	assert.Equal(t, "joy", svc.Detect(context.Background(), "I'm feeling great today!").Label)
	assert.Equal(t, "neutral", svc.Detect(context.Background(), "I went to the office").Label)
}

func TestParseClassifierOutput(t *testing.T) {
	label, err := parseClassifierOutput("sure: {\"emotion\": \"sadness\"}")
	require.NoError(t, err)
	assert.Equal(t, "sadness", label)

	_, err = parseClassifierOutput("no json here")
	assert.Error(t, err)

	_, err = parseClassifierOutput(`{"emotion": ""}`)
	assert.Error(t, err)
}

func TestHuggingFaceClassifierPicksTopScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[[{"label":"sadness","score":0.1},{"label":"joy","score":0.85},{"label":"neutral","score":0.05}]]`))
	}))
	defer srv.Close()

	c := NewHuggingFaceClassifier(srv.URL, "secret", time.Second)
	label, err := c.Classify(context.Background(), "I'm feeling great today!")
	require.NoError(t, err)
	assert.Equal(t, "joy", label)
}

func TestHuggingFaceClassifierErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := NewService(HuggingFaceFactory(srv.URL, "", time.Second), Config{}, nil)
	res := svc.Detect(context.Background(), "hello")
	assert.True(t, res.Degraded)
	assert.Equal(t, Neutral, res.Label)

	_, err := parseHuggingFaceScores([]byte(`{"error":"bad"}`))
	assert.Error(t, err)

	label, err := parseHuggingFaceScores([]byte(`[{"label":"fear","score":0.9}]`))
	require.NoError(t, err)
	assert.Equal(t, "fear", label)
}
