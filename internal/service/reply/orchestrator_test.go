package reply

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindcare/backend/internal/analysis/safety"
	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/mindcare/backend/internal/service/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/emotion"
	"github.com/zhouzirui/mindcare/backend/internal/store/memory"
)

type recordingGenerator struct {
	reply   string
	err     error
	calls   atomic.Int32
	prompts []string
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(string) safety.Verdict {
	panic("regex engine exploded")
}

func (panickingClassifier) MatchedPattern(string) (string, bool) {
	panic("regex engine exploded")
}

type fixture struct {
	orch      *Orchestrator
	sessions  *chatservice.Service
	generator *recordingGenerator
	emotions  *atomic.Int32
}

func newFixture(t *testing.T, label string, classifier SafetyClassifier) *fixture {
	t.Helper()

	if classifier == nil {
		def, err := safety.NewDefaultClassifier()
		require.NoError(t, err)
		classifier = def
	}

	var emotionCalls atomic.Int32
	detector := emotion.NewService(func(context.Context) (emotion.Classifier, error) {
		return emotion.ClassifierFunc(func(context.Context, string) (string, error) {
			emotionCalls.Add(1)
			return label, nil
		}), nil
	}, emotion.Config{}, nil)

	sessions := chatservice.NewService(memory.New(), chatservice.Options{})
	gen := &recordingGenerator{reply: "  That's wonderful to hear! What made it great?  "}

	return &fixture{
		orch:      NewOrchestrator(classifier, detector, sessions, gen, nil),
		sessions:  sessions,
		generator: gen,
		emotions:  &emotionCalls,
	}
}

func TestNewSessionNormalMessage(t *testing.T) {
	f := newFixture(t, "Joy", nil)
	ctx := context.Background()

	resp, err := f.orch.Handle(ctx, Request{Text: "I had a great day at work", UserID: "u1"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "That's wonderful to hear! What made it great?", resp.Reply)
	require.NotNil(t, resp.Emotion)
	assert.Equal(t, "joy", *resp.Emotion)
	require.NotNil(t, resp.Title)
	assert.Equal(t, chatservice.Truncate(resp.Reply, 50), *resp.Title)
	assert.Equal(t, safety.Normal, resp.Verdict)

	require.Len(t, f.generator.prompts, 1)
	prompt := f.generator.prompts[0]
	assert.Contains(t, prompt, "Be cheerful and encouraging.")
	assert.True(t, strings.HasSuffix(prompt, "User (joy): I had a great day at work"))

	history, err := f.sessions.History(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	require.NotNil(t, history[0].Emotion)
	assert.Equal(t, "joy", *history[0].Emotion)
	assert.Equal(t, chat.RoleBot, history[1].Role)
	assert.Equal(t, resp.Reply, history[1].Content)
}

func TestCrisisMessageSkipsGeneration(t *testing.T) {
	f := newFixture(t, "sadness", nil)
	ctx := context.Background()

	resp, err := f.orch.Handle(ctx, Request{Text: "I want to kill myself"})
	require.NoError(t, err)

	assert.Equal(t, CrisisText, resp.Reply)
	assert.Contains(t, resp.Reply, "AASRA (91-9820466726)")
	assert.Nil(t, resp.Emotion)
	assert.Equal(t, safety.Crisis, resp.Verdict)
	require.NotNil(t, resp.Title)
	assert.Equal(t, chatservice.Truncate(CrisisText, 50), *resp.Title)
	assert.Zero(t, f.generator.calls.Load())
	assert.Zero(t, f.emotions.Load())

	history, err := f.sessions.History(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].Emotion)
	assert.Equal(t, CrisisText, history[1].Content)
}

func TestCrisisTakesPrecedenceOverIrrelevantTopic(t *testing.T) {
	f := newFixture(t, "neutral", nil)

	resp, err := f.orch.Handle(context.Background(), Request{Text: "I feel hopeless even when cooking"})
	require.NoError(t, err)
	assert.Equal(t, safety.Crisis, resp.Verdict)
	assert.Equal(t, CrisisText, resp.Reply)
	assert.Zero(t, f.generator.calls.Load())
}

func TestExistingSessionKeepsTitleAndUsesContext(t *testing.T) {
	f := newFixture(t, "neutral", nil)
	ctx := context.Background()

	first, err := f.orch.Handle(ctx, Request{Text: "hello"})
	require.NoError(t, err)
	require.NotNil(t, first.Title)

	f.generator.reply = "A completely different reply that should not become the title."
	second, err := f.orch.Handle(ctx, Request{SessionID: first.SessionID, Text: "tell me more"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, *first.Title, *second.Title)

	require.Len(t, f.generator.prompts, 2)
	prompt := f.generator.prompts[1]
	assert.Contains(t, prompt, "Recent conversation:\nUser: hello\nBot: "+first.Reply+"\n\nUser (neutral): tell me more")
	assert.Contains(t, prompt, "Be supportive and kind.")

	history, err := f.sessions.History(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestEmptyMessageCreatesNothing(t *testing.T) {
	f := newFixture(t, "joy", nil)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.orch.Handle(ctx, Request{Text: text, UserID: "u1"})
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}

	list, err := f.sessions.ListSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, f.generator.calls.Load())
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, "joy", nil)

	_, err := f.orch.Handle(context.Background(), Request{SessionID: "nope", Text: "hi"})
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
	assert.Zero(t, f.generator.calls.Load())
}

func TestGenerationFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, "joy", nil)
	ctx := context.Background()

	session, err := f.sessions.GetOrCreate(ctx, "", "")
	require.NoError(t, err)

	cause := errors.New("model unavailable")
	f.generator.err = cause
	_, err = f.orch.Handle(ctx, Request{SessionID: session.Token, Text: "hi there"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, cause)

	history, err := f.sessions.History(ctx, session.Token)
	require.NoError(t, err)
	assert.Empty(t, history)

	got, err := f.sessions.GetOrCreate(ctx, session.Token, "")
	require.NoError(t, err)
	assert.Nil(t, got.Title)
}

func TestFailedFirstReplyLeavesNoSession(t *testing.T) {
	f := newFixture(t, "joy", nil)
	ctx := context.Background()

	f.generator.err = errors.New("model down")
	_, err := f.orch.Handle(ctx, Request{Text: "hello there", UserID: "u1"})
	assert.ErrorIs(t, err, ErrGenerationFailed)

	list, err := f.sessions.ListSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)

	// The next attempt starts cleanly and is the only stored session.
	f.generator.err = nil
	resp, err := f.orch.Handle(ctx, Request{Text: "hello there", UserID: "u1"})
	require.NoError(t, err)

	list, err = f.sessions.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, resp.SessionID, list[0].Token)
	assert.Equal(t, *resp.Title, list[0].Title)
}

func TestBlankReplyIsGenerationFailure(t *testing.T) {
	f := newFixture(t, "joy", nil)
	f.generator.reply = "  \n "

	_, err := f.orch.Handle(context.Background(), Request{Text: "hi"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestClassifierPanicFailsClosed(t *testing.T) {
	f := newFixture(t, "joy", panickingClassifier{})

	resp, err := f.orch.Handle(context.Background(), Request{Text: "what a lovely day"})
	require.NoError(t, err)
	assert.Equal(t, safety.Crisis, resp.Verdict)
	assert.Equal(t, CrisisText, resp.Reply)
	assert.Zero(t, f.generator.calls.Load())
}

func TestIrrelevantTopicStillGenerates(t *testing.T) {
	f := newFixture(t, "neutral", nil)

	resp, err := f.orch.Handle(context.Background(), Request{Text: "any good pasta recipe for tonight?"})
	require.NoError(t, err)
	assert.Equal(t, safety.Irrelevant, resp.Verdict)
	assert.Equal(t, int32(1), f.generator.calls.Load())
	require.NotNil(t, resp.Emotion)
	assert.Equal(t, "neutral", *resp.Emotion)
}

func TestDegradedEmotionFallsBackToNeutral(t *testing.T) {
	def, err := safety.NewDefaultClassifier()
	require.NoError(t, err)

	detector := emotion.NewService(func(context.Context) (emotion.Classifier, error) {
		return nil, errors.New("model download failed")
	}, emotion.Config{}, nil)
	sessions := chatservice.NewService(memory.New(), chatservice.Options{})
	gen := &recordingGenerator{reply: "I'm listening."}
	orch := NewOrchestrator(def, detector, sessions, ai.Generator(gen), nil)

	resp, err := orch.Handle(context.Background(), Request{Text: "today was okay"})
	require.NoError(t, err)
	require.NotNil(t, resp.Emotion)
	assert.Equal(t, emotion.Neutral, *resp.Emotion)
	assert.Contains(t, gen.prompts[0], "User (neutral): today was okay")
}

func TestLexiconConversationFlow(t *testing.T) {
	def, err := safety.NewDefaultClassifier()
	require.NoError(t, err)

	detector := emotion.NewService(emotion.LexiconFactory(), emotion.Config{}, nil)
	sessions := chatservice.NewService(memory.New(), chatservice.Options{})
	gen := &recordingGenerator{reply: "So glad to hear it! What made today feel great?"}
	orch := NewOrchestrator(def, detector, sessions, gen, nil)
	ctx := context.Background()

	t.Run("crisis", func(t *testing.T) {
		resp, err := orch.Handle(ctx, Request{Text: "I want to end it all"})
		require.NoError(t, err)
		assert.Equal(t, safety.Crisis, resp.Verdict)
		assert.Equal(t, CrisisText, resp.Reply)
		assert.Nil(t, resp.Emotion)
		require.NotNil(t, resp.Title)
		assert.Equal(t, chatservice.Truncate(CrisisText, 50), *resp.Title)
		assert.Zero(t, gen.calls.Load())
	})

	var first Response
	t.Run("new session", func(t *testing.T) {
		first, err = orch.Handle(ctx, Request{Text: "I'm feeling great today!"})
		require.NoError(t, err)
		assert.NotEmpty(t, first.SessionID)
		require.NotNil(t, first.Emotion)
		assert.Equal(t, "joy", *first.Emotion)
		assert.NotEmpty(t, first.Reply)
		require.NotNil(t, first.Title)
		assert.Equal(t, chatservice.Truncate(first.Reply, 50), *first.Title)
	})

	t.Run("follow up", func(t *testing.T) {
		require.NotEmpty(t, first.SessionID)
		gen.reply = "I'm happy it helped. I'm here whenever you want to talk."

		second, err := orch.Handle(ctx, Request{SessionID: first.SessionID, Text: "thanks, that helped"})
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, second.SessionID)
		require.NotNil(t, second.Title)
		assert.Equal(t, *first.Title, *second.Title)

		prompt := gen.prompts[len(gen.prompts)-1]
		assert.Contains(t, prompt, "Recent conversation:\nUser: I'm feeling great today!\nBot: "+first.Reply+
			"\n\nUser (joy): thanks, that helped")

		history, err := sessions.History(ctx, first.SessionID)
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, "thanks, that helped", history[2].Content)
	})
}
