// Package reply decides, for each inbound message, between the crisis path and the
// tone-adapted generation path, and persists the resulting turn.
package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/analysis/safety"
	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/mindcare/backend/internal/service/chat"
	"github.com/zhouzirui/mindcare/backend/internal/service/emotion"
)

var (
	ErrEmptyMessage     = errors.New("empty message not allowed")
	ErrGenerationFailed = errors.New("reply generation failed")
)

// CrisisText is the fixed safe-harbor reply sent whenever distress is detected.
const CrisisText = "It sounds like you're going through a really hard time. " +
	"You’re not alone. Please consider calling someone you trust or " +
	"a helpline like AASRA (91-9820466726). " +
	"I’m here with you. Would you like some breathing or grounding exercises?"

// State names a step of a single message's lifecycle.
type State string

const (
	StateReceived         State = "received"
	StateClassified       State = "classified"
	StateCrisisResponding State = "crisis_responding"
	StateGenerating       State = "generating"
	StatePersisted        State = "persisted"
	StateReturned         State = "returned"
)

// SafetyClassifier is satisfied by *safety.Classifier.
type SafetyClassifier interface {
	Classify(text string) safety.Verdict
	MatchedPattern(text string) (string, bool)
}

// EmotionDetector is satisfied by *emotion.Service.
type EmotionDetector interface {
	Detect(ctx context.Context, text string) emotion.Result
}

// Sessions is satisfied by *chatservice.Service.
type Sessions interface {
	Resolve(ctx context.Context, token, userID string) (chat.Session, error)
	BuildContextFor(ctx context.Context, session chat.Session, limit int) (chatservice.Window, error)
	AppendTurn(ctx context.Context, session chat.Session, user, bot chat.Message) (chat.Session, error)
}

// Request is one inbound user message.
type Request struct {
	SessionID string
	UserID    string
	Text      string
}

// Response is what the caller gets back for a handled message.
type Response struct {
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	Title     *string        `json:"title"`
	Emotion   *string        `json:"emotion,omitempty"`
	Verdict   safety.Verdict `json:"-"`
}

// CrisisReply is the outcome of the crisis path.
type CrisisReply struct {
	Pattern string
}

// GeneratedReply is the outcome of the generation path.
type GeneratedReply struct {
	Text    string
	Emotion emotion.Result
}

// Orchestrator runs the per-message state machine.
type Orchestrator struct {
	safety    SafetyClassifier
	emotion   EmotionDetector
	sessions  Sessions
	generator ai.Generator
	log       *zap.SugaredLogger
}

// NewOrchestrator wires the collaborators together.
func NewOrchestrator(classifier SafetyClassifier, detector EmotionDetector, sessions Sessions, generator ai.Generator, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		safety:    classifier,
		emotion:   detector,
		sessions:  sessions,
		generator: generator,
		log:       log.With("component", "reply"),
	}
}

// Handle processes one message end to end. Nothing is persisted unless a reply was obtained.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(req.Text)
	o.transition(StateReceived, req.SessionID)
	if text == "" {
		return Response{}, ErrEmptyMessage
	}

	session, err := o.sessions.Resolve(ctx, req.SessionID, req.UserID)
	if err != nil {
		return Response{}, err
	}
	token := session.Token

	verdict := o.classify(text)
	o.transition(StateClassified, token, "verdict", verdict)

	var (
		userMsg chat.Message
		botMsg  chat.Message
		label   *string
	)

	switch verdict {
	case safety.Crisis:
		o.transition(StateCrisisResponding, token)
		crisis := o.crisisReply(text)
		o.log.Warnw("crisis detected", "session", token, "pattern", crisis.Pattern)

		userMsg = chat.NewUserMessage(text, "")
		botMsg = chat.NewBotMessage(CrisisText)
	default:
		if verdict == safety.Irrelevant {
			o.log.Infow("off-topic message", "session", token)
		}
		o.transition(StateGenerating, token)

		generated, err := o.generate(ctx, session, text)
		if err != nil {
			o.log.Errorw("generation failed", "session", token, "error", err)
			return Response{}, err
		}

		detected := generated.Emotion.Label
		label = &detected
		userMsg = chat.NewUserMessage(text, detected)
		botMsg = chat.NewBotMessage(generated.Text)
	}

	updated, err := o.sessions.AppendTurn(ctx, session, userMsg, botMsg)
	if err != nil {
		return Response{}, errors.Wrap(err, "persist turn")
	}
	o.transition(StatePersisted, token)

	resp := Response{
		SessionID: token,
		Reply:     botMsg.Content,
		Title:     updated.Title,
		Emotion:   label,
		Verdict:   verdict,
	}
	o.transition(StateReturned, token)
	return resp, nil
}

// classify fails closed: a panicking classifier counts as a crisis.
func (o *Orchestrator) classify(text string) (verdict safety.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorw("safety classifier panicked, treating as crisis", "panic", fmt.Sprint(r))
			verdict = safety.Crisis
		}
	}()
	return o.safety.Classify(text)
}

func (o *Orchestrator) crisisReply(text string) (reply CrisisReply) {
	defer func() {
		if r := recover(); r != nil {
			reply = CrisisReply{Pattern: "unknown"}
		}
	}()
	name, ok := o.safety.MatchedPattern(text)
	if !ok {
		name = "unknown"
	}
	return CrisisReply{Pattern: name}
}

func (o *Orchestrator) generate(ctx context.Context, session chat.Session, text string) (GeneratedReply, error) {
	token := session.Token
	detected := o.emotion.Detect(ctx, text)
	if detected.Degraded {
		o.log.Warnw("emotion classification degraded", "session", token, "error", detected.Err)
	}

	window, err := o.sessions.BuildContextFor(ctx, session, 0)
	if err != nil {
		return GeneratedReply{}, errors.Wrap(err, "build context")
	}

	prompt := ai.Compose(detected.Label, window.Lines(), text)
	out, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return GeneratedReply{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return GeneratedReply{}, errors.Wrap(ErrGenerationFailed, "empty reply")
	}
	return GeneratedReply{Text: out, Emotion: detected}, nil
}

func (o *Orchestrator) transition(state State, token string, kv ...any) {
	o.log.Debugw("state", append([]any{"state", state, "session", token}, kv...)...)
}
