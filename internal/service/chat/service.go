package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/store"
)

// ErrSessionNotFound is returned for tokens that do not resolve to a session.
var ErrSessionNotFound = store.ErrSessionNotFound

const (
	DefaultContextLimit = 6
	DefaultTitleLimit   = 50
)

// Options tunes the session manager. Zero values pick the defaults.
type Options struct {
	ContextLimit int
	TitleLimit   int
	Locker       Locker
	Logger       *zap.SugaredLogger
}

// Service owns conversation sessions and is the only writer of their history.
type Service struct {
	store        store.Store
	locker       Locker
	contextLimit int
	titleLimit   int
	log          *zap.SugaredLogger
}

// NewService wires the session manager over st.
func NewService(st store.Store, opts Options) *Service {
	if opts.ContextLimit < 1 {
		opts.ContextLimit = DefaultContextLimit
	}
	if opts.TitleLimit < 1 {
		opts.TitleLimit = DefaultTitleLimit
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &Service{
		store:        st,
		locker:       opts.Locker,
		contextLimit: opts.ContextLimit,
		titleLimit:   opts.TitleLimit,
		log:          opts.Logger.With("component", "chat"),
	}
}

// ContextLimit returns the configured default window size.
func (s *Service) ContextLimit() int {
	return s.contextLimit
}

// Resolve loads the session for token. An empty token mints a draft session that is
// only written together with its first turn, so a failed first reply leaves nothing behind.
func (s *Service) Resolve(ctx context.Context, token, userID string) (chat.Session, error) {
	if token != "" {
		session, err := s.store.GetSession(ctx, token)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				return chat.Session{}, ErrSessionNotFound
			}
			return chat.Session{}, errors.Wrap(err, "load session")
		}
		return session, nil
	}

	session := chat.Session{
		Token:     uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Draft:     true,
	}
	if userID != "" {
		owner := userID
		session.UserID = &owner
	}
	return session, nil
}

// GetOrCreate resolves token, or provisions and stores a new untitled session when token is empty.
func (s *Service) GetOrCreate(ctx context.Context, token, userID string) (chat.Session, error) {
	session, err := s.Resolve(ctx, token, userID)
	if err != nil || !session.Draft {
		return session, err
	}

	session.Draft = false
	created, err := s.store.CreateSession(ctx, session)
	if err != nil {
		return chat.Session{}, errors.Wrap(err, "create session")
	}
	s.log.Debugw("session created", "session", created.Token, "anonymous", created.UserID == nil)
	return created, nil
}

// AppendTurn persists the user/bot pair as one unit and fixes the title from the bot
// reply when the session has none yet. A draft session is created in the same unit.
func (s *Service) AppendTurn(ctx context.Context, session chat.Session, user, bot chat.Message) (chat.Session, error) {
	unlock, err := s.locker.Lock(ctx, session.Token)
	if err != nil {
		return chat.Session{}, errors.Wrap(err, "acquire session lock")
	}
	defer unlock()

	var title string
	if !session.HasTitle() {
		title = Truncate(bot.Content, s.titleLimit)
	}

	if session.Draft {
		draft := session
		draft.Draft = false
		created, err := s.store.CreateSessionWithTurn(ctx, draft, user, bot, title)
		if err != nil {
			return chat.Session{}, errors.Wrap(err, "create session with turn")
		}
		s.log.Debugw("session created", "session", created.Token, "anonymous", created.UserID == nil)
		return created, nil
	}

	updated, err := s.store.AppendTurn(ctx, session.Token, user, bot, title)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return chat.Session{}, ErrSessionNotFound
		}
		return chat.Session{}, errors.Wrap(err, "append turn")
	}
	return updated, nil
}

// BuildContextFor is BuildContext for a resolved session. Drafts have no history yet.
func (s *Service) BuildContextFor(ctx context.Context, session chat.Session, limit int) (Window, error) {
	if session.Draft {
		return Window{}, nil
	}
	return s.BuildContext(ctx, session.Token, limit)
}

// DeriveTitleIfAbsent sets the title from candidate once. Later calls leave it untouched.
func (s *Service) DeriveTitleIfAbsent(ctx context.Context, token, candidate string) (chat.Session, error) {
	title := Truncate(candidate, s.titleLimit)
	if title == "" {
		return s.store.GetSession(ctx, token)
	}
	return s.store.SetTitleIfAbsent(ctx, token, title)
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]chat.Summary, error) {
	if userID == "" {
		return []chat.Summary{}, nil
	}
	list, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return list, nil
}

// History returns the full transcript in chronological order.
func (s *Service) History(ctx context.Context, token string) ([]chat.Message, error) {
	msgs, err := s.store.Messages(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "load history")
	}
	return msgs, nil
}

// Truncate keeps at most n code points of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
