// Package memory keeps conversations in process memory, suitable for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/store"
)

type record struct {
	session  chat.Session
	messages []chat.Message
}

// Store implements store.Store with maps guarded by a RWMutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	now      func() time.Time
}

// New bootstraps an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*record),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession implements store.Store.
func (s *Store) CreateSession(_ context.Context, session chat.Session) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.Token]; ok {
		return chat.Session{}, store.ErrSessionExists
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	s.sessions[session.Token] = &record{
		session:  cloneSession(session),
		messages: make([]chat.Message, 0, 16),
	}
	return cloneSession(session), nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(_ context.Context, token string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[token]
	if !ok {
		return chat.Session{}, store.ErrSessionNotFound
	}
	return cloneSession(rec.session), nil
}

// AppendTurn implements store.Store. The new history is staged on a copy and swapped
// in only once both messages are valid.
func (s *Store) AppendTurn(_ context.Context, token string, user, bot chat.Message, title string) (chat.Session, error) {
	if err := store.ValidateTurn(user, bot); err != nil {
		return chat.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[token]
	if !ok {
		return chat.Session{}, store.ErrSessionNotFound
	}
	s.appendLocked(rec, user, bot, title)
	return cloneSession(rec.session), nil
}

// CreateSessionWithTurn implements store.Store.
func (s *Store) CreateSessionWithTurn(_ context.Context, session chat.Session, user, bot chat.Message, title string) (chat.Session, error) {
	if err := store.ValidateTurn(user, bot); err != nil {
		return chat.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.Token]; ok {
		return chat.Session{}, store.ErrSessionExists
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	rec := &record{
		session:  cloneSession(session),
		messages: make([]chat.Message, 0, 16),
	}
	s.appendLocked(rec, user, bot, title)
	s.sessions[session.Token] = rec
	return cloneSession(rec.session), nil
}

// appendLocked stages the pair on a copy of the history and swaps it in. Callers hold mu.
func (s *Store) appendLocked(rec *record, user, bot chat.Message, title string) {
	now := s.now()
	next := int64(len(rec.messages))
	staged := make([]chat.Message, len(rec.messages), len(rec.messages)+2)
	copy(staged, rec.messages)
	for _, msg := range []chat.Message{user, bot} {
		next++
		msg.Seq = next
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		staged = append(staged, cloneMessage(msg))
	}

	rec.messages = staged
	if title != "" && rec.session.Title == nil {
		t := title
		rec.session.Title = &t
	}
}

// SetTitleIfAbsent implements store.Store.
func (s *Store) SetTitleIfAbsent(_ context.Context, token, title string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[token]
	if !ok {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if rec.session.Title == nil {
		t := title
		rec.session.Title = &t
	}
	return cloneSession(rec.session), nil
}

// RecentMessages implements store.Store.
func (s *Store) RecentMessages(_ context.Context, token string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	n := len(rec.messages)
	if limit > n {
		limit = n
	}
	out := make([]chat.Message, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, cloneMessage(rec.messages[i]))
	}
	return out, nil
}

// Messages implements store.Store.
func (s *Store) Messages(_ context.Context, token string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	out := make([]chat.Message, len(rec.messages))
	for i, msg := range rec.messages {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(_ context.Context, userID string) ([]chat.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		summary chat.Summary
		created time.Time
	}
	entries := make([]entry, 0)
	for _, rec := range s.sessions {
		if rec.session.UserID == nil || *rec.session.UserID != userID {
			continue
		}
		last := rec.session.CreatedAt
		if n := len(rec.messages); n > 0 {
			last = rec.messages[n-1].CreatedAt
		}
		entries = append(entries, entry{
			summary: chat.Summary{
				Token:       rec.session.Token,
				Title:       rec.session.DisplayTitle(),
				LastUpdated: last,
			},
			created: rec.session.CreatedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.summary.LastUpdated.Equal(b.summary.LastUpdated) {
			return a.summary.LastUpdated.After(b.summary.LastUpdated)
		}
		if !a.created.Equal(b.created) {
			return a.created.After(b.created)
		}
		return a.summary.Token < b.summary.Token
	})

	out := make([]chat.Summary, len(entries))
	for i, e := range entries {
		out[i] = e.summary
	}
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func cloneSession(session chat.Session) chat.Session {
	if session.Title != nil {
		t := *session.Title
		session.Title = &t
	}
	if session.UserID != nil {
		u := *session.UserID
		session.UserID = &u
	}
	return session
}

func cloneMessage(msg chat.Message) chat.Message {
	if msg.Emotion != nil {
		e := *msg.Emotion
		msg.Emotion = &e
	}
	return msg
}

var _ store.Store = (*Store)(nil)
