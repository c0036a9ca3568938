// Package store defines the persistence collaborator for conversations.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Store is an append-only message store keyed by session token.
type Store interface {
	// CreateSession persists a new session. The token must be unused.
	CreateSession(ctx context.Context, session chat.Session) (chat.Session, error)
	GetSession(ctx context.Context, token string) (chat.Session, error)

	// AppendTurn stores user and bot as one consecutive unit and, when title is non-empty
	// and the session has none, sets it in the same unit. Either everything is written
	// or nothing is.
	AppendTurn(ctx context.Context, token string, user, bot chat.Message, title string) (chat.Session, error)

	// CreateSessionWithTurn persists a new session together with its first turn in one
	// unit. It returns ErrSessionExists when the token is taken and writes nothing then.
	CreateSessionWithTurn(ctx context.Context, session chat.Session, user, bot chat.Message, title string) (chat.Session, error)

	// SetTitleIfAbsent sets the title only when unset and returns the current session.
	SetTitleIfAbsent(ctx context.Context, token, title string) (chat.Session, error)

	// RecentMessages returns at most limit messages, newest first.
	RecentMessages(ctx context.Context, token string, limit int) ([]chat.Message, error)

	// Messages returns the whole transcript in append order.
	Messages(ctx context.Context, token string) ([]chat.Message, error)

	// ListSessions returns the user's sessions ordered by latest activity, newest first.
	ListSessions(ctx context.Context, userID string) ([]chat.Summary, error)

	Close() error
}

// ValidateTurn checks the pair before any write happens.
func ValidateTurn(user, bot chat.Message) error {
	if user.Role != chat.RoleUser {
		return errors.Join(ErrInvalidMessage, errors.New("first message of a turn must have role user"))
	}
	if bot.Role != chat.RoleBot {
		return errors.Join(ErrInvalidMessage, errors.New("second message of a turn must have role bot"))
	}
	return nil
}
