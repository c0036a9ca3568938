package chat

import (
	"context"
	"iter"
	"slices"

	"github.com/pkg/errors"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/store"
)

// Turn is one entry of a context window.
type Turn struct {
	Role    chat.Role
	Content string
}

// Line renders the turn as "Role: content".
func (t Turn) Line() string {
	return t.Role.Label() + ": " + t.Content
}

// Window is an ordered, oldest-first snapshot of recent turns.
type Window struct {
	turns []Turn
}

// Turns yields the snapshot in chronological order. It can be ranged over repeatedly.
func (w Window) Turns() iter.Seq[Turn] {
	return func(yield func(Turn) bool) {
		for _, t := range w.turns {
			if !yield(t) {
				return
			}
		}
	}
}

// Lines returns one rendered line per turn.
func (w Window) Lines() []string {
	lines := make([]string, 0, len(w.turns))
	for t := range w.Turns() {
		lines = append(lines, t.Line())
	}
	return lines
}

func (w Window) Len() int {
	return len(w.turns)
}

// BuildContext returns at most limit of the most recent messages, oldest first.
// A limit below 1 falls back to the configured default.
func (s *Service) BuildContext(ctx context.Context, token string, limit int) (Window, error) {
	if limit < 1 {
		limit = s.contextLimit
	}

	recent, err := s.store.RecentMessages(ctx, token, limit)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return Window{}, ErrSessionNotFound
		}
		return Window{}, errors.Wrap(err, "load recent messages")
	}

	// 存储按时间倒序返回，这里翻转成正序
	slices.Reverse(recent)
	turns := make([]Turn, 0, len(recent))
	for _, msg := range recent {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return Window{turns: turns}, nil
}
