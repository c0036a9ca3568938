package chat

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// Label returns the capitalized role used in prompt context lines.
func (r Role) Label() string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Message is one persisted turn. Seq is a per-session, strictly increasing order key.
type Message struct {
	Seq       int64     `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Emotion   *string   `json:"emotion"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage builds a user turn. An empty emotion leaves the label unset.
func NewUserMessage(content, emotion string) Message {
	msg := Message{Role: RoleUser, Content: content}
	if emotion != "" {
		label := emotion
		msg.Emotion = &label
	}
	return msg
}

// NewBotMessage builds a bot turn.
func NewBotMessage(content string) Message {
	return Message{Role: RoleBot, Content: content}
}
