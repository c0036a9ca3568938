package chat

import "time"

// DefaultTitle is shown for sessions that have not produced a reply yet.
const DefaultTitle = "New Conversation"

// Session captures one titled conversation. Token is the public identifier and is
// independent of any storage key.
type Session struct {
	Token     string    `json:"sessionId"`
	Title     *string   `json:"title"`
	UserID    *string   `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	// Draft marks a session minted in memory and not stored yet. Its first turn creates it.
	Draft bool `json:"-"`
}

// HasTitle reports whether the title has been fixed.
func (s Session) HasTitle() bool {
	return s.Title != nil
}

// Summary is the listing view of a session.
type Summary struct {
	Token       string    `json:"session_id"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"last_updated"`
}

// DisplayTitle returns the title or DefaultTitle when unset.
func (s Session) DisplayTitle() string {
	if s.Title == nil || *s.Title == "" {
		return DefaultTitle
	}
	return *s.Title
}
