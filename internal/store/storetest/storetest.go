// Package storetest holds the behaviour suite every store.Store implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/store"
)

// Factory returns a fresh, empty store for one sub-test.
type Factory func(t *testing.T) store.Store

// Run executes the suite against the stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateToken", func(t *testing.T) { testDuplicateToken(t, newStore(t)) })
	t.Run("UnknownSession", func(t *testing.T) { testUnknownSession(t, newStore(t)) })
	t.Run("AppendTurnOrdersPairs", func(t *testing.T) { testAppendTurnOrdersPairs(t, newStore(t)) })
	t.Run("AppendTurnTitleOnce", func(t *testing.T) { testAppendTurnTitleOnce(t, newStore(t)) })
	t.Run("RejectsInvalidPair", func(t *testing.T) { testRejectsInvalidPair(t, newStore(t)) })
	t.Run("CreateSessionWithTurn", func(t *testing.T) { testCreateSessionWithTurn(t, newStore(t)) })
	t.Run("CreateSessionWithTurnAllOrNothing", func(t *testing.T) { testCreateSessionWithTurnAllOrNothing(t, newStore(t)) })
	t.Run("SetTitleIfAbsent", func(t *testing.T) { testSetTitleIfAbsent(t, newStore(t)) })
	t.Run("RecentMessagesNewestFirst", func(t *testing.T) { testRecentMessages(t, newStore(t)) })
	t.Run("ListSessionsByActivity", func(t *testing.T) { testListSessions(t, newStore(t)) })
}

func newSession(t *testing.T, s store.Store, userID string) chat.Session {
	t.Helper()
	session := chat.Session{Token: uuid.NewString(), CreatedAt: time.Now().UTC()}
	if userID != "" {
		session.UserID = &userID
	}
	created, err := s.CreateSession(context.Background(), session)
	require.NoError(t, err)
	return created
}

func appendTurn(t *testing.T, s store.Store, token, user, bot, title string) chat.Session {
	t.Helper()
	session, err := s.AppendTurn(context.Background(), token,
		chat.NewUserMessage(user, "joy"), chat.NewBotMessage(bot), title)
	require.NoError(t, err)
	return session
}

func testCreateAndGet(t *testing.T, s store.Store) {
	created := newSession(t, s, "user-1")

	got, err := s.GetSession(context.Background(), created.Token)
	require.NoError(t, err)
	assert.Equal(t, created.Token, got.Token)
	assert.Nil(t, got.Title)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)
	assert.False(t, got.CreatedAt.IsZero())

	anon := newSession(t, s, "")
	got, err = s.GetSession(context.Background(), anon.Token)
	require.NoError(t, err)
	assert.Nil(t, got.UserID)
}

func testDuplicateToken(t *testing.T, s store.Store) {
	created := newSession(t, s, "")
	_, err := s.CreateSession(context.Background(), chat.Session{Token: created.Token})
	assert.ErrorIs(t, err, store.ErrSessionExists)
}

func testUnknownSession(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = s.AppendTurn(ctx, "missing", chat.NewUserMessage("hi", ""), chat.NewBotMessage("hello"), "hello")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = s.RecentMessages(ctx, "missing", 6)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = s.Messages(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	_, err = s.SetTitleIfAbsent(ctx, "missing", "x")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func testAppendTurnOrdersPairs(t *testing.T, s store.Store) {
	session := newSession(t, s, "")
	for i := 1; i <= 3; i++ {
		appendTurn(t, s, session.Token, fmt.Sprintf("u%d", i), fmt.Sprintf("b%d", i), "")
	}

	msgs, err := s.Messages(context.Background(), session.Token)
	require.NoError(t, err)
	require.Len(t, msgs, 6)

	for i, msg := range msgs {
		turn := i/2 + 1
		if i%2 == 0 {
			assert.Equal(t, chat.RoleUser, msg.Role)
			assert.Equal(t, fmt.Sprintf("u%d", turn), msg.Content)
			require.NotNil(t, msg.Emotion)
			assert.Equal(t, "joy", *msg.Emotion)
		} else {
			assert.Equal(t, chat.RoleBot, msg.Role)
			assert.Equal(t, fmt.Sprintf("b%d", turn), msg.Content)
			assert.Nil(t, msg.Emotion)
		}
		if i > 0 {
			assert.Greater(t, msg.Seq, msgs[i-1].Seq)
			assert.False(t, msg.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func testAppendTurnTitleOnce(t *testing.T, s store.Store) {
	session := newSession(t, s, "")

	updated := appendTurn(t, s, session.Token, "u1", "b1", "first title")
	require.NotNil(t, updated.Title)
	assert.Equal(t, "first title", *updated.Title)

	updated = appendTurn(t, s, session.Token, "u2", "b2", "second title")
	require.NotNil(t, updated.Title)
	assert.Equal(t, "first title", *updated.Title)

	got, err := s.GetSession(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, "first title", *got.Title)
}

func testRejectsInvalidPair(t *testing.T, s store.Store) {
	session := newSession(t, s, "")

	bad := chat.Message{Role: chat.Role("system"), Content: "nope"}
	_, err := s.AppendTurn(context.Background(), session.Token, chat.NewUserMessage("hi", ""), bad, "title")
	require.Error(t, err)

	msgs, err := s.Messages(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := s.GetSession(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Nil(t, got.Title)
}

func testCreateSessionWithTurn(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := "owner"
	session := chat.Session{Token: uuid.NewString(), UserID: &owner}

	created, err := s.CreateSessionWithTurn(ctx, session,
		chat.NewUserMessage("hi", "joy"), chat.NewBotMessage("hello"), "hello")
	require.NoError(t, err)
	assert.Equal(t, session.Token, created.Token)
	require.NotNil(t, created.Title)
	assert.Equal(t, "hello", *created.Title)
	assert.False(t, created.CreatedAt.IsZero())

	msgs, err := s.Messages(ctx, session.Token)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleBot, msgs[1].Role)

	list, err := s.ListSessions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hello", list[0].Title)

	// Later turns go through AppendTurn as usual.
	appendTurn(t, s, session.Token, "u2", "b2", "ignored")
	msgs, err = s.Messages(ctx, session.Token)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func testCreateSessionWithTurnAllOrNothing(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := "owner"

	bad := chat.Message{Role: chat.Role("system"), Content: "nope"}
	token := uuid.NewString()
	_, err := s.CreateSessionWithTurn(ctx, chat.Session{Token: token, UserID: &owner},
		chat.NewUserMessage("hi", ""), bad, "title")
	require.Error(t, err)

	_, err = s.GetSession(ctx, token)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	list, err := s.ListSessions(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)

	existing := newSession(t, s, "")
	_, err = s.CreateSessionWithTurn(ctx, chat.Session{Token: existing.Token},
		chat.NewUserMessage("hi", ""), chat.NewBotMessage("hello"), "hello")
	assert.ErrorIs(t, err, store.ErrSessionExists)

	msgs, err := s.Messages(ctx, existing.Token)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testSetTitleIfAbsent(t *testing.T, s store.Store) {
	session := newSession(t, s, "")
	ctx := context.Background()

	got, err := s.SetTitleIfAbsent(ctx, session.Token, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", *got.Title)

	got, err = s.SetTitleIfAbsent(ctx, session.Token, "beta")
	require.NoError(t, err)
	assert.Equal(t, "alpha", *got.Title)
}

func testRecentMessages(t *testing.T, s store.Store) {
	session := newSession(t, s, "")
	for i := 1; i <= 4; i++ {
		appendTurn(t, s, session.Token, fmt.Sprintf("u%d", i), fmt.Sprintf("b%d", i), "")
	}

	recent, err := s.RecentMessages(context.Background(), session.Token, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "b4", recent[0].Content)
	assert.Equal(t, "u4", recent[1].Content)
	assert.Equal(t, "b3", recent[2].Content)

	all, err := s.RecentMessages(context.Background(), session.Token, 100)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	empty := newSession(t, s, "")
	none, err := s.RecentMessages(context.Background(), empty.Token, 6)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListSessions(t *testing.T, s store.Store) {
	ctx := context.Background()

	older := newSession(t, s, "owner")
	time.Sleep(2 * time.Millisecond)
	newer := newSession(t, s, "owner")
	time.Sleep(2 * time.Millisecond)
	newSession(t, s, "someone-else")
	time.Sleep(2 * time.Millisecond)

	list, err := s.ListSessions(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.Token, list[0].Token)
	assert.Equal(t, chat.DefaultTitle, list[0].Title)

	// Activity on the older session moves it to the front.
	appendTurn(t, s, older.Token, "hi", "hello there", "hello there")

	list, err = s.ListSessions(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.Token, list[0].Token)
	assert.Equal(t, "hello there", list[0].Title)
	assert.Equal(t, newer.Token, list[1].Token)
	assert.True(t, list[0].LastUpdated.After(list[1].LastUpdated))

	none, err := s.ListSessions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}
