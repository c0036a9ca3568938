// Package sqlite persists conversations in a SQLite database through modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_session (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	token      TEXT    NOT NULL UNIQUE,
	title      TEXT,
	user_id    TEXT,
	created_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_session_user_id ON chat_session (user_id);
CREATE TABLE IF NOT EXISTS chat_message (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES chat_session (id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL CHECK (role IN ('user', 'bot')),
	content    TEXT    NOT NULL,
	emotion    TEXT,
	created_ts INTEGER NOT NULL,
	UNIQUE (session_id, seq)
);
`

// DB implements store.Store on a single SQLite connection.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}

	return &DB{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateSession implements store.Store.
func (d *DB) CreateSession(ctx context.Context, session chat.Session) (chat.Session, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = d.now()
	}

	stmt := `INSERT INTO chat_session (token, title, user_id, created_ts) VALUES (?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, stmt, session.Token, nullString(session.Title), nullString(session.UserID), session.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return chat.Session{}, store.ErrSessionExists
		}
		return chat.Session{}, fmt.Errorf("failed to create chat_session: %w", err)
	}
	return session, nil
}

// GetSession implements store.Store.
func (d *DB) GetSession(ctx context.Context, token string) (chat.Session, error) {
	session, _, err := getSession(ctx, d.db, token)
	return session, err
}

// AppendTurn implements store.Store.
func (d *DB) AppendTurn(ctx context.Context, token string, user, bot chat.Message, title string) (chat.Session, error) {
	if err := store.ValidateTurn(user, bot); err != nil {
		return chat.Session{}, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session, err := d.appendTx(ctx, tx, token, user, bot, title)
	if err != nil {
		return chat.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return chat.Session{}, fmt.Errorf("failed to commit turn: %w", err)
	}
	return session, nil
}

// CreateSessionWithTurn implements store.Store.
func (d *DB) CreateSessionWithTurn(ctx context.Context, session chat.Session, user, bot chat.Message, title string) (chat.Session, error) {
	if err := store.ValidateTurn(user, bot); err != nil {
		return chat.Session{}, err
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = d.now()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO chat_session (token, title, user_id, created_ts) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, stmt, session.Token, nullString(session.Title), nullString(session.UserID), session.CreatedAt.UnixNano()); err != nil {
		if isUniqueViolation(err) {
			return chat.Session{}, store.ErrSessionExists
		}
		return chat.Session{}, fmt.Errorf("failed to create chat_session: %w", err)
	}

	created, err := d.appendTx(ctx, tx, session.Token, user, bot, title)
	if err != nil {
		return chat.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return chat.Session{}, fmt.Errorf("failed to commit turn: %w", err)
	}
	return created, nil
}

func (d *DB) appendTx(ctx context.Context, tx *sql.Tx, token string, user, bot chat.Message, title string) (chat.Session, error) {
	session, id, err := getSession(ctx, tx, token)
	if err != nil {
		return chat.Session{}, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_message WHERE session_id = ?`, id).Scan(&seq); err != nil {
		return chat.Session{}, fmt.Errorf("failed to read message sequence: %w", err)
	}

	now := d.now()
	stmt := `INSERT INTO chat_message (session_id, seq, role, content, emotion, created_ts) VALUES (?, ?, ?, ?, ?, ?)`
	for _, msg := range []chat.Message{user, bot} {
		seq++
		created := msg.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, stmt, id, seq, string(msg.Role), msg.Content, nullString(msg.Emotion), created.UnixNano()); err != nil {
			return chat.Session{}, fmt.Errorf("failed to insert chat_message: %w", err)
		}
	}

	if title != "" && session.Title == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE chat_session SET title = ? WHERE id = ? AND title IS NULL`, title, id); err != nil {
			return chat.Session{}, fmt.Errorf("failed to set chat_session title: %w", err)
		}
	}

	session, _, err = getSession(ctx, tx, token)
	return session, err
}

// SetTitleIfAbsent implements store.Store.
func (d *DB) SetTitleIfAbsent(ctx context.Context, token, title string) (chat.Session, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE chat_session SET title = ? WHERE token = ? AND title IS NULL`, title, token)
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to set chat_session title: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return chat.Session{}, err
	}
	return d.GetSession(ctx, token)
}

// RecentMessages implements store.Store.
func (d *DB) RecentMessages(ctx context.Context, token string, limit int) ([]chat.Message, error) {
	_, id, err := getSession(ctx, d.db, token)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []chat.Message{}, nil
	}
	query := `SELECT seq, role, content, emotion, created_ts FROM chat_message WHERE session_id = ? ORDER BY seq DESC LIMIT ?`
	return listMessages(ctx, d.db, query, id, limit)
}

// Messages implements store.Store.
func (d *DB) Messages(ctx context.Context, token string) ([]chat.Message, error) {
	_, id, err := getSession(ctx, d.db, token)
	if err != nil {
		return nil, err
	}
	query := `SELECT seq, role, content, emotion, created_ts FROM chat_message WHERE session_id = ? ORDER BY seq ASC`
	return listMessages(ctx, d.db, query, id)
}

// ListSessions implements store.Store.
func (d *DB) ListSessions(ctx context.Context, userID string) ([]chat.Summary, error) {
	query := `SELECT s.token, s.title, COALESCE(MAX(m.created_ts), s.created_ts) AS last_ts
		FROM chat_session s
		LEFT JOIN chat_message m ON m.session_id = s.id
		WHERE s.user_id = ?
		GROUP BY s.id
		ORDER BY last_ts DESC, s.created_ts DESC, s.token ASC`
	rows, err := d.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat_sessions: %w", err)
	}
	defer rows.Close()

	list := make([]chat.Summary, 0)
	for rows.Next() {
		var (
			session chat.Session
			title   sql.NullString
			lastTs  int64
		)
		if err := rows.Scan(&session.Token, &title, &lastTs); err != nil {
			return nil, fmt.Errorf("failed to scan chat_session: %w", err)
		}
		session.Title = stringPtr(title)
		list = append(list, chat.Summary{
			Token:       session.Token,
			Title:       session.DisplayTitle(),
			LastUpdated: time.Unix(0, lastTs).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat_sessions: %w", err)
	}
	return list, nil
}

// Close implements store.Store.
func (d *DB) Close() error {
	return d.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getSession(ctx context.Context, q queryer, token string) (chat.Session, int64, error) {
	var (
		id        int64
		session   chat.Session
		title     sql.NullString
		userID    sql.NullString
		createdTs int64
	)
	err := q.QueryRowContext(ctx, `SELECT id, token, title, user_id, created_ts FROM chat_session WHERE token = ?`, token).
		Scan(&id, &session.Token, &title, &userID, &createdTs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, 0, store.ErrSessionNotFound
		}
		return chat.Session{}, 0, fmt.Errorf("failed to get chat_session: %w", err)
	}
	session.Title = stringPtr(title)
	session.UserID = stringPtr(userID)
	session.CreatedAt = time.Unix(0, createdTs).UTC()
	return session, id, nil
}

func listMessages(ctx context.Context, q queryer, query string, args ...any) ([]chat.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat_messages: %w", err)
	}
	defer rows.Close()

	list := make([]chat.Message, 0)
	for rows.Next() {
		var (
			msg       chat.Message
			role      string
			emotion   sql.NullString
			createdTs int64
		)
		if err := rows.Scan(&msg.Seq, &role, &msg.Content, &emotion, &createdTs); err != nil {
			return nil, fmt.Errorf("failed to scan chat_message: %w", err)
		}
		msg.Role = chat.Role(role)
		msg.Emotion = stringPtr(emotion)
		msg.CreatedAt = time.Unix(0, createdTs).UTC()
		list = append(list, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat_messages: %w", err)
	}
	return list, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ store.Store = (*DB)(nil)
