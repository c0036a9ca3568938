// Package postgres persists conversations in PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zhouzirui/mindcare/backend/internal/model/chat"
	"github.com/zhouzirui/mindcare/backend/internal/store"
)

// ChatSession is the chat_session row.
type ChatSession struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"uniqueIndex;not null"`
	Title     *string   `gorm:"column:title"`
	UserID    *string   `gorm:"index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ChatSession) TableName() string {
	return "chat_session"
}

// ChatMessage is the chat_message row.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID uint      `gorm:"not null;uniqueIndex:idx_chat_message_session_seq,priority:1"`
	Seq       int64     `gorm:"not null;uniqueIndex:idx_chat_message_session_seq,priority:2"`
	Role      string    `gorm:"not null;check:role IN ('user','bot')"`
	Content   string    `gorm:"type:text;not null"`
	Emotion   *string   `gorm:"column:emotion"`
	CreatedAt time.Time `gorm:"not null"`

	Session ChatSession `gorm:"constraint:OnDelete:CASCADE"`
}

func (ChatMessage) TableName() string {
	return "chat_message"
}

// Store implements store.Store on gorm.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// Open connects to dsn and migrates the chat tables.
func Open(dsn string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.With("component", "postgres")

	log.Info("connecting to postgres")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Errorw("failed to connect to postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Store{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	log.Info("postgres store ready")
	return s, nil
}

// AutoMigrate creates or updates the chat tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&ChatSession{}, &ChatMessage{}); err != nil {
		s.log.Errorw("auto migrate failed", "error", err)
		return fmt.Errorf("failed to migrate chat tables: %w", err)
	}
	return nil
}

// CreateSession implements store.Store.
func (s *Store) CreateSession(ctx context.Context, session chat.Session) (chat.Session, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	row := ChatSession{
		Token:     session.Token,
		Title:     session.Title,
		UserID:    session.UserID,
		CreatedAt: session.CreatedAt,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		s.log.Errorw("failed to create chat session", "error", res.Error)
		return chat.Session{}, fmt.Errorf("failed to create chat_session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return chat.Session{}, store.ErrSessionExists
	}
	return toSession(row), nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(ctx context.Context, token string) (chat.Session, error) {
	row, err := s.findSession(s.db.WithContext(ctx), token, false)
	if err != nil {
		return chat.Session{}, err
	}
	return toSession(row), nil
}

// AppendTurn implements store.Store.
func (s *Store) AppendTurn(ctx context.Context, token string, user, bot chat.Message, title string) (chat.Session, error) {
	if err := store.ValidateTurn(user, bot); err != nil {
		return chat.Session{}, err
	}

	var updated ChatSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.findSession(tx, token, true)
		if err != nil {
			return err
		}
		updated, err = s.appendTx(tx, row, user, bot, title)
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			s.log.Errorw("append turn rolled back", "session", token, "error", err)
		}
		return chat.Session{}, err
	}
	return toSession(updated), nil
}

// CreateSessionWithTurn implements store.Store.
func (s *Store) CreateSessionWithTurn(ctx context.Context, session chat.Session, user, bot chat.Message, title string) (chat.Session, error) {
	if err := store.ValidateTurn(user, bot); err != nil {
		return chat.Session{}, err
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}

	var created ChatSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := ChatSession{
			Token:     session.Token,
			Title:     session.Title,
			UserID:    session.UserID,
			CreatedAt: session.CreatedAt,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("failed to create chat_session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrSessionExists
		}

		var err error
		created, err = s.appendTx(tx, row, user, bot, title)
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrSessionExists) {
			s.log.Errorw("create session with turn rolled back", "session", session.Token, "error", err)
		}
		return chat.Session{}, err
	}
	return toSession(created), nil
}

func (s *Store) appendTx(tx *gorm.DB, row ChatSession, user, bot chat.Message, title string) (ChatSession, error) {
	var seq int64
	if err := tx.Model(&ChatMessage{}).
		Where("session_id = ?", row.ID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error; err != nil {
		return ChatSession{}, fmt.Errorf("failed to read message sequence: %w", err)
	}

	now := s.now()
	rows := make([]*ChatMessage, 0, 2)
	for _, msg := range []chat.Message{user, bot} {
		seq++
		created := msg.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, &ChatMessage{
			SessionID: row.ID,
			Seq:       seq,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Emotion:   msg.Emotion,
			CreatedAt: created,
		})
	}
	if err := tx.Omit("Session").Create(&rows).Error; err != nil {
		return ChatSession{}, fmt.Errorf("failed to create chat messages: %w", err)
	}

	if title != "" && row.Title == nil {
		if err := tx.Model(&ChatSession{}).
			Where("id = ? AND title IS NULL", row.ID).
			Update("title", title).Error; err != nil {
			return ChatSession{}, fmt.Errorf("failed to set chat_session title: %w", err)
		}
		t := title
		row.Title = &t
	}
	return row, nil
}

// SetTitleIfAbsent implements store.Store.
func (s *Store) SetTitleIfAbsent(ctx context.Context, token, title string) (chat.Session, error) {
	res := s.db.WithContext(ctx).Model(&ChatSession{}).
		Where("token = ? AND title IS NULL", token).
		Update("title", title)
	if res.Error != nil {
		return chat.Session{}, fmt.Errorf("failed to set chat_session title: %w", res.Error)
	}
	return s.GetSession(ctx, token)
}

// RecentMessages implements store.Store.
func (s *Store) RecentMessages(ctx context.Context, token string, limit int) ([]chat.Message, error) {
	db := s.db.WithContext(ctx)
	row, err := s.findSession(db, token, false)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	var rows []ChatMessage
	if err := db.Where("session_id = ?", row.ID).Order("seq DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent chat messages: %w", err)
	}
	return toMessages(rows), nil
}

// Messages implements store.Store.
func (s *Store) Messages(ctx context.Context, token string) ([]chat.Message, error) {
	db := s.db.WithContext(ctx)
	row, err := s.findSession(db, token, false)
	if err != nil {
		return nil, err
	}

	var rows []ChatMessage
	if err := db.Where("session_id = ?", row.ID).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get chat messages: %w", err)
	}
	return toMessages(rows), nil
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]chat.Summary, error) {
	var rows []struct {
		Token      string
		Title      *string
		LastUpdate time.Time
	}
	err := s.db.WithContext(ctx).
		Table("chat_session AS s").
		Select("s.token AS token, s.title AS title, COALESCE(MAX(m.created_at), s.created_at) AS last_update").
		Joins("LEFT JOIN chat_message AS m ON m.session_id = s.id").
		Where("s.user_id = ?", userID).
		Group("s.id").
		Order("last_update DESC, s.created_at DESC, s.token ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}

	list := make([]chat.Summary, 0, len(rows))
	for _, r := range rows {
		session := chat.Session{Token: r.Token, Title: r.Title}
		list = append(list, chat.Summary{
			Token:       r.Token,
			Title:       session.DisplayTitle(),
			LastUpdated: r.LastUpdate.UTC(),
		})
	}
	return list, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying handle for tests and maintenance.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) findSession(db *gorm.DB, token string, lock bool) (ChatSession, error) {
	var row ChatSession
	q := db.Where("token = ?", token)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ChatSession{}, store.ErrSessionNotFound
		}
		return ChatSession{}, fmt.Errorf("failed to get chat_session: %w", err)
	}
	return row, nil
}

func toSession(row ChatSession) chat.Session {
	return chat.Session{
		Token:     row.Token,
		Title:     row.Title,
		UserID:    row.UserID,
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func toMessages(rows []ChatMessage) []chat.Message {
	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, chat.Message{
			Seq:       r.Seq,
			Role:      chat.Role(r.Role),
			Content:   r.Content,
			Emotion:   r.Emotion,
			CreatedAt: r.CreatedAt.UTC(),
		})
	}
	return out
}

var _ store.Store = (*Store)(nil)
