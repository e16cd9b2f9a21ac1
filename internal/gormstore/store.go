// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package gormstore is the MySQL durable store, for deployments that share
// an existing account database. It satisfies the same contract as the
// DuckDB store.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/models"
)

const defaultQueryTimeout = 30 * time.Second

// Store is a gorm-backed durable store.
type Store struct {
	db *gorm.DB
}

// New connects to MySQL using cfg.DSN and migrates the schema.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	return Open(mysql.Open(cfg.DSN), cfg)
}

// Open builds a store over any gorm dialector.
func Open(dialector gorm.Dialector, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newGormLogger(),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	if err := db.AutoMigrate(&userRow{}, &conversationRow{}, &participantRow{}, &messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logging.Info().Str("dialect", dialector.Name()).Msg("gorm store ready")
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultQueryTimeout)
	}
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, defaultQueryTimeout)
	}
	return ctx, func() {}
}

func (s *Store) with(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := ensureContext(ctx)
	return s.db.WithContext(ctx), cancel
}

// GetUser returns models.ErrNotFound when the user does not exist.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var row userRow
	if err := db.Take(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return &models.User{ID: row.ID, Name: row.Name, Email: row.Email, Role: row.Role}, nil
}

// CreateUser inserts a user. An empty role becomes "user".
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	db, cancel := s.with(ctx)
	defer cancel()

	role := u.Role
	if role == "" {
		role = "user"
	}
	row := userRow{ID: u.ID, Name: u.Name, Email: u.Email, Role: role}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create user %s: %w", u.ID, err)
	}
	u.Role = role
	return nil
}

// CreateConversation inserts an empty conversation.
func (s *Store) CreateConversation(ctx context.Context, id string, at time.Time) error {
	db, cancel := s.with(ctx)
	defer cancel()

	at = at.UTC()
	if err := db.Create(&conversationRow{ID: id, CreatedAt: at, UpdatedAt: at}).Error; err != nil {
		return fmt.Errorf("failed to create conversation %s: %w", id, err)
	}
	return nil
}

// GetConversation returns models.ErrNotFound when the conversation does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var row conversationRow
	if err := db.Take(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &models.Conversation{ID: row.ID, CreatedAt: row.CreatedAt.UTC(), UpdatedAt: row.UpdatedAt.UTC()}, nil
}

// TouchConversation records new activity on the conversation.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	db, cancel := s.with(ctx)
	defer cancel()

	err := db.Model(&conversationRow{}).Where("id = ?", id).
		UpdateColumn("updated_at", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", id, err)
	}
	return nil
}

// AddParticipant makes userID an active participant, clearing left_at if
// they had left before.
func (s *Store) AddParticipant(ctx context.Context, conversationID, userID, role string, at time.Time) error {
	db, cancel := s.with(ctx)
	defer cancel()

	if role == "" {
		role = "member"
	}
	row := participantRow{ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: at.UTC()}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"left_at":   nil,
			"role":      role,
			"joined_at": at.UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// LeaveConversation sets left_at on the active row. The row is kept.
func (s *Store) LeaveConversation(ctx context.Context, conversationID, userID string, at time.Time) error {
	db, cancel := s.with(ctx)
	defer cancel()

	res := db.Model(&participantRow{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		UpdateColumn("left_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to leave conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetParticipant returns the membership row, active or not.
func (s *Store) GetParticipant(ctx context.Context, conversationID, userID string) (*models.ConversationParticipant, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var row participantRow
	err := db.Take(&row, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &models.ConversationParticipant{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		UserID:         row.UserID,
		Role:           row.Role,
		JoinedAt:       row.JoinedAt.UTC(),
		LeftAt:         utcPtr(row.LeftAt),
		LastReadAt:     utcPtr(row.LastReadAt),
	}, nil
}

// IsActiveParticipant reports whether userID has a row with no left_at.
func (s *Store) IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var n int64
	err := db.Model(&participantRow{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return n > 0, nil
}

// ListActiveParticipants returns the roster ordered by join time.
func (s *Store) ListActiveParticipants(ctx context.Context, conversationID string) ([]models.ParticipantView, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	roster := []models.ParticipantView{}
	err := db.Table("conversation_participants AS p").
		Select("p.user_id AS user_id, COALESCE(u.name, '') AS name, p.role AS role, p.joined_at AS joined_at").
		Joins("LEFT JOIN users u ON u.id = p.user_id").
		Where("p.conversation_id = ? AND p.left_at IS NULL", conversationID).
		Order("p.joined_at, p.id").
		Scan(&roster).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	for i := range roster {
		roster[i].JoinedAt = roster[i].JoinedAt.UTC()
	}
	return roster, nil
}

// TouchLastRead moves last_read_at forward to at, never backwards, and
// only for active participants.
func (s *Store) TouchLastRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	db, cancel := s.with(ctx)
	defer cancel()

	at = at.UTC()
	err := db.Model(&participantRow{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Where("last_read_at IS NULL OR last_read_at < ?", at).
		UpdateColumn("last_read_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to update last read: %w", err)
	}
	return nil
}

// CreateMessage persists msg and fills in its ID and CreatedAt. created_at
// comes from the column default, so the MySQL server clock stamps every
// message; any CreatedAt set by the caller is ignored.
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) error {
	db, cancel := s.with(ctx)
	defer cancel()

	row := messageRow{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("CreatedAt").Create(&row).Error; err != nil {
			return err
		}
		return tx.Select("created_at").Take(&row, "id = ?", row.ID).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	msg.ID = row.ID
	msg.CreatedAt = row.CreatedAt.UTC()
	return nil
}

type messageWithSender struct {
	messageRow
	SenderName string
	SenderRole string
}

// ListRecentMessages returns up to limit of the newest messages, oldest
// first, in auto-increment id order.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.MessageView, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var rows []messageWithSender
	err := db.Table("messages AS m").
		Select("m.*, COALESCE(u.name, '') AS sender_name, COALESCE(u.role, '') AS sender_role").
		Joins("LEFT JOIN users u ON u.id = m.sender_id").
		Where("m.conversation_id = ?", conversationID).
		Order("m.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	out := make([]models.MessageView, len(rows))
	for i, r := range rows {
		// rows are newest first; reverse into ascending order.
		out[len(rows)-1-i] = models.MessageView{
			Message: models.Message{
				ID:             r.ID,
				ConversationID: r.ConversationID,
				SenderID:       r.SenderID,
				Content:        r.Content,
				CreatedAt:      r.CreatedAt.UTC(),
				ReadAt:         utcPtr(r.ReadAt),
			},
			Sender: models.Sender{ID: r.SenderID, Name: r.SenderName, Role: r.SenderRole},
		}
	}
	return out, nil
}

// GetMessage returns models.ErrNotFound when the message does not exist.
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var row messageRow
	if err := db.Take(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &models.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		Content:        row.Content,
		CreatedAt:      row.CreatedAt.UTC(),
		ReadAt:         utcPtr(row.ReadAt),
	}, nil
}

// MarkMessageRead overwrites read_at (last write wins). Returns
// models.ErrNotFound when the message is not part of the conversation.
func (s *Store) MarkMessageRead(ctx context.Context, conversationID string, messageID int64, at time.Time) error {
	db, cancel := s.with(ctx)
	defer cancel()

	// MySQL reports only changed rows as affected, so existence is checked
	// separately instead of trusting RowsAffected.
	var n int64
	err := db.Model(&messageRow{}).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("failed to find message %d: %w", messageID, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}

	err = db.Model(&messageRow{}).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		UpdateColumn("read_at", at.UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to mark message %d read: %w", messageID, err)
	}
	return nil
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	db, cancel := s.with(ctx)
	defer cancel()

	var n int64
	if err := db.Model(&messageRow{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return int(n), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
