// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/parley/internal/models"
)

// CreateMessage persists msg and fills in its ID and CreatedAt. Both are
// assigned by the database; any CreatedAt set by the caller is ignored.
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content)
		VALUES (?, ?, ?)
		RETURNING id, created_at`,
		msg.ConversationID, msg.SenderID, msg.Content,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return nil
}

// ListRecentMessages returns up to limit of the newest messages, oldest
// first, each with its sender's display information. Order is insertion
// order as given by the id sequence.
func (db *DB) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.MessageView, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read_at, sender_name, sender_role
		FROM (
			SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.read_at,
				COALESCE(u.name, '') AS sender_name, COALESCE(u.role, '') AS sender_role
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE m.conversation_id = ?
			ORDER BY m.id DESC
			LIMIT ?
		) recent
		ORDER BY id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer closeQuietly(rows)

	page := []models.MessageView{}
	for rows.Next() {
		var (
			v      models.MessageView
			readAt sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.ConversationID, &v.SenderID, &v.Content, &v.CreatedAt,
			&readAt, &v.Sender.Name, &v.Sender.Role); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		v.CreatedAt = v.CreatedAt.UTC()
		v.ReadAt = nullTimePtr(readAt)
		v.Sender.ID = v.SenderID
		page = append(page, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return page, nil
}

// GetMessage returns one message or models.ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		m      models.Message
		readAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read_at FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.ReadAt = nullTimePtr(readAt)
	return &m, nil
}

// MarkMessageRead sets read_at on a message of the conversation. Repeated
// calls overwrite the previous value (last write wins). Returns
// models.ErrNotFound when the message is not part of the conversation.
func (db *DB) MarkMessageRead(ctx context.Context, conversationID string, messageID int64, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.withConflictRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx,
			`UPDATE messages SET read_at = ? WHERE id = ? AND conversation_id = ?`,
			at.UTC(), messageID, conversationID)
		if err != nil {
			return fmt.Errorf("failed to mark message %d read: %w", messageID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// CountMessages returns the number of messages in a conversation.
func (db *DB) CountMessages(ctx context.Context, conversationID string) (int, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
