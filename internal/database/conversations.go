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

// CreateConversation inserts a conversation. Creation belongs to an external
// flow; the broker itself only touches updated_at.
func (db *DB) CreateConversation(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	at = at.UTC()
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`,
		id, at, at); err != nil {
		return fmt.Errorf("failed to create conversation %s: %w", id, err)
	}
	return nil
}

// GetConversation returns the conversation or models.ErrNotFound.
func (db *DB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var c models.Conversation
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// TouchConversation records new activity on the conversation.
func (db *DB) TouchConversation(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.withConflictRetry(ctx, func() error {
		if _, err := db.conn.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
			return fmt.Errorf("failed to touch conversation %s: %w", id, err)
		}
		return nil
	})
}

// AddParticipant makes userID an active participant. Re-adding someone who
// left clears left_at on the existing row.
func (db *DB) AddParticipant(ctx context.Context, conversationID, userID, role string, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if role == "" {
		role = "member"
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, user_id)
		DO UPDATE SET left_at = NULL, role = excluded.role, joined_at = excluded.joined_at`,
		conversationID, userID, role, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to add participant %s to %s: %w", userID, conversationID, err)
	}
	return nil
}

// LeaveConversation soft-deletes the membership by setting left_at.
// Rows are never hard-deleted.
func (db *DB) LeaveConversation(ctx context.Context, conversationID, userID string, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	return db.withConflictRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx,
			`UPDATE conversation_participants SET left_at = ?
			WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL`,
			at.UTC(), conversationID, userID)
		if err != nil {
			return fmt.Errorf("failed to leave conversation %s: %w", conversationID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

// GetParticipant returns the membership row, active or not.
func (db *DB) GetParticipant(ctx context.Context, conversationID, userID string) (*models.ConversationParticipant, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var (
		p              models.ConversationParticipant
		left, lastRead sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, conversation_id, user_id, role, joined_at, left_at, last_read_at
		FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	).Scan(&p.ID, &p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &left, &lastRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	p.JoinedAt = p.JoinedAt.UTC()
	p.LeftAt = nullTimePtr(left)
	p.LastReadAt = nullTimePtr(lastRead)
	return &p, nil
}

// IsActiveParticipant reports whether an active membership row exists.
// This is the only authorization question the broker ever asks.
func (db *DB) IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL`,
		conversationID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return n > 0, nil
}

// ListActiveParticipants returns the roster ordered by join time.
func (db *DB) ListActiveParticipants(ctx context.Context, conversationID string) ([]models.ParticipantView, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT p.user_id, COALESCE(u.name, ''), p.role, p.joined_at
		FROM conversation_participants p
		LEFT JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ? AND p.left_at IS NULL
		ORDER BY p.joined_at, p.id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer closeQuietly(rows)

	roster := []models.ParticipantView{}
	for rows.Next() {
		var v models.ParticipantView
		if err := rows.Scan(&v.UserID, &v.Name, &v.Role, &v.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		v.JoinedAt = v.JoinedAt.UTC()
		roster = append(roster, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return roster, nil
}

// TouchLastRead moves last_read_at forward to at. It never moves backwards
// and ignores rows whose participant has left.
func (db *DB) TouchLastRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	at = at.UTC()
	return db.withConflictRetry(ctx, func() error {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE conversation_participants
			SET last_read_at = ?
			WHERE conversation_id = ? AND user_id = ? AND left_at IS NULL
			AND (last_read_at IS NULL OR last_read_at < ?)`,
			at, conversationID, userID, at)
		if err != nil {
			return fmt.Errorf("failed to update last read: %w", err)
		}
		return nil
	})
}
