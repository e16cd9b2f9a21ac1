// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package gormstore

import "time"

type userRow struct {
	ID    string `gorm:"primaryKey;size:64"`
	Name  string `gorm:"size:255;not null;default:''"`
	Email string `gorm:"size:255;not null;default:''"`
	Role  string `gorm:"size:32;not null;default:'user'"`
}

func (userRow) TableName() string { return "users" }

type conversationRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (conversationRow) TableName() string { return "conversations" }

type participantRow struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"`
	ConversationID string     `gorm:"size:64;not null;uniqueIndex:idx_participant_member,priority:1"`
	UserID         string     `gorm:"size:64;not null;uniqueIndex:idx_participant_member,priority:2"`
	Role           string     `gorm:"size:32;not null;default:'member'"`
	JoinedAt       time.Time  `gorm:"not null"`
	LeftAt         *time.Time `gorm:"index"`
	LastReadAt     *time.Time
}

func (participantRow) TableName() string { return "conversation_participants" }

type messageRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ConversationID string    `gorm:"size:64;not null;index:idx_messages_conversation_id"`
	SenderID       string    `gorm:"size:64;not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);autoCreateTime:false"`
	ReadAt         *time.Time
}

func (messageRow) TableName() string { return "messages" }
