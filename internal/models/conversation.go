// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package models holds the persisted records and the views sent over the wire.
package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User is owned by the external account system. Parley only reads it.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Conversation groups participants and messages. Created externally; the
// broker only bumps UpdatedAt.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationParticipant is the membership row. A participant is active
// while LeftAt is nil. LastReadAt never moves backwards.
type ConversationParticipant struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	Role           string     `json:"role"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LeftAt         *time.Time `json:"leftAt,omitempty"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
}

// Active reports whether the participant has not left.
func (p *ConversationParticipant) Active() bool {
	return p.LeftAt == nil
}

// Message is immutable once created apart from the single ReadAt transition.
// ID comes from the store and breaks CreatedAt ties.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadAt         *time.Time `json:"readAt"`
}

// Sender is the display information attached to delivered messages.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// MessageView is a message hydrated with its sender.
type MessageView struct {
	Message
	Sender Sender `json:"sender"`
}

// ParticipantView is one roster entry in conversation history.
type ParticipantView struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}
