// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package gateway

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/parley/internal/models"
	"github.com/tomtom215/parley/internal/validation"
)

// Inbound payloads.

// ConversationPayload is the body of join, leave and typing events.
type ConversationPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

// SendPayload is the body of send_message. SenderID is the client's claim
// and is only compared against the session.
type SendPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	Content        string `json:"content" validate:"required,notblank"`
	SenderID       string `json:"senderId" validate:"required"`
}

// MarkReadPayload is the body of mark_read.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
	MessageID      int64  `json:"messageId" validate:"gt=0"`
}

// decode unmarshals data into v and validates it.
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed data", ErrInvalidPayload)
	}
	if verr := validation.ValidateStruct(v); verr != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, verr.Error())
	}
	return nil
}

// Outbound payloads.

// HistoryData answers a join, to the requester only.
type HistoryData struct {
	ConversationID string                   `json:"conversationId"`
	Messages       []models.MessageView     `json:"messages"`
	Participants   []models.ParticipantView `json:"participants"`
}

// NewMessageData is broadcast to the whole room, sender included.
type NewMessageData struct {
	ConversationID string             `json:"conversationId"`
	Message        models.MessageView `json:"message"`
}

// TypingData is relayed to the room minus the typing connection.
type TypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadUpdateData is relayed to the room minus the reader.
type ReadUpdateData struct {
	ConversationID string    `json:"conversationId"`
	MessageID      int64     `json:"messageId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
}

// NotificationData tells participants outside the room that a message arrived.
type NotificationData struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
}
