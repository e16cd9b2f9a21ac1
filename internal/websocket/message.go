// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package websocket

import (
	"time"

	"github.com/goccy/go-json"
)

// Client to server event types.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
	EventPing              = "ping"
)

// Server to client event types.
const (
	EventConnected              = "connected"
	EventConversationHistory    = "conversation_history"
	EventNewMessage             = "new_message"
	EventUserTyping             = "user_typing"
	EventReadUpdate             = "read_update"
	EventNewMessageNotification = "new_message_notification"
	EventError                  = "error"
	EventPong                   = "pong"
)

// Message is the outbound envelope written to clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Inbound is a decoded client frame. Data is decoded by the handler for
// the specific event type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// ConnectedData is sent once after a successful handshake.
type ConnectedData struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewError builds an error event.
func NewError(msg string) Message {
	return Message{Type: EventError, Data: ErrorData{Message: msg}}
}

// Delivery addresses a message to a group.
type Delivery struct {
	Group   string  `json:"group"`
	Message Message `json:"message"`

	// ExceptConn is skipped, used to keep events from echoing to their sender.
	ExceptConn string `json:"exceptConn,omitempty"`

	// SkipMembersOf skips connections that also belong to this group. Each
	// hub checks only its own connections, so in cluster mode membership on
	// another instance does not suppress delivery here.
	SkipMembersOf string `json:"skipMembersOf,omitempty"`
}
