// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
	"github.com/tomtom215/parley/internal/models"
	"github.com/tomtom215/parley/internal/validation"
	"github.com/tomtom215/parley/internal/websocket"
)

// assertActiveParticipant is the single authorization check shared by
// Join, Send and MarkRead.
func (g *Gateway) assertActiveParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := g.store.IsActiveParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to check participant: %w", err)
	}
	if !ok {
		return ErrAccessDenied
	}
	return nil
}

// Join sends the connection the recent history and the active roster and
// puts it in the conversation room. Everything is loaded before the room
// is entered, so a failed join never delivers room traffic.
func (g *Gateway) Join(ctx context.Context, s websocket.Session, conversationID string) error {
	if err := g.assertActiveParticipant(ctx, conversationID, s.UserID); err != nil {
		return err
	}

	messages, err := g.store.ListRecentMessages(ctx, conversationID, g.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	participants, err := g.store.ListActiveParticipants(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load roster: %w", err)
	}

	added := g.registry.JoinRoom(s.ConnID, conversationID)
	if err := g.store.TouchLastRead(ctx, conversationID, s.UserID, g.now()); err != nil {
		if added {
			g.registry.LeaveRoom(s.ConnID, conversationID)
		}
		return err
	}

	if messages == nil {
		messages = []models.MessageView{}
	}
	if participants == nil {
		participants = []models.ParticipantView{}
	}
	g.registry.SendTo(s.ConnID, websocket.Message{
		Type: websocket.EventConversationHistory,
		Data: HistoryData{
			ConversationID: conversationID,
			Messages:       messages,
			Participants:   participants,
		},
	})

	logging.Ctx(ctx).Debug().
		Str("conversation_id", conversationID).
		Int("messages", len(messages)).
		Bool("already_joined", !added).
		Msg("joined conversation")
	return nil
}

// Leave removes the connection from the room. Participant rows are not
// touched.
func (g *Gateway) Leave(ctx context.Context, s websocket.Session, conversationID string) {
	if g.registry.LeaveRoom(s.ConnID, conversationID) {
		logging.Ctx(ctx).Debug().Str("conversation_id", conversationID).Msg("left conversation room")
	}
}

// Send persists a message and then broadcasts it to the whole room,
// sender included. Nothing is broadcast unless every store write succeeded.
// Authorization is checked once, on entry. The store assigns the id and
// createdAt; the gateway clock plays no part in message order.
func (g *Gateway) Send(ctx context.Context, s websocket.Session, p SendPayload) (*models.MessageView, error) {
	if p.SenderID != s.UserID {
		logging.Ctx(ctx).Warn().
			Str("conversation_id", p.ConversationID).
			Str("claimed_sender", p.SenderID).
			Msg("sender spoof attempt")
		return nil, ErrIdentitySpoof
	}
	if g.cfg.MaxContentLength > 0 {
		if verr := validation.ValidateVar("content", p.Content, "max="+strconv.Itoa(g.cfg.MaxContentLength)); verr != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, verr.Error())
		}
	}
	if err := g.assertActiveParticipant(ctx, p.ConversationID, s.UserID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: p.ConversationID,
		SenderID:       s.UserID,
		Content:        p.Content,
	}
	if err := g.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesPersisted.Inc()

	if err := g.store.TouchConversation(ctx, p.ConversationID, msg.CreatedAt); err != nil {
		return nil, err
	}

	view := &models.MessageView{
		Message: *msg,
		Sender:  models.Sender{ID: s.UserID, Name: s.Name, Role: s.Role},
	}
	g.fanout.Broadcast(ctx, websocket.Delivery{
		Group: websocket.RoomGroup(p.ConversationID),
		Message: websocket.Message{
			Type: websocket.EventNewMessage,
			Data: NewMessageData{ConversationID: p.ConversationID, Message: *view},
		},
	})

	if g.cfg.NotifyParticipants {
		g.notifyParticipants(ctx, s, msg)
	}
	return view, nil
}

// notifyParticipants reaches the other active participants on their
// private user group, skipping connections already in the room. Failures
// are logged only: the message is already delivered to the room.
func (g *Gateway) notifyParticipants(ctx context.Context, s websocket.Session, msg *models.Message) {
	roster, err := g.store.ListActiveParticipants(ctx, msg.ConversationID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("conversation_id", msg.ConversationID).
			Msg("failed to load roster for notifications")
		return
	}

	note := websocket.Message{
		Type: websocket.EventNewMessageNotification,
		Data: NotificationData{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			SenderID:       s.UserID,
			SenderName:     s.Name,
		},
	}
	for _, p := range roster {
		if p.UserID == s.UserID {
			continue
		}
		g.fanout.Broadcast(ctx, websocket.Delivery{
			Group:         websocket.UserGroup(p.UserID),
			Message:       note,
			SkipMembersOf: websocket.RoomGroup(msg.ConversationID),
		})
	}
}

// Typing relays a typing signal to the rest of the room. Connections that
// are not in the room are ignored silently.
func (g *Gateway) Typing(ctx context.Context, s websocket.Session, conversationID string, isTyping bool) error {
	if !g.registry.InRoom(s.ConnID, conversationID) {
		return errIgnored
	}
	g.fanout.Broadcast(ctx, websocket.Delivery{
		Group: websocket.RoomGroup(conversationID),
		Message: websocket.Message{
			Type: websocket.EventUserTyping,
			Data: TypingData{
				ConversationID: conversationID,
				UserID:         s.UserID,
				UserName:       s.Name,
				IsTyping:       isTyping,
			},
		},
		ExceptConn: s.ConnID,
	})
	return nil
}

// MarkRead sets the message's readAt, bumps the reader's lastReadAt and
// sends a read receipt to the rest of the room. Repeated marks overwrite
// readAt and emit a receipt each time.
func (g *Gateway) MarkRead(ctx context.Context, s websocket.Session, conversationID string, messageID int64) error {
	if err := g.assertActiveParticipant(ctx, conversationID, s.UserID); err != nil {
		return err
	}

	at := g.now()
	if err := g.store.MarkMessageRead(ctx, conversationID, messageID, at); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: message %d not found in conversation", ErrInvalidPayload, messageID)
		}
		return err
	}
	if err := g.store.TouchLastRead(ctx, conversationID, s.UserID, at); err != nil {
		return err
	}

	g.fanout.Broadcast(ctx, websocket.Delivery{
		Group: websocket.RoomGroup(conversationID),
		Message: websocket.Message{
			Type: websocket.EventReadUpdate,
			Data: ReadUpdateData{
				ConversationID: conversationID,
				MessageID:      messageID,
				ReadBy:         s.UserID,
				ReadAt:         at,
			},
		},
		ExceptConn: s.ConnID,
	})
	return nil
}
