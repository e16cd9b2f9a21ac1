// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/models"
)

// Demo fixture identifiers.
const (
	DemoConversationID = "demo-conversation"
	DemoAliceID        = "demo-alice"
	DemoBobID          = "demo-bob"
)

// SeedDemo inserts two users sharing one conversation. It is a no-op when
// the demo conversation already exists.
func (db *DB) SeedDemo(ctx context.Context) error {
	if _, err := db.GetConversation(ctx, DemoConversationID); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	users := []models.User{
		{ID: DemoAliceID, Name: "Alice", Email: "alice@example.com", Role: "user"},
		{ID: DemoBobID, Name: "Bob", Email: "bob@example.com", Role: "user"},
	}
	for i := range users {
		if err := db.CreateUser(ctx, &users[i]); err != nil {
			return fmt.Errorf("failed to seed users: %w", err)
		}
	}
	if err := db.CreateConversation(ctx, DemoConversationID, now); err != nil {
		return err
	}
	for _, u := range users {
		if err := db.AddParticipant(ctx, DemoConversationID, u.ID, "member", now); err != nil {
			return err
		}
	}

	logging.Info().Str("conversation_id", DemoConversationID).Msg("Seeded demo conversation")
	return nil
}
