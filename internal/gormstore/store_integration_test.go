// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

//go:build integration

package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/models"
	"github.com/tomtom215/parley/internal/testinfra"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupMySQL(t *testing.T) *Store {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	container, err := testinfra.NewMySQLContainer(ctx)
	if err != nil {
		t.Fatalf("NewMySQLContainer: %v", err)
	}
	t.Cleanup(func() { testinfra.CleanupContainer(t, ctx, container) })

	store, err := New(&config.DatabaseConfig{Driver: config.DriverMySQL, DSN: container.DSN, MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMySQLStoreContract(t *testing.T) {
	s := setupMySQL(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.CreateUser(ctx, &models.User{ID: id, Name: "name-" + id}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetUser(nobody) = %v, want ErrNotFound", err)
	}
	if err := s.CreateConversation(ctx, "c1", base); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.AddParticipant(ctx, "c1", id, "member", base); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}
	}

	t.Run("participants", func(t *testing.T) {
		ok, err := s.IsActiveParticipant(ctx, "c1", "a")
		if err != nil || !ok {
			t.Fatalf("IsActiveParticipant = %v, %v", ok, err)
		}
		roster, err := s.ListActiveParticipants(ctx, "c1")
		if err != nil || len(roster) != 2 || roster[0].Name != "name-a" {
			t.Fatalf("roster = %+v, %v", roster, err)
		}
	})

	t.Run("messages ordered oldest first", func(t *testing.T) {
		var lastID int64
		for _, text := range []string{"one", "two", "three"} {
			msg := &models.Message{ConversationID: "c1", SenderID: "a", Content: text, CreatedAt: base.Add(-time.Hour)}
			if err := s.CreateMessage(ctx, msg); err != nil {
				t.Fatalf("CreateMessage: %v", err)
			}
			if msg.ID <= lastID {
				t.Fatalf("id %d not greater than previous %d", msg.ID, lastID)
			}
			if msg.CreatedAt.IsZero() || msg.CreatedAt.Equal(base.Add(-time.Hour)) {
				t.Fatalf("CreatedAt = %v, want server-assigned time", msg.CreatedAt)
			}
			lastID = msg.ID
		}
		page, err := s.ListRecentMessages(ctx, "c1", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) != 2 || page[0].Content != "two" || page[1].Content != "three" {
			t.Fatalf("page = %+v", page)
		}
		if page[0].Sender.Name != "name-a" {
			t.Errorf("sender = %+v", page[0].Sender)
		}

		empty, err := s.ListRecentMessages(ctx, "nothing-here", 10)
		if err != nil || empty == nil || len(empty) != 0 {
			t.Errorf("empty page = %#v, %v", empty, err)
		}
	})

	t.Run("mark read last write wins", func(t *testing.T) {
		page, _ := s.ListRecentMessages(ctx, "c1", 1)
		id := page[0].ID
		first, second := base.Add(time.Hour), base.Add(2*time.Hour)
		if err := s.MarkMessageRead(ctx, "c1", id, first); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkMessageRead(ctx, "c1", id, second); err != nil {
			t.Fatal(err)
		}
		// Same value again must not look like a missing row.
		if err := s.MarkMessageRead(ctx, "c1", id, second); err != nil {
			t.Fatalf("repeat mark: %v", err)
		}
		m, err := s.GetMessage(ctx, id)
		if err != nil || m.ReadAt == nil || !m.ReadAt.Equal(second) {
			t.Fatalf("readAt = %v, %v", m, err)
		}
		if err := s.MarkMessageRead(ctx, "other", id, second); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("foreign conversation = %v, want ErrNotFound", err)
		}
	})

	t.Run("last read is monotonic", func(t *testing.T) {
		later, earlier := base.Add(10*time.Minute), base.Add(5*time.Minute)
		if err := s.TouchLastRead(ctx, "c1", "b", later); err != nil {
			t.Fatal(err)
		}
		if err := s.TouchLastRead(ctx, "c1", "b", earlier); err != nil {
			t.Fatal(err)
		}
		p, err := s.GetParticipant(ctx, "c1", "b")
		if err != nil || p.LastReadAt == nil || !p.LastReadAt.Equal(later) {
			t.Fatalf("lastReadAt = %+v, %v", p, err)
		}
	})

	t.Run("leave keeps the row", func(t *testing.T) {
		if err := s.LeaveConversation(ctx, "c1", "b", base.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		ok, _ := s.IsActiveParticipant(ctx, "c1", "b")
		if ok {
			t.Error("b still active after leaving")
		}
		p, err := s.GetParticipant(ctx, "c1", "b")
		if err != nil || p.Active() {
			t.Errorf("participant row = %+v, %v", p, err)
		}
		if err := s.AddParticipant(ctx, "c1", "b", "member", base.Add(2*time.Hour)); err != nil {
			t.Fatal(err)
		}
		ok, _ = s.IsActiveParticipant(ctx, "c1", "b")
		if !ok {
			t.Error("re-adding did not reactivate b")
		}
	})

	t.Run("touch conversation", func(t *testing.T) {
		at := base.Add(3 * time.Hour)
		if err := s.TouchConversation(ctx, "c1", at); err != nil {
			t.Fatal(err)
		}
		c, err := s.GetConversation(ctx, "c1")
		if err != nil || !c.UpdatedAt.Equal(at) {
			t.Errorf("conversation = %+v, %v", c, err)
		}
	})
}
