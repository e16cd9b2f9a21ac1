// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// testDBSemaphore serializes DuckDB instances across tests; concurrent CGO
// databases under CI pressure can stall.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "256MB"})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedConversation(t *testing.T, db *DB, convID string, userIDs ...string) {
	t.Helper()
	ctx := context.Background()

	if err := db.CreateConversation(ctx, convID, base); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, id := range userIDs {
		if _, err := db.GetUser(ctx, id); errors.Is(err, models.ErrNotFound) {
			if err := db.CreateUser(ctx, &models.User{ID: id, Name: "name-" + id, Email: id + "@example.com"}); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
		}
		if err := db.AddParticipant(ctx, convID, id, "member", base); err != nil {
			t.Fatalf("AddParticipant: %v", err)
		}
	}
}

func TestGetUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.CreateUser(ctx, &models.User{ID: "u1", Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := db.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Name != "Ada" || u.Role != "user" {
		t.Errorf("GetUser = %+v", u)
	}

	if _, err := db.GetUser(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := db.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := db.GetUser(ctx, "u1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIsActiveParticipant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a", "b")

	tests := []struct {
		name   string
		conv   string
		user   string
		active bool
	}{
		{"member", "c1", "a", true},
		{"other member", "c1", "b", true},
		{"stranger", "c1", "x", false},
		{"unknown conversation", "c2", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.IsActiveParticipant(ctx, tt.conv, tt.user)
			if err != nil {
				t.Fatalf("IsActiveParticipant: %v", err)
			}
			if got != tt.active {
				t.Errorf("IsActiveParticipant(%s, %s) = %v, want %v", tt.conv, tt.user, got, tt.active)
			}
		})
	}
}

func TestLeaveConversationSoftDeletes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a")

	if err := db.LeaveConversation(ctx, "c1", "a", base.Add(time.Minute)); err != nil {
		t.Fatalf("LeaveConversation: %v", err)
	}
	active, err := db.IsActiveParticipant(ctx, "c1", "a")
	if err != nil || active {
		t.Fatalf("expected inactive after leaving, got %v, %v", active, err)
	}

	p, err := db.GetParticipant(ctx, "c1", "a")
	if err != nil {
		t.Fatalf("row must survive leaving: %v", err)
	}
	if p.LeftAt == nil || p.Active() {
		t.Error("expected left_at to be set")
	}

	if err := db.LeaveConversation(ctx, "c1", "a", base.Add(2*time.Minute)); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second leave should report ErrNotFound, got %v", err)
	}

	if err := db.AddParticipant(ctx, "c1", "a", "member", base.Add(3*time.Minute)); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if active, _ := db.IsActiveParticipant(ctx, "c1", "a"); !active {
		t.Error("expected re-added participant to be active")
	}
}

func TestListRecentMessagesOrderingAndLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a", "b")

	var lastID int64
	for i := 0; i < 6; i++ {
		msg := &models.Message{
			ConversationID: "c1",
			SenderID:       []string{"a", "b"}[i%2],
			Content:        fmt.Sprintf("m%d", i),
		}
		if err := db.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if msg.ID <= lastID {
			t.Fatalf("id %d not greater than previous %d", msg.ID, lastID)
		}
		if msg.CreatedAt.IsZero() || msg.CreatedAt.Location() != time.UTC {
			t.Fatalf("CreatedAt = %v, want store-assigned UTC time", msg.CreatedAt)
		}
		lastID = msg.ID
	}

	page, err := db.ListRecentMessages(ctx, "c1", 3)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	want := []string{"m3", "m4", "m5"}
	if len(page) != len(want) {
		t.Fatalf("got %d messages, want %d", len(page), len(want))
	}
	for i, w := range want {
		if page[i].Content != w {
			t.Errorf("page[%d] = %q, want %q", i, page[i].Content, w)
		}
	}
	for i := 1; i < len(page); i++ {
		if page[i].ID <= page[i-1].ID {
			t.Errorf("page not in id order at %d", i)
		}
		if page[i].CreatedAt.Before(page[i-1].CreatedAt) {
			t.Errorf("page not ascending by createdAt at %d", i)
		}
	}
	if page[0].Sender.ID != "b" || page[0].Sender.Name != "name-b" {
		t.Errorf("sender not hydrated: %+v", page[0].Sender)
	}
}

func TestCreateMessageIgnoresCallerTimestamp(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a")

	future := time.Now().Add(24 * time.Hour)
	msg := &models.Message{ConversationID: "c1", SenderID: "a", Content: "hi", CreatedAt: future}
	if err := db.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if !msg.CreatedAt.Before(future) {
		t.Errorf("CreatedAt = %v, caller value was kept", msg.CreatedAt)
	}

	stored, err := db.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.CreatedAt.Equal(msg.CreatedAt) {
		t.Errorf("stored CreatedAt = %v, returned %v", stored.CreatedAt, msg.CreatedAt)
	}
}

func TestListRecentMessagesEmpty(t *testing.T) {
	db := setupTestDB(t)
	seedConversation(t, db, "c1", "a")

	page, err := db.ListRecentMessages(context.Background(), "c1", 50)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if page == nil || len(page) != 0 {
		t.Errorf("expected empty non-nil page, got %#v", page)
	}
}

func TestListActiveParticipants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a", "b", "c")

	if err := db.LeaveConversation(ctx, "c1", "b", base.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	roster, err := db.ListActiveParticipants(ctx, "c1")
	if err != nil {
		t.Fatalf("ListActiveParticipants: %v", err)
	}
	if len(roster) != 2 || roster[0].UserID != "a" || roster[1].UserID != "c" {
		t.Fatalf("roster = %+v", roster)
	}
	if roster[0].Name != "name-a" || roster[0].Role != "member" {
		t.Errorf("roster entry = %+v", roster[0])
	}
}

func TestTouchLastReadIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a")

	later := base.Add(time.Hour)
	if err := db.TouchLastRead(ctx, "c1", "a", later); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchLastRead(ctx, "c1", "a", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	p, err := db.GetParticipant(ctx, "c1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.LastReadAt == nil || !p.LastReadAt.Equal(later) {
		t.Errorf("LastReadAt = %v, want %v", p.LastReadAt, later)
	}
}

func TestTouchLastReadIgnoresLeftParticipant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a")

	if err := db.LeaveConversation(ctx, "c1", "a", base); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchLastRead(ctx, "c1", "a", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	p, _ := db.GetParticipant(ctx, "c1", "a")
	if p.LastReadAt != nil {
		t.Errorf("expected last_read_at untouched, got %v", p.LastReadAt)
	}
}

func TestMarkMessageRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a", "b")
	seedConversation(t, db, "c2", "a")

	msg := &models.Message{ConversationID: "c1", SenderID: "a", Content: "hi"}
	if err := db.CreateMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	first := base.Add(time.Minute)
	if err := db.MarkMessageRead(ctx, "c1", msg.ID, first); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	second := base.Add(2 * time.Minute)
	if err := db.MarkMessageRead(ctx, "c1", msg.ID, second); err != nil {
		t.Fatalf("MarkMessageRead again: %v", err)
	}

	got, err := db.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReadAt == nil || !got.ReadAt.Equal(second) {
		t.Errorf("ReadAt = %v, want last write %v", got.ReadAt, second)
	}

	if err := db.MarkMessageRead(ctx, "c2", msg.ID, second); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("cross-conversation mark should be ErrNotFound, got %v", err)
	}
	if err := db.MarkMessageRead(ctx, "c1", 9999, second); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown message should be ErrNotFound, got %v", err)
	}
}

func TestTouchConversation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a")

	at := base.Add(time.Hour)
	if err := db.TouchConversation(ctx, "c1", at); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", c.UpdatedAt, at)
	}
}

func TestConcurrentCreateMessageAssignsDistinctIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedConversation(t, db, "c1", "a", "b")

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := &models.Message{ConversationID: "c1", SenderID: "a", Content: fmt.Sprint(i)}
			if err := db.CreateMessage(ctx, msg); err != nil {
				errs <- err
				return
			}
			ids <- msg.ID
		}(i)
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("CreateMessage: %v", err)
	}
	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	count, err := db.CountMessages(ctx, "c1")
	if err != nil || count != n {
		t.Errorf("CountMessages = %d, %v; want %d", count, err, n)
	}
}

func TestSeedDemoIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := db.SeedDemo(ctx); err != nil {
			t.Fatalf("SeedDemo run %d: %v", i, err)
		}
	}
	roster, err := db.ListActiveParticipants(ctx, DemoConversationID)
	if err != nil || len(roster) != 2 {
		t.Fatalf("roster = %+v, err = %v", roster, err)
	}
}

func TestPingAndEnsureContext(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ctx, cancel := db.ensureContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("expected default deadline")
	}
}

func TestIsTransactionConflict(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("TransactionContext Error: Transaction conflict: cannot update"), true},
		{errors.New("Conflict on update!"), true},
		{errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		if got := isTransactionConflict(tt.err); got != tt.want {
			t.Errorf("isTransactionConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
