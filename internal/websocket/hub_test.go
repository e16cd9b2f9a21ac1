// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/parley/internal/auth"
	"github.com/tomtom215/parley/internal/logging"
)

//nolint:gochecknoinits // quiet logs for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func admit(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	c, err := h.Admit(nil, &auth.Identity{ID: userID, Name: "name-" + userID, Role: "user"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return c
}

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestAdmitCreatesSessionAndUserGroup(t *testing.T) {
	h := NewHub(nil, 8)
	c := admit(t, h, "u1")

	s, ok := h.Session(c.ConnID())
	if !ok {
		t.Fatal("session missing")
	}
	if s.UserID != "u1" || s.Name != "name-u1" || s.ConnectedAt.IsZero() {
		t.Errorf("session = %+v", s)
	}
	if !h.groups.Has(c.ConnID(), UserGroup("u1")) {
		t.Error("connection should be in its user group")
	}
	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d", h.ClientCount())
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	h := NewHub(nil, 8)
	c := admit(t, h, "u1")

	if !h.JoinRoom(c.ConnID(), "conv") {
		t.Fatal("first join should add")
	}
	if h.JoinRoom(c.ConnID(), "conv") {
		t.Error("second join should not add")
	}

	n := h.Deliver(Delivery{Group: RoomGroup("conv"), Message: Message{Type: "x"}})
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := len(drain(c)); got != 1 {
		t.Errorf("client received %d messages, want 1", got)
	}
}

func TestDeliverExclusions(t *testing.T) {
	h := NewHub(nil, 8)
	a := admit(t, h, "a")
	b := admit(t, h, "b")
	b2 := admit(t, h, "b")
	h.JoinRoom(a.ConnID(), "conv")
	h.JoinRoom(b.ConnID(), "conv")

	h.Deliver(Delivery{Group: RoomGroup("conv"), Message: Message{Type: "typing"}, ExceptConn: a.ConnID()})
	if len(drain(a)) != 0 {
		t.Error("excluded connection received the event")
	}
	if len(drain(b)) != 1 {
		t.Error("room member missed the event")
	}

	// b has one connection in the room and one elsewhere: only b2 is notified.
	n := h.Deliver(Delivery{
		Group:         UserGroup("b"),
		Message:       Message{Type: EventNewMessageNotification},
		SkipMembersOf: RoomGroup("conv"),
	})
	if n != 1 || len(drain(b2)) != 1 || len(drain(b)) != 0 {
		t.Errorf("notification routing wrong: delivered=%d", n)
	}
}

func TestDropRemovesFromAllGroups(t *testing.T) {
	h := NewHub(nil, 8)
	c := admit(t, h, "u1")
	h.JoinRoom(c.ConnID(), "a")
	h.JoinRoom(c.ConnID(), "b")

	h.Drop(c.ConnID())
	h.Drop(c.ConnID())

	if len(h.groups.GroupsOf(c.ConnID())) != 0 {
		t.Error("dropped connection still has groups")
	}
	if h.InRoom(c.ConnID(), "a") {
		t.Error("dropped connection still in room")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if h.JoinRoom(c.ConnID(), "a") {
		t.Error("dropped connection must not rejoin")
	}
	if h.SendTo(c.ConnID(), Message{Type: "x"}) {
		t.Error("SendTo on dropped connection should fail")
	}
}

func TestDeliverEvictsFullClients(t *testing.T) {
	h := NewHub(nil, 1)
	slow := admit(t, h, "slow")
	fast := admit(t, h, "fast")
	h.JoinRoom(slow.ConnID(), "conv")
	h.JoinRoom(fast.ConnID(), "conv")

	h.Deliver(Delivery{Group: RoomGroup("conv"), Message: Message{Type: "1"}})
	drain(fast)
	h.Deliver(Delivery{Group: RoomGroup("conv"), Message: Message{Type: "2"}})

	if _, ok := h.Session(slow.ConnID()); ok {
		t.Error("slow client should have been evicted")
	}
	if _, ok := h.Session(fast.ConnID()); !ok {
		t.Error("fast client should remain")
	}
	if got := h.RoomMembers("conv"); len(got) != 1 || got[0] != fast.ConnID() {
		t.Errorf("room members = %v", got)
	}
}

func TestRunWithContextShutdown(t *testing.T) {
	h := NewHub(nil, 8)
	c := admit(t, h, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	if _, ok := <-c.send; ok {
		t.Error("client should be closed on shutdown")
	}
	if _, err := h.Admit(nil, &auth.Identity{ID: "late"}); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Admit after shutdown = %v, want ErrHubClosed", err)
	}
}

func TestShutdownReason(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if shutdownReason(ctx) != ShutdownReasonContextDeadline {
		t.Error("expected deadline reason")
	}
}
