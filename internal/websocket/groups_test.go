// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package websocket

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestGroupsAddRemove(t *testing.T) {
	g := NewGroups()

	if !g.Add("c1", "room") {
		t.Fatal("first add should report true")
	}
	if g.Add("c1", "room") {
		t.Error("duplicate add should report false")
	}
	g.Add("c2", "room")

	if got := g.MembersOf("room"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Errorf("MembersOf = %v", got)
	}
	if !g.Remove("c1", "room") {
		t.Error("remove of member should report true")
	}
	if g.Remove("c1", "room") {
		t.Error("remove of non-member should report false")
	}
	if g.Has("c1", "room") {
		t.Error("c1 should be gone")
	}
}

func TestGroupsRemoveAll(t *testing.T) {
	g := NewGroups()
	g.Add("c1", UserGroup("u1"))
	g.Add("c1", RoomGroup("a"))
	g.Add("c1", RoomGroup("b"))
	g.Add("c2", RoomGroup("a"))

	left := g.RemoveAll("c1")
	want := []string{RoomGroup("a"), RoomGroup("b"), UserGroup("u1")}
	if !reflect.DeepEqual(left, want) {
		t.Errorf("RemoveAll = %v, want %v", left, want)
	}
	if len(g.GroupsOf("c1")) != 0 {
		t.Error("c1 should have no groups")
	}
	if got := g.MembersOf(RoomGroup("a")); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Errorf("room a = %v", got)
	}
	if len(g.MembersOf(RoomGroup("b"))) != 0 {
		t.Error("room b should be empty")
	}
	if g.Count(roomGroupPrefix) != 1 {
		t.Errorf("Count = %d, want 1", g.Count(roomGroupPrefix))
	}
}

func TestGroupsIndependentInstances(t *testing.T) {
	a, b := NewGroups(), NewGroups()
	a.Add("c1", "room")
	if b.Has("c1", "room") {
		t.Error("registries must not share state")
	}
}

func TestGroupsConcurrent(t *testing.T) {
	g := NewGroups()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			g.Add(conn, "room")
			g.Add(conn, UserGroup(conn))
			if i%2 == 0 {
				g.RemoveAll(conn)
			}
		}(i)
	}
	wg.Wait()

	if got := len(g.MembersOf("room")); got != 25 {
		t.Errorf("room members = %d, want 25", got)
	}
}
