// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package websocket

import (
	"sort"
	"sync"
)

// Group key prefixes.
const (
	userGroupPrefix = "user:"
	roomGroupPrefix = "conversation:"
)

// UserGroup is the private notification group of a user.
func UserGroup(userID string) string { return userGroupPrefix + userID }

// RoomGroup is the broadcast group of a conversation.
func RoomGroup(conversationID string) string { return roomGroupPrefix + conversationID }

// Groups maps connection ids to broadcast groups in both directions so a
// disconnect can leave every group in one pass. It holds no business rules.
// The zero value is not usable; call NewGroups.
type Groups struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // group -> conn ids
	byConn  map[string]map[string]struct{} // conn id -> groups
}

// NewGroups returns an empty registry.
func NewGroups() *Groups {
	return &Groups{
		members: make(map[string]map[string]struct{}),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// Add puts connID in group. It reports false if it was already a member,
// so a connection is never counted twice.
func (g *Groups) Add(connID, group string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.members[group]
	if set == nil {
		set = make(map[string]struct{})
		g.members[group] = set
	}
	if _, ok := set[connID]; ok {
		return false
	}
	set[connID] = struct{}{}

	groups := g.byConn[connID]
	if groups == nil {
		groups = make(map[string]struct{})
		g.byConn[connID] = groups
	}
	groups[group] = struct{}{}
	return true
}

// Remove takes connID out of group and reports whether it was a member.
func (g *Groups) Remove(connID, group string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(connID, group)
}

func (g *Groups) removeLocked(connID, group string) bool {
	set, ok := g.members[group]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(g.members, group)
	}
	if groups := g.byConn[connID]; groups != nil {
		delete(groups, group)
		if len(groups) == 0 {
			delete(g.byConn, connID)
		}
	}
	return true
}

// RemoveAll takes connID out of every group and returns the groups it left.
func (g *Groups) RemoveAll(connID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	left := make([]string, 0, len(g.byConn[connID]))
	for group := range g.byConn[connID] {
		left = append(left, group)
	}
	for _, group := range left {
		g.removeLocked(connID, group)
	}
	sort.Strings(left)
	return left
}

// MembersOf returns the connection ids in group, sorted.
func (g *Groups) MembersOf(group string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.members[group]))
	for id := range g.members[group] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GroupsOf returns the groups connID belongs to, sorted.
func (g *Groups) GroupsOf(connID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]string, 0, len(g.byConn[connID]))
	for group := range g.byConn[connID] {
		out = append(out, group)
	}
	sort.Strings(out)
	return out
}

// Has reports whether connID is in group.
func (g *Groups) Has(connID, group string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[group][connID]
	return ok
}

// Count returns the number of non-empty groups whose key starts with prefix.
func (g *Groups) Count(prefix string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for group := range g.members {
		if len(group) >= len(prefix) && group[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
