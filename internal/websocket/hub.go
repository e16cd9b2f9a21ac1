// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package websocket is the connection registry: it admits authenticated
// connections, owns their immutable sessions, tracks user and room group
// membership, and delivers events to live connections. It holds no business
// rules and is never consulted for authorization.
package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/parley/internal/auth"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
)

// ErrHubClosed is returned by Admit after shutdown has begun.
var ErrHubClosed = errors.New("connection registry is shut down")

// ShutdownReason describes why RunWithContext returned.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

const (
	defaultSendBuffer = 256
	statsInterval     = 15 * time.Second
)

// Session is the per-connection identity record. It is created once on
// admission and never mutated.
type Session struct {
	ConnID      string
	UserID      string
	Name        string
	Role        string
	ConnectedAt time.Time
}

// Hub tracks live clients and their group memberships. Every mutation of a
// client's send channel happens under mu, so a channel is never written
// after it is closed.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	groups     *Groups
	sendBuffer int
	closed     bool
}

// NewHub creates a hub over groups. A nil groups gets a fresh registry.
func NewHub(groups *Groups, sendBuffer int) *Hub {
	if groups == nil {
		groups = NewGroups()
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		clients:    make(map[string]*Client),
		groups:     groups,
		sendBuffer: sendBuffer,
	}
}

// Admit registers an authenticated connection and joins it to the user's
// private group. conn may be nil in tests that never start the pumps.
func (h *Hub) Admit(conn *websocket.Conn, id *auth.Identity) (*Client, error) {
	session := Session{
		ConnID:      uuid.NewString(),
		UserID:      id.ID,
		Name:        id.Name,
		Role:        id.Role,
		ConnectedAt: time.Now().UTC(),
	}
	client := newClient(h, conn, session, h.sendBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.clients[session.ConnID] = client
	h.groups.Add(session.ConnID, UserGroup(session.UserID))
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	logging.Info().
		Str("conn_id", session.ConnID).
		Str("user_id", session.UserID).
		Int("total_clients", total).
		Msg("websocket client connected")
	return client, nil
}

// Drop removes a connection from every group and closes its send channel.
// Participant rows are untouched: a disconnect is not a membership change.
// Safe to call more than once.
func (h *Hub) Drop(connID string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	left := h.dropLocked(client)
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	logging.Info().
		Str("conn_id", connID).
		Str("user_id", client.session.UserID).
		Strs("groups_left", left).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

func (h *Hub) dropLocked(c *Client) []string {
	delete(h.clients, c.session.ConnID)
	left := h.groups.RemoveAll(c.session.ConnID)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return left
}

// Session returns the session of a live connection.
func (h *Hub) Session(connID string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return Session{}, false
	}
	return c.session, true
}

// JoinRoom adds a live connection to a conversation group. It reports
// false if the connection is gone or was already in the room.
func (h *Hub) JoinRoom(connID, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[connID]; !ok {
		return false
	}
	return h.groups.Add(connID, RoomGroup(conversationID))
}

// LeaveRoom removes a connection from a conversation group.
func (h *Hub) LeaveRoom(connID, conversationID string) bool {
	return h.groups.Remove(connID, RoomGroup(conversationID))
}

// InRoom reports whether the connection is currently in the conversation group.
func (h *Hub) InRoom(connID, conversationID string) bool {
	return h.groups.Has(connID, RoomGroup(conversationID))
}

// RoomMembers returns the connection ids in a conversation group.
func (h *Hub) RoomMembers(conversationID string) []string {
	return h.groups.MembersOf(RoomGroup(conversationID))
}

// SendTo queues msg for a single connection. It reports false if the
// connection is gone or its buffer is full, in which case it is dropped.
func (h *Hub) SendTo(connID string, msg Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok || c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		h.evictLocked(c)
		return false
	}
}

// Deliver queues d.Message for every local member of d.Group, in client
// admission order. Clients whose buffer is full are dropped rather than
// allowed to stall the room. Returns the number of clients reached.
func (h *Hub) Deliver(d Delivery) int {
	members := h.groups.MembersOf(d.Group)
	if len(members) == 0 {
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make([]*Client, 0, len(members))
	for _, id := range members {
		if id == d.ExceptConn {
			continue
		}
		if d.SkipMembersOf != "" && h.groups.Has(id, d.SkipMembersOf) {
			continue
		}
		if c, ok := h.clients[id]; ok && !c.closed {
			targets = append(targets, c)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].seq < targets[j].seq })

	delivered := 0
	for _, c := range targets {
		select {
		case c.send <- d.Message:
			delivered++
		default:
			h.evictLocked(c)
		}
	}
	return delivered
}

func (h *Hub) evictLocked(c *Client) {
	h.dropLocked(c)
	metrics.SlowClientsDropped.Inc()
	metrics.ActiveConnections.Set(float64(len(h.clients)))
	logging.Warn().
		Str("conn_id", c.session.ConnID).
		Str("user_id", c.session.UserID).
		Msg("send buffer full, dropping websocket client")
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of conversations with at least one live connection.
func (h *Hub) RoomCount() int {
	return h.groups.Count(roomGroupPrefix)
}

// RunWithContext publishes registry gauges until ctx is done, then refuses
// new admissions and closes every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case <-ticker.C:
			metrics.ActiveConnections.Set(float64(h.ClientCount()))
			metrics.ActiveRooms.Set(float64(h.RoomCount()))
		}
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].seq < clients[j].seq })
	for _, c := range clients {
		h.dropLocked(c)
	}
	h.mu.Unlock()

	metrics.ActiveConnections.Set(0)
	metrics.ActiveRooms.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(shutdownReason(ctx))).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

func shutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}
