// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/parley/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// clientSeq orders clients by admission for deterministic delivery.
var clientSeq atomic.Uint64

// Dispatcher handles decoded inbound events. Dispatch is called from the
// connection's read goroutine, so events of one connection are handled in
// order while different connections proceed concurrently.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, ev Inbound)
}

// Client is the bridge between one websocket connection and the hub.
type Client struct {
	seq     uint64
	session Session
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message

	// closed is guarded by hub.mu.
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, session Session, buffer int) *Client {
	return &Client{
		seq:     clientSeq.Add(1),
		session: session,
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, buffer),
	}
}

// ConnID returns the connection id.
func (c *Client) ConnID() string { return c.session.ConnID }

// Session returns the immutable session record.
func (c *Client) Session() Session { return c.session }

// Outbound exposes the queued outbound messages. The channel is closed when
// the client is dropped.
func (c *Client) Outbound() <-chan Message { return c.send }

// Start runs the read and write pumps. The connection context passed to
// the dispatcher is canceled when the read side ends.
func (c *Client) Start(parent context.Context, d Dispatcher) {
	ctx, cancel := context.WithCancel(logging.ContextWithConnection(parent, c.session.ConnID, c.session.UserID))
	go c.writePump()
	go func() {
		defer cancel()
		c.readPump(ctx, d)
	}()
}

func (c *Client) readPump(ctx context.Context, d Dispatcher) {
	defer func() {
		c.hub.Drop(c.session.ConnID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Ctx(ctx).Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var ev Inbound
		if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
			c.hub.SendTo(c.session.ConnID, NewError("malformed event"))
			continue
		}
		if ev.Type == EventPing {
			c.hub.SendTo(c.session.ConnID, Message{Type: EventPong})
			continue
		}
		d.Dispatch(ctx, c.session.ConnID, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				logging.Error().Err(err).Str("type", msg.Type).Msg("failed to encode outbound event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
