// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

// Package gateway is the conversation gateway. Every inbound event is an
// independent operation that re-derives its legality from the durable
// store; nothing about membership is cached between calls.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
	"github.com/tomtom215/parley/internal/models"
	"github.com/tomtom215/parley/internal/websocket"
)

// Store is the durable store contract used by the gateway.
type Store interface {
	IsActiveParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]models.MessageView, error)
	ListActiveParticipants(ctx context.Context, conversationID string) ([]models.ParticipantView, error)
	TouchLastRead(ctx context.Context, conversationID, userID string, at time.Time) error
	CreateMessage(ctx context.Context, msg *models.Message) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
	MarkMessageRead(ctx context.Context, conversationID string, messageID int64, at time.Time) error
}

// Registry is the slice of the connection registry the gateway drives.
type Registry interface {
	Session(connID string) (websocket.Session, bool)
	JoinRoom(connID, conversationID string) bool
	LeaveRoom(connID, conversationID string) bool
	InRoom(connID, conversationID string) bool
	SendTo(connID string, msg websocket.Message) bool
}

// Broadcaster delivers to every connection of a group, on this instance
// and, in cluster mode, on every other one.
type Broadcaster interface {
	Broadcast(ctx context.Context, d websocket.Delivery)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for createdAt, readAt and
// lastReadAt.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway implements websocket.Dispatcher.
type Gateway struct {
	store    Store
	registry Registry
	fanout   Broadcaster
	cfg      config.BrokerConfig
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a gateway.
func New(store Store, registry Registry, fanout Broadcaster, cfg *config.BrokerConfig, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		registry: registry,
		fanout:   fanout,
		cfg:      *cfg,
		now:      func() time.Time { return time.Now().UTC() },
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dispatch runs one inbound event to completion and reports any failure to
// the originating connection. The operation runs on a context detached from
// the connection, so a disconnect never cancels a store write half way.
func (g *Gateway) Dispatch(ctx context.Context, connID string, ev websocket.Inbound) {
	start := time.Now()
	event := eventLabel(ev.Type)
	outcome := metrics.OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().
				Str("event", ev.Type).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic in event handler")
			g.registry.SendTo(connID, websocket.NewError(ErrInfrastructure.Error()))
			outcome = metrics.OutcomeError
		}
		metrics.RecordEvent(event, outcome, time.Since(start))
	}()

	session, ok := g.registry.Session(connID)
	if !ok {
		outcome = g.report(ctx, connID, event, ErrUnauthenticated)
		return
	}
	if !g.allow(ctx, connID) {
		outcome = g.report(ctx, connID, event, ErrRateLimited)
		return
	}

	opCtx, cancel := g.operationContext(ctx)
	defer cancel()

	outcome = g.report(ctx, connID, event, g.handle(opCtx, session, ev))
}

func (g *Gateway) handle(ctx context.Context, s websocket.Session, ev websocket.Inbound) error {
	switch ev.Type {
	case websocket.EventJoinConversation:
		var p ConversationPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return g.Join(ctx, s, p.ConversationID)

	case websocket.EventLeaveConversation:
		var p ConversationPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		g.Leave(ctx, s, p.ConversationID)
		return nil

	case websocket.EventSendMessage:
		var p SendPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		_, err := g.Send(ctx, s, p)
		return err

	case websocket.EventTypingStart, websocket.EventTypingStop:
		var p ConversationPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return g.Typing(ctx, s, p.ConversationID, ev.Type == websocket.EventTypingStart)

	case websocket.EventMarkRead:
		var p MarkReadPayload
		if err := decode(ev.Data, &p); err != nil {
			return err
		}
		return g.MarkRead(ctx, s, p.ConversationID, p.MessageID)

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, ev.Type)
	}
}

// report converts err into an error event and returns the metrics outcome.
func (g *Gateway) report(ctx context.Context, connID, event string, err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	if errors.Is(err, errIgnored) {
		return metrics.OutcomeIgnored
	}

	msg, clientSide := clientMessage(err)
	if clientSide {
		logging.Ctx(ctx).Debug().Str("event", event).Err(err).Msg("event rejected")
		g.registry.SendTo(connID, websocket.NewError(msg))
		return metrics.OutcomeRejected
	}

	metrics.StoreErrors.WithLabelValues(event).Inc()
	logging.Ctx(ctx).Error().Str("event", event).Err(err).Msg("event failed")
	g.registry.SendTo(connID, websocket.NewError(msg))
	return metrics.OutcomeError
}

func (g *Gateway) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if g.cfg.OperationTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, g.cfg.OperationTimeout)
}

// allow takes one token from the connection's limiter. The limiter is
// created on first use and released when the connection context ends.
func (g *Gateway) allow(ctx context.Context, connID string) bool {
	if g.cfg.InboundRate <= 0 {
		return true
	}

	g.mu.Lock()
	limiter, ok := g.limiters[connID]
	if !ok {
		burst := g.cfg.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(g.cfg.InboundRate), burst)
		g.limiters[connID] = limiter
		context.AfterFunc(ctx, func() { g.forget(connID) })
	}
	g.mu.Unlock()

	return limiter.Allow()
}

func (g *Gateway) forget(connID string) {
	g.mu.Lock()
	delete(g.limiters, connID)
	g.mu.Unlock()
}

func (g *Gateway) limiterCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

// eventLabel bounds the metrics label set to known event types.
func eventLabel(t string) string {
	switch t {
	case websocket.EventJoinConversation, websocket.EventLeaveConversation,
		websocket.EventSendMessage, websocket.EventTypingStart,
		websocket.EventTypingStop, websocket.EventMarkRead:
		return t
	default:
		return "unknown"
	}
}
