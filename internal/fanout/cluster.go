// Parley - Real-time Conversation Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parley

package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/parley/internal/config"
	"github.com/tomtom215/parley/internal/logging"
	"github.com/tomtom215/parley/internal/metrics"
	"github.com/tomtom215/parley/internal/websocket"
)

// Publish outcome label values.
const (
	publishOK       = "ok"
	publishError    = "error"
	publishFallback = "fallback"
)

// envelope is the bus payload. Origin lets an instance skip its own
// deliveries, which it has already made locally.
type envelope struct {
	Origin   string             `json:"origin"`
	Delivery websocket.Delivery `json:"delivery"`
}

// Cluster delivers locally first and then publishes the delivery for the
// other instances. While the breaker is open only local delivery happens.
type Cluster struct {
	local      Deliverer
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	origin     string
	breaker    *gobreaker.CircuitBreaker[interface{}]

	readyOnce sync.Once
	ready     chan struct{}
}

// NewCluster wires a broadcaster over an existing watermill publisher and
// subscriber pair.
func NewCluster(local Deliverer, pub message.Publisher, sub message.Subscriber, cfg *config.FanoutConfig) *Cluster {
	return &Cluster{
		local:      local,
		publisher:  pub,
		subscriber: sub,
		topic:      cfg.Subject,
		origin:     uuid.NewString(),
		breaker:    newBreaker("fanout-publish", cfg.BreakerMaxFailures, cfg.BreakerTimeout),
		ready:      make(chan struct{}),
	}
}

// Origin identifies this instance on the bus.
func (c *Cluster) Origin() string { return c.origin }

// Ready is closed once Run has subscribed.
func (c *Cluster) Ready() <-chan struct{} { return c.ready }

// Broadcast delivers d to local members and relays it to the cluster.
// Publish failures are logged and counted; local members are always served.
func (c *Cluster) Broadcast(ctx context.Context, d websocket.Delivery) {
	c.local.Deliver(d)

	payload, err := json.Marshal(envelope{Origin: c.origin, Delivery: d})
	if err != nil {
		metrics.FanoutPublished.WithLabelValues(publishError).Inc()
		logging.Ctx(ctx).Error().Err(err).Str("group", d.Group).Msg("failed to encode delivery")
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.publisher.Publish(c.topic, msg)
	})
	switch {
	case err == nil:
		metrics.FanoutPublished.WithLabelValues(publishOK).Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.FanoutPublished.WithLabelValues(publishFallback).Inc()
		logging.Ctx(ctx).Debug().Str("group", d.Group).Msg("fanout breaker open, delivered locally only")
	default:
		metrics.FanoutPublished.WithLabelValues(publishError).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("group", d.Group).Msg("failed to publish delivery")
	}
}

// Run consumes deliveries published by other instances until ctx is done.
func (c *Cluster) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	c.readyOnce.Do(func() { close(c.ready) })

	logging.Info().Str("topic", c.topic).Str("origin", c.origin).Msg("fanout subscriber started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.receive(msg)
		}
	}
}

func (c *Cluster) receive(msg *message.Message) {
	defer msg.Ack()

	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed fanout message")
		return
	}
	if env.Origin == c.origin {
		return
	}
	metrics.FanoutReceived.Inc()
	c.local.Deliver(env.Delivery)
}

// Close releases the publisher and subscriber.
func (c *Cluster) Close() error {
	return errors.Join(c.publisher.Close(), c.subscriber.Close())
}
