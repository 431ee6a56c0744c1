/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus to a message broker so
// that every instance sees modification lifecycle events.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// transport is the broker side of a Relay.
type transport interface {
	publish(ctx context.Context, subject string, data []byte) error
	// subscribe calls deliver for every message on subject until the
	// returned cancel function runs.
	subscribe(subject string, deliver func([]byte)) (cancel func() error, err error)
	close() error
}

// Relay publishes locally and to the broker, and feeds broker messages
// from other nodes to local subscribers. After maxFails consecutive broker
// failures it stays local only.
type Relay struct {
	local  *events.Bus
	tr     transport
	prefix string
	nodeID string
	logger zerolog.Logger

	mu          sync.Mutex
	remote      map[events.EventType]func() error
	failCount   int
	maxFails    int
	useFallback bool
}

func newRelay(tr transport, prefix, nodeID string, logger zerolog.Logger) *Relay {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return &Relay{
		local:    events.NewBus(),
		tr:       tr,
		prefix:   prefix,
		nodeID:   nodeID,
		logger:   logger.With().Str("component", "eventbus").Logger(),
		remote:   make(map[events.EventType]func() error),
		maxFails: 5,
	}
}

func (r *Relay) subject(eventType events.EventType) string {
	return r.prefix + "." + string(eventType)
}

// Subscribe registers a local subscriber and starts listening on the
// broker for the event type.
func (r *Relay) Subscribe(eventType events.EventType) events.Subscriber {
	sub := r.local.Subscribe(eventType)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.useFallback || r.tr == nil {
		return sub
	}
	if _, ok := r.remote[eventType]; ok {
		return sub
	}
	cancel, err := r.tr.subscribe(r.subject(eventType), func(data []byte) { r.receive(eventType, data) })
	if err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("broker subscription failed, local delivery only")
		return sub
	}
	r.remote[eventType] = cancel
	return sub
}

func (r *Relay) receive(eventType events.EventType, data []byte) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to unmarshal broker message")
		return
	}
	if msg.NodeID == r.nodeID {
		return
	}
	r.local.Publish(eventType, msg.Payload)
}

// Publish sends payload to local subscribers and to the broker.
func (r *Relay) Publish(eventType events.EventType, payload events.Payload) {
	r.local.Publish(eventType, payload)

	r.mu.Lock()
	fallback := r.useFallback || r.tr == nil
	r.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalMessage(eventType, payload, r.nodeID)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal broker message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.tr.publish(ctx, r.subject(eventType), data); err != nil {
		r.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to broker")
		r.handleFailure()
		return
	}

	r.mu.Lock()
	r.failCount = 0
	r.mu.Unlock()
}

// Unsubscribe removes a local subscriber.
func (r *Relay) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	r.local.Unsubscribe(eventType, sub)
}

// Close stops broker subscriptions and the broker connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for eventType, cancel := range r.remote {
		if err := cancel(); err != nil {
			r.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("closing broker subscription")
		}
	}
	clear(r.remote)
	if r.tr == nil {
		return nil
	}
	if err := r.tr.close(); err != nil {
		return fmt.Errorf("close broker: %w", err)
	}
	return nil
}

func (r *Relay) handleFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCount++
	if r.failCount >= r.maxFails && !r.useFallback {
		r.logger.Warn().Int("fail_count", r.failCount).Msg("broker failure threshold reached, switching to local delivery")
		r.useFallback = true
	}
}

// message is the broker envelope.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal broker message: %w", err)
	}
	return &msg, nil
}

// NewLocal returns a relay without a broker.
func NewLocal(logger zerolog.Logger) *Relay {
	return newRelay(nil, "", "", logger)
}
