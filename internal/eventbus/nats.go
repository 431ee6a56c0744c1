/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	NodeID        string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "slotwise.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

type natsTransport struct {
	conn *nats.Conn
}

func (t natsTransport) publish(_ context.Context, subject string, data []byte) error {
	return t.conn.Publish(subject, data)
}

func (t natsTransport) subscribe(subject string, deliver func([]byte)) (func() error, error) {
	sub, err := t.conn.Subscribe(subject, func(m *nats.Msg) { deliver(m.Data) })
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

func (t natsTransport) close() error {
	return t.conn.Drain()
}

// NewNATS connects to NATS and returns a relay publishing on
// <prefix>.<event type> subjects.
func NewNATS(cfg NATSConfig, logger zerolog.Logger) (*Relay, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("slotwise"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	logger.Info().Str("url", cfg.URL).Msg("NATS event bus initialized")
	return newRelay(natsTransport{conn: conn}, cfg.SubjectPrefix, cfg.NodeID, logger), nil
}
