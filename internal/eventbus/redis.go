/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	NodeID        string
	DialTimeout   time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "slotwise:events",
		DialTimeout:   5 * time.Second,
	}
}

type redisTransport struct {
	client *redis.Client
}

func (t redisTransport) publish(ctx context.Context, subject string, data []byte) error {
	return t.client.Publish(ctx, subject, data).Err()
}

func (t redisTransport) subscribe(subject string, deliver func([]byte)) (func() error, error) {
	pubsub := t.client.Subscribe(context.Background(), subject)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range pubsub.Channel() {
			deliver([]byte(msg.Payload))
		}
	}()
	return func() error {
		err := pubsub.Close()
		wg.Wait()
		return err
	}, nil
}

func (t redisTransport) close() error {
	return t.client.Close()
}

// NewRedis connects to Redis and returns a relay using pub/sub channels.
func NewRedis(cfg RedisConfig, logger zerolog.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect Redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr).Msg("Redis event bus initialized")
	return newRelay(redisTransport{client: client}, cfg.ChannelPrefix, cfg.NodeID, logger), nil
}
