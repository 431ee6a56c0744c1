/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package machinelock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultKeyPrefix = "slotwise:machine:"

// Renews only while the caller still owns the key.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisConfig configures Redis leases.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL is the lease duration; it is renewed every TTL/3 while held.
	TTL        time.Duration
	InstanceID string
}

// Redis leases machines through SET NX keys with a TTL.
type Redis struct {
	client *redis.Client
	config RedisConfig
	logger zerolog.Logger
}

// NewRedis connects to Redis.
func NewRedis(config RedisConfig, logger zerolog.Logger) (*Redis, error) {
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().
		Str("redis_addr", config.Addr).
		Str("instance_id", config.InstanceID).
		Msg("connected to Redis for machine leases")

	return &Redis{
		client: client,
		config: config,
		logger: logger.With().Str("component", "machinelock").Logger(),
	}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Acquire takes the lease of machine and keeps renewing it until released.
func (r *Redis) Acquire(ctx context.Context, machine string) (Lease, error) {
	key := r.config.KeyPrefix + machine
	token := r.config.InstanceID + "/" + uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.config.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("set lease %s: %w", machine, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	l := &redisLease{
		owner:  r,
		key:    key,
		token:  token,
		cancel: cancel,
		lost:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.renewLoop(renewCtx)
	return l, nil
}

type redisLease struct {
	owner  *Redis
	key    string
	token  string
	cancel context.CancelFunc
	lost   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *redisLease) Lost() <-chan struct{} { return l.lost }

func (l *redisLease) renewLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.owner.config.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.owner.client, []string{l.key}, l.token, l.owner.config.TTL.Milliseconds()).Int()
			if ctx.Err() != nil {
				return
			}
			if err != nil || n == 0 {
				l.owner.logger.Warn().Err(err).Str("key", l.key).Msg("lost machine lease")
				close(l.lost)
				return
			}
		}
	}
}

// Release stops renewal and deletes the key if still owned.
func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		<-l.done
		if e := releaseScript.Run(ctx, l.owner.client, []string{l.key}, l.token).Err(); e != nil && e != redis.Nil {
			err = fmt.Errorf("release lease: %w", e)
		}
	})
	return err
}
