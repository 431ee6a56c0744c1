/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package machinelock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLocalLeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	lease, err := l.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "m1"); !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire() error = %v, want %v", err, ErrHeld)
	}
	if _, err := l.Acquire(ctx, "m2"); err != nil {
		t.Errorf("Acquire(m2) error = %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "m1"); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestRedisLease(t *testing.T) {
	addr := os.Getenv("SLOTWISE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping test: SLOTWISE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	cfg := RedisConfig{Addr: addr, KeyPrefix: "slotwise:test:", TTL: time.Second}
	a, err := NewRedis(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer a.Close()
	b, err := NewRedis(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer b.Close()

	lease, err := a.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := b.Acquire(ctx, "m1"); !errors.Is(err, ErrHeld) {
		t.Errorf("Acquire() while renewed error = %v, want %v", err, ErrHeld)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	other, err := b.Acquire(ctx, "m1")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = other.Release(ctx)
}
