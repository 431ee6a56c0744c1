/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package machinelock grants single-writer leases on machines so that one
// instance at a time analyses a given machine.
package machinelock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("machine lease held elsewhere")

// Lease is a held machine lease.
type Lease interface {
	// Lost is closed when the lease could not be renewed.
	Lost() <-chan struct{}
	Release(ctx context.Context) error
}

// Locker hands out machine leases.
type Locker interface {
	// Acquire returns ErrHeld when the machine is already leased.
	Acquire(ctx context.Context, machine string) (Lease, error)
}

// Local leases machines within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, machine string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[machine]; ok {
		return nil, ErrHeld
	}
	l.held[machine] = struct{}{}
	return &localLease{owner: l, machine: machine, lost: make(chan struct{})}, nil
}

type localLease struct {
	owner   *Local
	machine string
	lost    chan struct{}
	once    sync.Once
}

func (l *localLease) Lost() <-chan struct{} { return l.lost }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.machine)
		l.owner.mu.Unlock()
	})
	return nil
}
