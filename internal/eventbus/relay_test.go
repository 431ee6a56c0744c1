/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/rs/zerolog"
)

// broker delivers synchronously to every subscriber of a subject.
type broker struct {
	mu   sync.Mutex
	subs map[string][]func([]byte)
	err  error
	sent int
}

func (b *broker) transport() transport { return brokerTransport{b} }

type brokerTransport struct{ b *broker }

func (t brokerTransport) publish(_ context.Context, subject string, data []byte) error {
	t.b.mu.Lock()
	if t.b.err != nil {
		t.b.mu.Unlock()
		return t.b.err
	}
	t.b.sent++
	subs := slices.Clone(t.b.subs[subject])
	t.b.mu.Unlock()
	for _, deliver := range subs {
		deliver(data)
	}
	return nil
}

func (t brokerTransport) subscribe(subject string, deliver func([]byte)) (func() error, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	if t.b.subs == nil {
		t.b.subs = make(map[string][]func([]byte))
	}
	t.b.subs[subject] = append(t.b.subs[subject], deliver)
	return func() error { return nil }, nil
}

func (t brokerTransport) close() error { return nil }

func TestRelayDeliversAcrossNodes(t *testing.T) {
	b := &broker{}
	a := newRelay(b.transport(), "test", "a", zerolog.Nop())
	other := newRelay(b.transport(), "test", "b", zerolog.Nop())

	local := a.Subscribe(events.EventModificationDone)
	remote := other.Subscribe(events.EventModificationDone)

	a.Publish(events.EventModificationDone, events.Payload{"id": "m1"})

	if got := len(local); got != 1 {
		t.Errorf("local subscriber got %d events, want 1 (no echo)", got)
	}
	select {
	case p := <-remote:
		if p["id"] != "m1" {
			t.Errorf("remote payload = %v", p)
		}
	default:
		t.Fatal("remote subscriber received nothing")
	}
}

func TestRelayFallsBackAfterFailures(t *testing.T) {
	b := &broker{err: errors.New("down")}
	r := newRelay(b.transport(), "test", "a", zerolog.Nop())
	sub := r.Subscribe(events.EventModificationError)

	for i := 0; i < r.maxFails+2; i++ {
		r.Publish(events.EventModificationError, events.Payload{"n": i})
	}
	if !r.useFallback {
		t.Error("relay did not switch to local delivery")
	}
	if want := r.maxFails + 2; len(sub) != want {
		t.Errorf("local subscriber got %d events, want %d", len(sub), want)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLocalRelay(t *testing.T) {
	r := NewLocal(zerolog.Nop())
	sub := r.Subscribe(events.EventModificationStuck)
	r.Publish(events.EventModificationStuck, events.Payload{})
	if len(sub) != 1 {
		t.Errorf("got %d events, want 1", len(sub))
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
