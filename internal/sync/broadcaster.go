// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Recalculation announces that a player's effective permission set was
// recomputed and delivered.
type Recalculation struct {
	ID     ulid.ULID
	Player ulid.ULID
	Cause  string
	Nodes  int
	At     time.Time
}

// Broadcaster distributes recalculation events to subscribers.
// Subscribers that fall behind lose events rather than blocking the
// resolution path.
type Broadcaster struct {
	mu   sync.RWMutex
	subs []chan Recalculation
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe creates a buffered channel receiving recalculation events.
func (b *Broadcaster) Subscribe() chan Recalculation {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Recalculation, 100)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Recalculation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Broadcast sends an event to all subscribers.
func (b *Broadcaster) Broadcast(event Recalculation) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			slog.Warn("recalculation event dropped: subscriber buffer full",
				"player", event.Player.String(),
				"cause", event.Cause,
			)
		}
	}
}
