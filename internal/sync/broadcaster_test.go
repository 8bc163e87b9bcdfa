// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package sync

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	event := Recalculation{ID: ulid.Make(), Player: ulid.Make(), Cause: "connect", Nodes: 3}
	b.Broadcast(event)

	assert.Equal(t, event, <-ch1)
	assert.Equal(t, event, <-ch2)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Broadcast after unsubscribe must not panic.
	b.Broadcast(Recalculation{ID: ulid.Make()})
}

func TestBroadcaster_DropsWhenBufferFull(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()

	for i := 0; i < 150; i++ {
		b.Broadcast(Recalculation{ID: ulid.Make(), Cause: "group_set"})
	}

	// The buffer holds 100; the rest were dropped without blocking.
	assert.Len(t, ch, 100)
}
