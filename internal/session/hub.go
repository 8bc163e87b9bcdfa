// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

// Package session tracks connected players and pushes resolved
// permission sets into their live sessions.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/permsync/permsync/internal/perm"
)

// Sink receives resolved permission sets for one connected player.
// Implementations belong to the hosting process (a proxy connection, a
// game session) and must tolerate concurrent calls.
type Sink interface {
	// OverwritePermissions replaces the player's effective permission
	// set wholesale. Nothing of the previous set survives.
	OverwritePermissions(perms perm.Set)
}

// entry pairs a sink with its registration time and the last delivered
// permission set, kept queryable through Has.
type entry struct {
	sink        Sink
	connectedAt time.Time
	perms       perm.Set
	matcher     *perm.Matcher
}

// Hub tracks the sinks of currently connected players.
type Hub struct {
	mu    sync.RWMutex
	sinks map[ulid.ULID]entry
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sinks: make(map[ulid.ULID]entry),
	}
}

// Register attaches a sink for a player. Reconnecting replaces the
// previous sink; the stale one stops receiving updates immediately.
func (h *Hub) Register(player ulid.ULID, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sinks[player]; exists {
		slog.Debug("replacing existing session sink", "player", player.String())
	}
	h.sinks[player] = entry{sink: sink, connectedAt: time.Now()}
}

// Remove detaches a player's sink. Returns an error if the player has
// no registered sink.
func (h *Hub) Remove(player ulid.ULID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sinks[player]; !exists {
		return oops.In("session").Code("SESSION_NOT_FOUND").
			With("player", player.String()).
			Errorf("no session for player %s", player.String())
	}
	delete(h.sinks, player)
	return nil
}

// Connected reports whether the player currently has a sink.
func (h *Hub) Connected(player ulid.ULID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.sinks[player]
	return exists
}

// Deliver pushes a permission set to the player's sink and caches it
// for Has queries. Returns false if the player disconnected since the
// resolution was scheduled.
func (h *Hub) Deliver(player ulid.ULID, perms perm.Set) bool {
	matcher, err := perm.NewMatcher(perms)
	if err != nil {
		// Fall back to exact lookups; the set itself is still valid.
		slog.Warn("permission set has an invalid wildcard node",
			"player", player.String(),
			"error", err)
		matcher = nil
	}

	h.mu.Lock()
	e, exists := h.sinks[player]
	if !exists {
		h.mu.Unlock()
		return false
	}
	e.perms = perms
	e.matcher = matcher
	h.sinks[player] = e
	h.mu.Unlock()

	e.sink.OverwritePermissions(perms)
	return true
}

// Has answers whether the player's last delivered set grants the node,
// expanding wildcard grants like "command.*". False for players with no
// session or no delivered set yet.
func (h *Hub) Has(player ulid.ULID, node string) bool {
	h.mu.RLock()
	e, exists := h.sinks[player]
	h.mu.RUnlock()

	if !exists {
		return false
	}
	if e.matcher != nil {
		return e.matcher.Has(node)
	}
	return e.perms[node]
}

// Players returns the IDs of all connected players.
func (h *Hub) Players() []ulid.ULID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]ulid.ULID, 0, len(h.sinks))
	for id := range h.sinks {
		result = append(result, id)
	}
	return result
}

// Len returns the number of connected players.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}
