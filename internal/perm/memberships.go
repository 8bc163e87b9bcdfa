// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package perm

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Memberships tracks which online players belong to which groups.
//
// The original design stored member sets on the group objects
// themselves; keeping the tracking here leaves Group immutable and
// gives connect/disconnect traffic a single lock to contend on while
// group-tree recalculation walks members concurrently.
type Memberships struct {
	mu       sync.RWMutex
	byPlayer map[ulid.ULID]map[string]struct{}
	byGroup  map[string]map[ulid.ULID]struct{}
}

// NewMemberships creates an empty membership tracker.
func NewMemberships() *Memberships {
	return &Memberships{
		byPlayer: make(map[ulid.ULID]map[string]struct{}),
		byGroup:  make(map[string]map[ulid.ULID]struct{}),
	}
}

// Replace sets the player's tracked memberships to exactly the given
// groups, dropping any prior tracking.
func (m *Memberships) Replace(player ulid.ULID, groups []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropLocked(player)

	set := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		set[g] = struct{}{}
		members, ok := m.byGroup[g]
		if !ok {
			members = make(map[ulid.ULID]struct{})
			m.byGroup[g] = members
		}
		members[player] = struct{}{}
	}
	if len(set) > 0 {
		m.byPlayer[player] = set
	}
}

// Drop releases every membership of the player, returning the group
// names the player was tracked in.
func (m *Memberships) Drop(player ulid.ULID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := make([]string, 0, len(m.byPlayer[player]))
	for g := range m.byPlayer[player] {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	m.dropLocked(player)
	return groups
}

// Members returns the players currently tracked in the group.
func (m *Memberships) Members(group string) []ulid.ULID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ulid.ULID, 0, len(m.byGroup[group]))
	for p := range m.byGroup[group] {
		out = append(out, p)
	}
	return out
}

// Groups returns the groups the player is currently tracked in, sorted.
func (m *Memberships) Groups(player ulid.ULID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.byPlayer[player]))
	for g := range m.byPlayer[player] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (m *Memberships) dropLocked(player ulid.ULID) {
	for g := range m.byPlayer[player] {
		members := m.byGroup[g]
		delete(members, player)
		if len(members) == 0 {
			delete(m.byGroup, g)
		}
	}
	delete(m.byPlayer, player)
}
