// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package perm

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// GroupRecord is one (group, permission) row from the store's full
// enumeration. A group without direct permissions appears as a single
// record with an empty Node.
type GroupRecord struct {
	ID       int
	Name     string
	Priority int
	Node     string
	Value    bool
}

// InheritanceRecord is one (child, parent) edge from the store.
type InheritanceRecord struct {
	Child  string
	Parent string
}

// Snapshot is an immutable view of every mirrored group plus a derived
// children reverse index. It is safe for concurrent reads without
// locking.
type Snapshot struct {
	groups    map[string]*Group
	children  map[string][]string
	CreatedAt time.Time
}

// Get returns the group with the given name, or nil.
func (s *Snapshot) Get(name string) *Group {
	return s.groups[name]
}

// Len returns the number of groups in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.groups)
}

// Names returns every group name in the snapshot, sorted.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Children returns the names of groups whose parent is the given group.
func (s *Snapshot) Children(name string) []string {
	kids := s.children[name]
	out := make([]string, len(kids))
	copy(out, kids)
	return out
}

// Descendants returns every group transitively inheriting from the
// given group, breadth-first. The group itself is not included. A
// visited set guards against cyclic edges in corrupt data.
func (s *Snapshot) Descendants(name string) []string {
	var out []string
	visited := map[string]bool{name: true}
	queue := append([]string(nil), s.children[name]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		out = append(out, next)
		queue = append(queue, s.children[next]...)
	}
	return out
}

// DirectGroups maps the player's membership names onto groups present
// in this snapshot. Unknown names are skipped: a group referenced
// before its creation has propagated is not an error. When no
// membership resolves and a fallback group exists, the fallback is the
// sole membership, guaranteeing every player a non-empty base set.
func (s *Snapshot) DirectGroups(names []string, fallback string) []*Group {
	groups := make([]*Group, 0, len(names))
	for _, name := range names {
		if g := s.groups[name]; g != nil {
			groups = append(groups, g)
		}
	}
	if len(groups) == 0 && fallback != "" {
		if g := s.groups[fallback]; g != nil {
			groups = append(groups, g)
		}
	}
	return groups
}

// newSnapshot publishes a group map, deriving the children index.
// The map is owned by the snapshot after this call.
func newSnapshot(groups map[string]*Group) *Snapshot {
	children := make(map[string][]string)
	for name, g := range groups {
		if g.Parent != "" {
			children[g.Parent] = append(children[g.Parent], name)
		}
	}
	for _, kids := range children {
		sort.Strings(kids)
	}
	return &Snapshot{
		groups:    groups,
		children:  children,
		CreatedAt: time.Now(),
	}
}

// Registry holds the current group snapshot and applies mutations
// copy-on-write: every change builds a fresh snapshot and swaps the
// pointer, so readers pinning a snapshot never observe partial state.
type Registry struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewRegistry creates an empty registry. Call Load before serving.
func NewRegistry() *Registry {
	return &Registry{snap: newSnapshot(map[string]*Group{})}
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Load builds a fresh snapshot from a full store enumeration and swaps
// it in atomically. Groups are built first, parents wired second, since
// a parent cannot resolve until every group exists. The prior snapshot
// stays visible until the swap, so a failed read upstream never leaves
// readers with a half-built graph.
func (r *Registry) Load(records []GroupRecord, edges []InheritanceRecord) {
	groups := make(map[string]*Group)
	for _, rec := range records {
		g, ok := groups[rec.Name]
		if !ok {
			g = NewGroup(rec.ID, rec.Name, rec.Priority)
			groups[rec.Name] = g
		}
		if rec.Node != "" {
			g.Permissions = append(g.Permissions, Permission{Node: rec.Node, Value: rec.Value})
		}
	}
	for _, edge := range edges {
		child, ok := groups[edge.Child]
		if !ok {
			slog.Warn("inheritance edge references unknown child group",
				"child", edge.Child, "parent", edge.Parent)
			continue
		}
		if _, ok := groups[edge.Parent]; !ok {
			slog.Warn("inheritance edge references unknown parent group",
				"child", edge.Child, "parent", edge.Parent)
			continue
		}
		child.Parent = edge.Parent
	}

	snap := newSnapshot(groups)
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
}

// CreatePlaceholder inserts a zero-priority, parentless group with
// PlaceholderID, used when a "group created" notification arrives
// before the next full reload. Existing groups are left untouched.
func (r *Registry) CreatePlaceholder(name string) {
	r.mutate(func(groups map[string]*Group) {
		if _, exists := groups[name]; exists {
			return
		}
		groups[name] = NewGroup(PlaceholderID, name, 0)
	})
}

// Remove drops the group from the registry. The children index is
// rebuilt, which detaches the group from its former parent. Children of
// the removed group keep their parent name; their inheritance chains
// simply end early until the next reload says otherwise.
func (r *Registry) Remove(name string) {
	r.mutate(func(groups map[string]*Group) {
		delete(groups, name)
	})
}

// AddPermission appends a permission record to the named group. Visible
// to every resolution that starts after this call returns. No-op for an
// unknown group.
func (r *Registry) AddPermission(name string, p Permission) {
	r.mutate(func(groups map[string]*Group) {
		g, ok := groups[name]
		if !ok {
			return
		}
		g = g.clone()
		if !g.HasPermission(p) {
			g.Permissions = append(g.Permissions, p)
		}
		groups[name] = g
	})
}

// SetPermissions replaces the named group's direct permission records
// with rows freshly read from the store. The implicit "group.<name>"
// node is kept. No-op for an unknown group.
func (r *Registry) SetPermissions(name string, perms []Permission) {
	r.mutate(func(groups map[string]*Group) {
		g, ok := groups[name]
		if !ok {
			return
		}
		fresh := NewGroup(g.ID, g.Name, g.Priority)
		fresh.Parent = g.Parent
		fresh.Permissions = append(fresh.Permissions, perms...)
		groups[name] = fresh
	})
}

// RemovePermission drops the exact (node, value) record from the named
// group. No-op for an unknown group or absent record.
func (r *Registry) RemovePermission(name string, p Permission) {
	r.mutate(func(groups map[string]*Group) {
		g, ok := groups[name]
		if !ok {
			return
		}
		g = g.clone()
		for i, have := range g.Permissions {
			if have == p {
				g.Permissions = append(g.Permissions[:i], g.Permissions[i+1:]...)
				break
			}
		}
		groups[name] = g
	})
}

// mutate clones the current group map, applies fn, and swaps in a new
// snapshot. Groups reachable from older snapshots are never modified.
func (r *Registry) mutate(fn func(groups map[string]*Group)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := make(map[string]*Group, len(r.snap.groups))
	for name, g := range r.snap.groups {
		groups[name] = g
	}
	fn(groups)
	r.snap = newSnapshot(groups)
}
