// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package perm

// PlaceholderID marks a group created from a notification before the
// store has been re-read. The real store-assigned id arrives with the
// next full reload.
const PlaceholderID = -1

// Group is one permission group as mirrored from the store.
//
// Groups are immutable once published in a registry snapshot. Parent is
// the parent group's name rather than an object reference, so snapshots
// carry no ownership cycles; the registry derives the children index.
type Group struct {
	ID          int
	Name        string
	Priority    int
	Parent      string // empty for a root group
	Permissions []Permission
}

// NewGroup creates a group carrying the implicit membership node
// "group.<name>" every group grants its members.
func NewGroup(id int, name string, priority int) *Group {
	return &Group{
		ID:       id,
		Name:     name,
		Priority: priority,
		Permissions: []Permission{
			{Node: "group." + name, Value: true},
		},
	}
}

// HasPermission reports whether the group directly holds the exact
// (node, value) record.
func (g *Group) HasPermission(p Permission) bool {
	for _, have := range g.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// clone returns a deep copy whose permission slice can be mutated
// without affecting the published snapshot.
func (g *Group) clone() *Group {
	out := *g
	out.Permissions = make([]Permission, len(g.Permissions))
	copy(out.Permissions, g.Permissions)
	return &out
}
