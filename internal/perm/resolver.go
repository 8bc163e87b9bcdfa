// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package perm

import (
	"sort"

	"github.com/samber/oops"
)

// ResolveEffective flattens a player's group memberships and individual
// overrides into the effective permission set.
//
// For each direct group the parent chain is walked to its root and
// every permission along the way collected, ancestors first so a child
// group overrides its ancestors for the same node. Direct groups apply
// in ascending priority, so the highest-priority group wins conflicts
// between unrelated groups. Individual overrides apply last and beat
// any group-derived value regardless of boolean value.
//
// groupNames not present in the snapshot are skipped (the store may
// reference groups the mirror has not seen yet). When nothing resolves
// and a fallback group exists, the fallback acts as the sole
// membership.
//
// A cyclic parent chain returns CYCLIC_INHERITANCE; the store is
// trusted to be acyclic, but a corrupt chain must fail resolution for
// this player rather than loop forever.
func ResolveEffective(snap *Snapshot, groupNames []string, overrides []Permission, fallback string) (Set, error) {
	direct := snap.DirectGroups(groupNames, fallback)

	ordered := make([]*Group, len(direct))
	copy(ordered, direct)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	effective := make(Set)
	for _, g := range ordered {
		chain, err := inheritanceChain(snap, g)
		if err != nil {
			return nil, err
		}
		// chain is root-first: nearer groups overwrite.
		for _, ancestor := range chain {
			for _, p := range ancestor.Permissions {
				effective[p.Node] = p.Value
			}
		}
	}

	for _, p := range overrides {
		effective[p.Node] = p.Value
	}
	return effective, nil
}

// inheritanceChain returns the linear sequence of groups from the root
// ancestor down to the given group. A dangling parent name (for
// example, after its group was deleted without re-parenting) ends the
// chain at the last known group.
func inheritanceChain(snap *Snapshot, g *Group) ([]*Group, error) {
	var chain []*Group
	visited := make(map[string]bool)
	for cur := g; cur != nil; {
		if visited[cur.Name] {
			return nil, oops.In("perm").
				Code("CYCLIC_INHERITANCE").
				With("group", g.Name).
				With("cycle_at", cur.Name).
				Errorf("cyclic parent chain detected resolving group %q", g.Name)
		}
		visited[cur.Name] = true
		chain = append(chain, cur)
		if cur.Parent == "" {
			break
		}
		cur = snap.Get(cur.Parent)
	}

	// Reverse to root-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// IsCyclicInheritance reports whether err is a CYCLIC_INHERITANCE
// resolution failure.
func IsCyclicInheritance(err error) bool {
	if err == nil {
		return false
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == "CYCLIC_INHERITANCE"
}
