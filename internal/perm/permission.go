// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

// Package perm contains the permission data model and resolution logic.
//
// Permission nodes are dot-separated strings ("command.fly",
// "spawn.use"). A node may contain glob wildcards ("command.*") which
// are expanded at query time, never during resolution.
package perm

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Permission is a single grant or deny of one permission node.
// Identity is the (Node, Value) pair: a grant and an explicit revoke of
// the same node are distinct records. Resolution dedupes by node.
type Permission struct {
	Node  string
	Value bool
}

// Set is an effective permission mapping, deduplicated by node.
// Only the final value per node survives resolution.
type Set map[string]bool

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// matchEntry pairs a wildcard node with its compiled glob.
type matchEntry struct {
	node  string
	value bool
	glob  glob.Glob
}

// Matcher answers permission queries against an effective set,
// expanding wildcard nodes like "command.*".
//
// Precedence: an exact entry always beats a wildcard. Among wildcards
// matching the same query, an explicit deny wins.
type Matcher struct {
	exact     Set
	wildcards []matchEntry
}

// NewMatcher compiles the wildcard entries of an effective set.
// Returns INVALID_PERMISSION_NODE if a wildcard node is not a valid
// glob pattern.
func NewMatcher(s Set) (*Matcher, error) {
	m := &Matcher{exact: make(Set, len(s))}
	for node, value := range s {
		if !hasWildcard(node) {
			m.exact[node] = value
			continue
		}
		// '.' is the node separator, so "command.*" does not match "command.sub.node".
		g, err := glob.Compile(node, '.')
		if err != nil {
			return nil, oops.In("perm").
				Code("INVALID_PERMISSION_NODE").
				With("node", node).
				Wrap(err)
		}
		m.wildcards = append(m.wildcards, matchEntry{node: node, value: value, glob: g})
	}
	return m, nil
}

// Has reports whether the set grants the given node.
func (m *Matcher) Has(node string) bool {
	if v, ok := m.exact[node]; ok {
		return v
	}
	matched := false
	for _, e := range m.wildcards {
		if !e.glob.Match(node) {
			continue
		}
		if !e.value {
			return false
		}
		matched = true
	}
	return matched
}

func hasWildcard(node string) bool {
	for i := 0; i < len(node); i++ {
		switch node[i] {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
