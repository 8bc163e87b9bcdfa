// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

// Package seed parses and validates YAML group definitions used to
// bootstrap an empty permission database.
package seed

import (
	"sort"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/permsync/permsync/internal/perm"
	"github.com/permsync/permsync/internal/store"
)

// File is a YAML document listing the groups to seed.
type File struct {
	Groups []GroupSeed `yaml:"groups" json:"groups" jsonschema:"required"`
}

// GroupSeed is one group definition.
type GroupSeed struct {
	Name        string          `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	Priority    int             `yaml:"priority,omitempty" json:"priority,omitempty"`
	Parent      string          `yaml:"parent,omitempty" json:"parent,omitempty"`
	Permissions map[string]bool `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// Parse validates data against the seed schema and decodes it.
// Semantic rules beyond the schema: group names are unique, parents
// refer to groups in the same file, and parent chains are acyclic.
func Parse(data []byte) (*File, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.In("seed").Code("SEED_INVALID").Wrap(err)
	}

	byName := make(map[string]GroupSeed, len(f.Groups))
	for _, g := range f.Groups {
		if _, dup := byName[g.Name]; dup {
			return nil, oops.In("seed").Code("SEED_INVALID").
				With("group", g.Name).
				Errorf("duplicate group %q", g.Name)
		}
		byName[g.Name] = g
	}

	for _, g := range f.Groups {
		if g.Parent == "" {
			continue
		}
		if _, ok := byName[g.Parent]; !ok {
			return nil, oops.In("seed").Code("SEED_INVALID").
				With("group", g.Name).With("parent", g.Parent).
				Errorf("group %q inherits from %q, which is not defined", g.Name, g.Parent)
		}
		if err := checkChain(byName, g.Name); err != nil {
			return nil, err
		}
	}

	return &f, nil
}

// checkChain walks the parent chain from start looking for a cycle.
func checkChain(byName map[string]GroupSeed, start string) error {
	visited := map[string]bool{}
	for cur := start; cur != ""; cur = byName[cur].Parent {
		if visited[cur] {
			return oops.In("seed").Code("SEED_INVALID").
				With("group", start).With("cycle_at", cur).
				Errorf("cyclic inheritance through group %q", cur)
		}
		visited[cur] = true
	}
	return nil
}

// SeedGroups converts the file into store seed records. Permission
// nodes are sorted for deterministic inserts.
func (f *File) SeedGroups() []store.SeedGroup {
	groups := make([]store.SeedGroup, 0, len(f.Groups))
	for _, g := range f.Groups {
		nodes := make([]string, 0, len(g.Permissions))
		for node := range g.Permissions {
			nodes = append(nodes, node)
		}
		sort.Strings(nodes)

		perms := make([]perm.Permission, 0, len(nodes))
		for _, node := range nodes {
			perms = append(perms, perm.Permission{Node: node, Value: g.Permissions[node]})
		}

		groups = append(groups, store.SeedGroup{
			Name:        g.Name,
			Priority:    g.Priority,
			Parent:      g.Parent,
			Permissions: perms,
		})
	}
	return groups
}
