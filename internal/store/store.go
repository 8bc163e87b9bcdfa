// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

// Package store provides read access to the external permission
// database. The database is the source of truth; PermSync only ever
// queries it and mirrors the results.
package store

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/permsync/permsync/internal/perm"
)

// PermissionStore exposes the queries PermSync needs against the
// upstream permission database. All methods are read-only.
type PermissionStore interface {
	// GroupRows returns the full enumeration of group permission rows.
	// Groups without direct permissions appear with an empty Node.
	GroupRows(ctx context.Context) ([]perm.GroupRecord, error)

	// InheritanceRows returns every (child, parent) inheritance edge.
	InheritanceRows(ctx context.Context) ([]perm.InheritanceRecord, error)

	// PlayerGroupNames returns the names of the groups the player
	// belongs to.
	PlayerGroupNames(ctx context.Context, player ulid.ULID) ([]string, error)

	// PlayerOverrides returns the player's individual granted
	// permissions.
	PlayerOverrides(ctx context.Context, player ulid.ULID) ([]perm.Permission, error)

	// GroupPermissions returns one group's direct permission rows.
	GroupPermissions(ctx context.Context, name string) ([]perm.Permission, error)
}

// SeedGroup is one group definition inserted by the seed command into
// an empty database.
type SeedGroup struct {
	Name        string
	Priority    int
	Parent      string
	Permissions []perm.Permission
}
