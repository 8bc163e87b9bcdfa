// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package store

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/permsync/permsync/internal/perm"
)

// poolIface abstracts *pgxpool.Pool for testing with pgxmock.
type poolIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Postgres implements PermissionStore using PostgreSQL.
type Postgres struct {
	pool poolIface
}

// New connects to the permission database and verifies reachability.
// An unreachable database surfaces as STORE_UNAVAILABLE, which callers
// treat as fatal at startup.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("store").Code(CodeUnavailable).
			With("operation", "create connection pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.In("store").Code(CodeUnavailable).
			With("operation", "ping database").Wrap(err)
	}
	return &Postgres{pool: pool}, nil
}

// NewWithPool wraps an existing pool. Used by tests.
func NewWithPool(pool poolIface) *Postgres {
	return &Postgres{pool: pool}
}

// Close closes the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// GroupRows returns every group joined with its direct permission rows.
// Groups without permissions still appear (empty Node). Rows missing a
// group name are malformed: skipped and logged, loading continues.
func (s *Postgres) GroupRows(ctx context.Context) ([]perm.GroupRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.name, e.priority, COALESCE(en.permission, ''), COALESCE(en.value, FALSE)
		FROM entities e
		LEFT JOIN entries en ON en.entity_id = e.id
		WHERE e.is_group
	`)
	if err != nil {
		return nil, wrapQueryErr("load group rows", err)
	}
	defer rows.Close()

	var records []perm.GroupRecord
	for rows.Next() {
		var (
			id       *int
			name     *string
			priority *int
			node     string
			value    bool
		)
		if err := rows.Scan(&id, &name, &priority, &node, &value); err != nil {
			return nil, oops.In("store").Code(CodeQueryFailed).
				With("operation", "scan group row").Wrap(err)
		}
		if id == nil || name == nil || *name == "" || priority == nil {
			slog.Warn("skipping malformed group row",
				"code", CodeMalformedRecord,
				"has_id", id != nil,
				"has_name", name != nil && *name != "")
			continue
		}
		records = append(records, perm.GroupRecord{
			ID:       *id,
			Name:     *name,
			Priority: *priority,
			Node:     node,
			Value:    value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("iterate group rows", err)
	}
	return records, nil
}

// InheritanceRows returns every (child, parent) edge by name.
func (s *Postgres) InheritanceRows(ctx context.Context) ([]perm.InheritanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT child.name, parent.name
		FROM inheritances i
		JOIN entities child ON child.id = i.child_id
		JOIN entities parent ON parent.id = i.parent_id
	`)
	if err != nil {
		return nil, wrapQueryErr("load inheritance rows", err)
	}
	defer rows.Close()

	var edges []perm.InheritanceRecord
	for rows.Next() {
		var child, parent *string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, oops.In("store").Code(CodeQueryFailed).
				With("operation", "scan inheritance row").Wrap(err)
		}
		if child == nil || parent == nil || *child == "" || *parent == "" {
			slog.Warn("skipping malformed inheritance row", "code", CodeMalformedRecord)
			continue
		}
		edges = append(edges, perm.InheritanceRecord{Child: *child, Parent: *parent})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("iterate inheritance rows", err)
	}
	return edges, nil
}

// PlayerGroupNames returns the names of the groups the player belongs to.
func (s *Postgres) PlayerGroupNames(ctx context.Context, player ulid.ULID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.name
		FROM memberships m
		JOIN entities e ON e.id = m.group_id
		WHERE m.member = $1
	`, player.String())
	if err != nil {
		return nil, wrapQueryErr("load player groups", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, oops.In("store").Code(CodeQueryFailed).
				With("operation", "scan player group row").
				With("player", player.String()).Wrap(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("iterate player groups", err)
	}
	return names, nil
}

// PlayerOverrides returns the player's individual granted permissions.
// Only grants are stored per player; revoking happens by unsetting the
// row, so the query filters on value.
func (s *Postgres) PlayerOverrides(ctx context.Context, player ulid.ULID) ([]perm.Permission, error) {
	return s.queryPermissions(ctx, "load player overrides", `
		SELECT en.permission, en.value
		FROM entities e
		JOIN entries en ON en.entity_id = e.id
		WHERE NOT e.is_group AND e.name = $1 AND en.value
	`, player.String())
}

// GroupPermissions returns one group's direct permission rows.
func (s *Postgres) GroupPermissions(ctx context.Context, name string) ([]perm.Permission, error) {
	return s.queryPermissions(ctx, "load group permissions", `
		SELECT en.permission, en.value
		FROM entities e
		JOIN entries en ON en.entity_id = e.id
		WHERE e.is_group AND e.name = $1
	`, name)
}

func (s *Postgres) queryPermissions(ctx context.Context, op, sql string, args ...any) ([]perm.Permission, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapQueryErr(op, err)
	}
	defer rows.Close()

	var perms []perm.Permission
	for rows.Next() {
		var node *string
		var value bool
		if err := rows.Scan(&node, &value); err != nil {
			return nil, oops.In("store").Code(CodeQueryFailed).
				With("operation", op).Wrap(err)
		}
		if node == nil || *node == "" {
			slog.Warn("skipping malformed permission row",
				"code", CodeMalformedRecord, "operation", op)
			continue
		}
		perms = append(perms, perm.Permission{Node: *node, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr(op, err)
	}
	return perms, nil
}

// Seed inserts group definitions into the database in one transaction.
// Intended for bootstrapping an empty installation; an existing group
// with the same name fails the transaction.
func (s *Postgres) Seed(ctx context.Context, groups []SeedGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapQueryErr("begin seed transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	ids := make(map[string]int, len(groups))
	for _, g := range groups {
		var id int
		err := tx.QueryRow(ctx, `
			INSERT INTO entities (name, display_name, priority, is_group)
			VALUES ($1, $1, $2, TRUE)
			RETURNING id
		`, g.Name, g.Priority).Scan(&id)
		if err != nil {
			return oops.In("store").Code(CodeQueryFailed).
				With("operation", "seed group").With("group", g.Name).Wrap(err)
		}
		ids[g.Name] = id

		for _, p := range g.Permissions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO entries (entity_id, permission, value) VALUES ($1, $2, $3)
			`, id, p.Node, p.Value); err != nil {
				return oops.In("store").Code(CodeQueryFailed).
					With("operation", "seed group permission").
					With("group", g.Name).With("node", p.Node).Wrap(err)
			}
		}
	}

	// Second pass: parents can only be wired once every group has an id.
	for _, g := range groups {
		if g.Parent == "" {
			continue
		}
		parentID, ok := ids[g.Parent]
		if !ok {
			return oops.In("store").Code(CodeQueryFailed).
				With("operation", "seed inheritance").
				With("group", g.Name).With("parent", g.Parent).
				Errorf("seed parent %q is not part of the seed set", g.Parent)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO inheritances (child_id, parent_id) VALUES ($1, $2)
		`, ids[g.Name], parentID); err != nil {
			return oops.In("store").Code(CodeQueryFailed).
				With("operation", "seed inheritance").
				With("group", g.Name).Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapQueryErr("commit seed transaction", err)
	}
	return nil
}
