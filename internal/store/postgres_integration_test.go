//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/permsync/permsync/internal/perm"
	"github.com/permsync/permsync/internal/store"
)

var _ = Describe("Postgres store", Ordered, func() {
	var (
		ctx         context.Context
		pgContainer *postgres.PostgresContainer
		pool        *pgxpool.Pool
		s           *store.Postgres
		player      ulid.ULID
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		pgContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		s, err = store.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Seed(ctx, []store.SeedGroup{
			{Name: "default", Priority: 0, Permissions: []perm.Permission{
				{Node: "spawn.use", Value: true},
			}},
			{Name: "vip", Priority: 10, Parent: "default", Permissions: []perm.Permission{
				{Node: "command.fly", Value: true},
			}},
		})).To(Succeed())

		player = ulid.Make()
		var playerID int
		err = pool.QueryRow(ctx, `
			INSERT INTO entities (name, priority, is_group)
			VALUES ($1, 0, FALSE) RETURNING id
		`, player.String()).Scan(&playerID)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `
			INSERT INTO entries (entity_id, permission, value) VALUES ($1, 'command.heal', TRUE)
		`, playerID)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `
			INSERT INTO memberships (member, group_id)
			SELECT $1, id FROM entities WHERE name = 'vip' AND is_group
		`, player.String())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if s != nil {
			s.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if pgContainer != nil {
			Expect(pgContainer.Terminate(ctx)).To(Succeed())
		}
	})

	It("enumerates group permission rows", func() {
		records, err := s.GroupRows(ctx)
		Expect(err).NotTo(HaveOccurred())

		nodes := map[string]string{}
		for _, r := range records {
			nodes[r.Name+"/"+r.Node] = r.Name
		}
		Expect(nodes).To(HaveKey("default/spawn.use"))
		Expect(nodes).To(HaveKey("vip/command.fly"))
	})

	It("enumerates inheritance edges", func() {
		edges, err := s.InheritanceRows(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(edges).To(ContainElement(perm.InheritanceRecord{Child: "vip", Parent: "default"}))
	})

	It("returns one group's direct permissions", func() {
		perms, err := s.GroupPermissions(ctx, "vip")
		Expect(err).NotTo(HaveOccurred())
		Expect(perms).To(ConsistOf(perm.Permission{Node: "command.fly", Value: true}))
	})

	It("returns a player's group memberships", func() {
		names, err := s.PlayerGroupNames(ctx, player)
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(ConsistOf("vip"))
	})

	It("returns a player's individual grants", func() {
		perms, err := s.PlayerOverrides(ctx, player)
		Expect(err).NotTo(HaveOccurred())
		Expect(perms).To(ConsistOf(perm.Permission{Node: "command.heal", Value: true}))
	})

	It("reports no memberships for an unknown player", func() {
		names, err := s.PlayerGroupNames(ctx, ulid.Make())
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(BeEmpty())
	})
})
