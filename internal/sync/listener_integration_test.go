//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/permsync/permsync/internal/sync"
)

func TestPGListener_ReceivesNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(context.Background())

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	listener := sync.NewPGListener(connStr,
		sync.WithReconnectBackoff(10*time.Millisecond, time.Second))
	ch, err := listener.Listen(ctx)
	require.NoError(t, err)

	notifier, err := pgx.Connect(ctx, connStr)
	require.NoError(t, err)
	defer notifier.Close(context.Background())

	player := ulid.Make()
	payload := `{"action":"player_delete","player":"` + player.String() + `"}`
	_, err = notifier.Exec(ctx, "SELECT pg_notify($1, $2)", sync.Channel, payload)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, payload, got)
		n, err := sync.DecodeNotification(got)
		require.NoError(t, err)
		assert.Equal(t, sync.ActionPlayerDelete, n.Action)
		assert.Equal(t, player, n.Player)
	case <-time.After(10 * time.Second):
		t.Fatal("notification did not arrive")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should close on context cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close after cancellation")
	}
}
