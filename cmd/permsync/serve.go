// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/permsync/permsync/internal/config"
	"github.com/permsync/permsync/internal/logging"
	"github.com/permsync/permsync/internal/observability"
	"github.com/permsync/permsync/internal/perm"
	"github.com/permsync/permsync/internal/session"
	"github.com/permsync/permsync/internal/store"
	"github.com/permsync/permsync/internal/sync"
	"github.com/permsync/permsync/pkg/errutil"
)

// shutdownTimeout bounds graceful shutdown of the observability server.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the permission sync daemon",
		Long: `Loads the group registry from the permission database, listens for
change notifications, and serves metrics and health endpoints.`,
		RunE: runServe,
	}

	defaults := config.Default()
	cmd.Flags().String("database.url", defaults.Database.URL, "permission database connection string")
	cmd.Flags().String("observability.addr", defaults.Observability.Addr, "metrics and health listen address")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format: json or text")
	cmd.Flags().String("log.level", defaults.Log.Level, "log level: debug, info, warn, error")
	cmd.Flags().Duration("sync.grace_period", defaults.Sync.GracePeriod, "delay between a change notification and resolution")
	cmd.Flags().String("sync.fallback_group", defaults.Sync.FallbackGroup, "group applied to players with no memberships")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("permsync", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to permission database").Wrap(err)
	}
	defer st.Close()

	registry := perm.NewRegistry()
	memberships := perm.NewMemberships()
	hub := session.NewHub()
	broadcaster := sync.NewBroadcaster()

	// The readiness probe needs the service, which needs the server's
	// metrics; the closure breaks the cycle.
	var svc *sync.Service
	obs := observability.NewServer(cfg.Observability.Addr, func() bool {
		return svc != nil && svc.Loaded()
	})
	sync.RegisterMetrics(obs.Registry())

	svc = sync.NewService(st, registry, memberships, hub, broadcaster,
		sync.WithGracePeriod(cfg.Sync.GracePeriod),
		sync.WithFallbackGroup(cfg.Sync.FallbackGroup),
		sync.WithConnectionMetrics(obs.Metrics()),
	)

	// The registry must be populated before anything resolves against it.
	if err := svc.LoadAll(ctx); err != nil {
		return oops.Code("INITIAL_LOAD_FAILED").Wrap(err)
	}

	listener := sync.NewPGListener(cfg.Database.URL,
		sync.WithReconnectBackoff(cfg.Listener.ReconnectInitial, cfg.Listener.ReconnectMax))
	if err := svc.Start(ctx, listener); err != nil {
		return oops.Code("LISTENER_START_FAILED").Wrap(err)
	}

	obsErrCh, err := obs.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}

	slog.Info("permsync started",
		"observability_addr", obs.Addr(),
		"grace_period", cfg.Sync.GracePeriod.String(),
		"fallback_group", cfg.Sync.FallbackGroup)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case serveErr := <-obsErrCh:
		if serveErr != nil {
			errutil.LogError(slog.Default(), "observability server failed", serveErr)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obs.Stop(shutdownCtx); err != nil {
		errutil.LogError(slog.Default(), "observability shutdown failed", err)
	}

	svc.Wait()
	slog.Info("permsync stopped")
	return nil
}
