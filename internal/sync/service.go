// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package sync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/permsync/permsync/internal/observability"
	"github.com/permsync/permsync/internal/perm"
	"github.com/permsync/permsync/internal/session"
	"github.com/permsync/permsync/internal/store"
	"github.com/permsync/permsync/pkg/errutil"
)

// Default service configuration values.
const (
	defaultGracePeriod   = 1 * time.Second
	defaultFallbackGroup = "default"
)

// ServiceOption configures Service behavior.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	gracePeriod   time.Duration
	fallbackGroup string
	metrics       *observability.Metrics
}

// WithGracePeriod sets the delay between a change notification and the
// resolution it triggers. Bursts of notifications for the same player
// within the window coalesce into one resolution.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(c *serviceConfig) {
		c.gracePeriod = d
	}
}

// WithFallbackGroup sets the group used for players with no
// memberships. Empty disables the fallback.
func WithFallbackGroup(name string) ServiceOption {
	return func(c *serviceConfig) {
		c.fallbackGroup = name
	}
}

// WithConnectionMetrics wires the connect counter and connected-players
// gauge updated by Connect and Disconnect.
func WithConnectionMetrics(m *observability.Metrics) ServiceOption {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// Service drives the permission mirror: it loads the group registry,
// reacts to change notifications, and pushes re-resolved permission
// sets into connected player sessions.
type Service struct {
	store       store.PermissionStore
	registry    *perm.Registry
	memberships *perm.Memberships
	hub         *session.Hub
	broadcaster *Broadcaster
	cfg         serviceConfig

	// generations assigns each player a counter bumped on every
	// scheduled resolution. A resolution only delivers if its
	// generation is still current, so the latest-scheduled one wins.
	genMu       sync.Mutex
	generations map[ulid.ULID]uint64

	// playerLocks serializes resolutions per player so deliveries
	// cannot interleave out of order.
	playerLocks sync.Map // ulid.ULID -> *sync.Mutex

	loaded atomic.Bool

	// wg tracks background goroutines and in-flight scheduled
	// resolutions for graceful shutdown.
	wg sync.WaitGroup
}

// NewService creates a Service. Call LoadAll before Start.
func NewService(s store.PermissionStore, registry *perm.Registry, memberships *perm.Memberships, hub *session.Hub, broadcaster *Broadcaster, opts ...ServiceOption) *Service {
	cfg := serviceConfig{
		gracePeriod:   defaultGracePeriod,
		fallbackGroup: defaultFallbackGroup,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Service{
		store:       s,
		registry:    registry,
		memberships: memberships,
		hub:         hub,
		broadcaster: broadcaster,
		cfg:         cfg,
		generations: make(map[ulid.ULID]uint64),
	}
}

// LoadAll replaces the group registry with a full enumeration from the
// store. A store failure here is fatal: without a registry every
// resolution would be wrong.
func (s *Service) LoadAll(ctx context.Context) error {
	records, err := s.store.GroupRows(ctx)
	if err != nil {
		return oops.In("sync").With("operation", "load group rows").Wrap(err)
	}
	edges, err := s.store.InheritanceRows(ctx)
	if err != nil {
		return oops.In("sync").With("operation", "load inheritance rows").Wrap(err)
	}

	s.registry.Load(records, edges)
	registryLastReload.Set(float64(time.Now().Unix()))
	s.loaded.Store(true)

	slog.Info("group registry loaded",
		"groups", s.registry.Snapshot().Len(),
		"edges", len(edges))
	return nil
}

// Loaded reports whether the initial registry load has completed.
// Used by the readiness probe.
func (s *Service) Loaded() bool {
	return s.loaded.Load()
}

// Connect registers a player's sink and resolves their permissions
// synchronously. If the store cannot be reached the sink is rolled
// back and the error returned; the caller must deny the connection
// rather than admit a player with no permissions.
func (s *Service) Connect(ctx context.Context, player ulid.ULID, sink session.Sink) error {
	s.hub.Register(player, sink)

	gen := s.nextGeneration(player)
	if err := s.resolve(ctx, player, "connect", gen); err != nil {
		_ = s.hub.Remove(player) //nolint:errcheck // rollback of our own registration
		s.memberships.Drop(player)
		if s.cfg.metrics != nil {
			s.cfg.metrics.ConnectionsTotal.WithLabelValues("denied").Inc()
		}
		return oops.In("sync").With("player", player.String()).
			With("operation", "resolve on connect").Wrap(err)
	}

	if s.cfg.metrics != nil {
		s.cfg.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
		s.cfg.metrics.PlayersConnected.Set(float64(s.hub.Len()))
	}
	return nil
}

// Disconnect removes the player's sink and releases their membership
// tracking. Pending scheduled resolutions for the player become
// harmless no-ops.
func (s *Service) Disconnect(player ulid.ULID) error {
	err := s.hub.Remove(player)
	s.memberships.Drop(player)
	s.forgetPlayer(player)
	if s.cfg.metrics != nil {
		s.cfg.metrics.PlayersConnected.Set(float64(s.hub.Len()))
	}
	return err
}

// Start begins consuming change notifications from the listener. The
// loop exits when the context is cancelled or the listener channel
// closes; call Wait to block until then.
func (s *Service) Start(ctx context.Context, listener Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return oops.In("sync").With("operation", "start listener").Wrap(err)
	}

	s.wg.Add(1)
	go s.listenLoop(ctx, ch)
	return nil
}

// Wait blocks until the notification loop and all in-flight scheduled
// resolutions have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) listenLoop(ctx context.Context, ch <-chan string) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			n, err := DecodeNotification(payload)
			if err != nil {
				notificationsDroppedTotal.Inc()
				slog.Warn("dropping undecodable notification",
					"payload", payload,
					"error", err)
				continue
			}
			notificationsTotal.WithLabelValues(string(n.Action)).Inc()
			s.handle(ctx, n)
		}
	}
}

// handle dispatches one notification. The switch is exhaustive over
// the closed action set; DecodeNotification already rejected anything
// else.
func (s *Service) handle(ctx context.Context, n Notification) {
	switch n.Action {
	case ActionPlayerCreate, ActionPlayerSet, ActionPlayerUnset,
		ActionPlayerSetGroup, ActionPlayerAddGroup, ActionPlayerRemoveGroup:
		if !s.hub.Connected(n.Player) {
			return
		}
		s.scheduleResolve(ctx, n.Player, string(n.Action))

	case ActionPlayerDelete:
		if s.hub.Connected(n.Player) {
			s.hub.Deliver(n.Player, perm.Set{})
			_ = s.hub.Remove(n.Player) //nolint:errcheck // checked Connected above
		}
		s.memberships.Drop(n.Player)
		s.forgetPlayer(n.Player)
		if s.cfg.metrics != nil {
			s.cfg.metrics.PlayersConnected.Set(float64(s.hub.Len()))
		}

	case ActionGroupCreate:
		s.registry.CreatePlaceholder(n.Group)

	case ActionGroupSet:
		s.registry.AddPermission(n.Group, perm.Permission{Node: n.Node, Value: n.Value})
		s.scheduleGroupRefresh(ctx, n.Group)
		s.cascade(ctx, n.Group, string(n.Action))

	case ActionGroupUnset:
		s.registry.RemovePermission(n.Group, perm.Permission{Node: n.Node, Value: n.Value})
		s.scheduleGroupRefresh(ctx, n.Group)
		s.cascade(ctx, n.Group, string(n.Action))

	case ActionGroupDeleteMembers:
		// Bulk membership change: group definitions are untouched, only
		// who belongs to the group changed.
		s.cascade(ctx, n.Group, string(n.Action))

	case ActionGroupDelete:
		// Collect the blast radius before the group disappears from
		// the snapshot. Database-side membership rows are already gone;
		// the in-memory index still knows who was affected.
		s.cascade(ctx, n.Group, string(n.Action))
		s.registry.Remove(n.Group)
	}
}

// cascade schedules re-resolution for every connected member of the
// group and of all groups inheriting from it.
func (s *Service) cascade(ctx context.Context, group, cause string) {
	snap := s.registry.Snapshot()
	affected := append([]string{group}, snap.Descendants(group)...)

	seen := make(map[ulid.ULID]struct{})
	for _, g := range affected {
		for _, player := range s.memberships.Members(g) {
			if _, dup := seen[player]; dup {
				continue
			}
			seen[player] = struct{}{}
			s.scheduleResolve(ctx, player, cause)
		}
	}
}

// scheduleGroupRefresh re-reads a group's direct permission rows from
// the store after the grace period and replaces the mirrored rows
// wholesale. The notification payload already gave readers an immediate
// approximation; the refresh makes the mirror authoritative even if the
// payload was incomplete.
func (s *Service) scheduleGroupRefresh(ctx context.Context, group string) {
	s.wg.Add(1)
	time.AfterFunc(s.cfg.gracePeriod, func() {
		defer s.wg.Done()

		if ctx.Err() != nil {
			return
		}
		perms, err := s.store.GroupPermissions(ctx, group)
		if err != nil {
			// Scoped failure: the payload-derived state stays in place.
			errutil.LogError(slog.Default(), "group refresh failed", err)
			return
		}
		s.registry.SetPermissions(group, perms)
	})
}

// scheduleResolve queues a resolution for the player after the grace
// period. Rapid successive changes for the same player collapse into
// the last scheduled resolution; earlier ones notice their stale
// generation and discard themselves.
func (s *Service) scheduleResolve(ctx context.Context, player ulid.ULID, cause string) {
	gen := s.nextGeneration(player)

	s.wg.Add(1)
	time.AfterFunc(s.cfg.gracePeriod, func() {
		defer s.wg.Done()

		if ctx.Err() != nil {
			return
		}
		if !s.isCurrentGeneration(player, gen) {
			resolutionsTotal.WithLabelValues(cause, "superseded").Inc()
			return
		}
		if err := s.resolve(ctx, player, cause, gen); err != nil {
			errutil.LogError(slog.Default(), "scheduled resolution failed", err)
		}
	})
}

// resolve recomputes and delivers the player's effective permission
// set. Store errors leave the previously delivered set in place.
func (s *Service) resolve(ctx context.Context, player ulid.ULID, cause string, gen uint64) error {
	lock := s.playerLock(player)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	names, err := s.store.PlayerGroupNames(ctx, player)
	if err != nil {
		resolutionsTotal.WithLabelValues(cause, "error").Inc()
		return err
	}
	overrides, err := s.store.PlayerOverrides(ctx, player)
	if err != nil {
		resolutionsTotal.WithLabelValues(cause, "error").Inc()
		return err
	}

	// A newer resolution may have been scheduled while we were at the
	// store; it owns the final state.
	if !s.isCurrentGeneration(player, gen) {
		resolutionsTotal.WithLabelValues(cause, "superseded").Inc()
		return nil
	}

	effective, err := perm.ResolveEffective(s.registry.Snapshot(), names, overrides, s.cfg.fallbackGroup)
	if err != nil {
		resolutionsTotal.WithLabelValues(cause, "error").Inc()
		return err
	}

	s.memberships.Replace(player, names)

	if !s.hub.Deliver(player, effective) {
		s.memberships.Drop(player)
		resolutionsTotal.WithLabelValues(cause, "disconnected").Inc()
		return nil
	}

	resolutionDuration.Observe(time.Since(start).Seconds())
	resolutionsTotal.WithLabelValues(cause, "delivered").Inc()

	s.broadcaster.Broadcast(Recalculation{
		ID:     ulid.Make(),
		Player: player,
		Cause:  cause,
		Nodes:  len(effective),
		At:     time.Now(),
	})
	return nil
}

func (s *Service) nextGeneration(player ulid.ULID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[player]++
	return s.generations[player]
}

func (s *Service) isCurrentGeneration(player ulid.ULID, gen uint64) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[player] == gen
}

// forgetPlayer releases the per-player bookkeeping. Stale timers for
// the player see a missing generation entry and discard themselves
// before touching the lock map again.
func (s *Service) forgetPlayer(player ulid.ULID) {
	s.genMu.Lock()
	delete(s.generations, player)
	s.genMu.Unlock()
	s.playerLocks.Delete(player)
}

func (s *Service) playerLock(player ulid.ULID) *sync.Mutex {
	if lock, ok := s.playerLocks.Load(player); ok {
		return lock.(*sync.Mutex)
	}
	lock, _ := s.playerLocks.LoadOrStore(player, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
