// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for permission resolution and notification handling.
var (
	// resolutionsTotal counts permission resolutions by cause and outcome.
	resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permsync_resolutions_total",
		Help: "Total number of permission resolutions",
	}, []string{"cause", "outcome"})

	// resolutionDuration tracks resolution latency from store fetch to delivery.
	resolutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "permsync_resolution_duration_seconds",
		Help:    "Histogram of permission resolution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// notificationsTotal counts processed notifications by action.
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permsync_notifications_total",
		Help: "Total number of processed change notifications",
	}, []string{"action"})

	// notificationsDroppedTotal counts notifications dropped because the
	// receive buffer was full or the payload could not be decoded.
	notificationsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "permsync_notifications_dropped_total",
		Help: "Total number of dropped change notifications",
	})

	// registryLastReload records the Unix timestamp of the last full
	// registry load from the store.
	registryLastReload = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "permsync_registry_last_reload",
		Help: "Unix timestamp of the last successful full registry load",
	})
)

// RegisterMetrics registers sync metrics with the given Prometheus
// registry. Call once at startup.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		resolutionsTotal,
		resolutionDuration,
		notificationsTotal,
		notificationsDroppedTotal,
		registryLastReload,
	)
}
