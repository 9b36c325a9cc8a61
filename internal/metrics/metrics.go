// Package metrics declares the prometheus collectors exported by walletsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a deduction leaves the ledger.
const (
	ReasonConfirmed = "confirmed"
	ReasonExpired   = "expired"
	ReasonCancelled = "cancelled"
	ReasonDeleted   = "deleted"
)

var (
	DeductionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_deductions_created_total",
			Help: "Optimistic deductions registered, by type",
		},
		[]string{"type"},
	)

	DeductionsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_deductions_removed_total",
			Help: "Deductions removed from the ledger, by reason",
		},
		[]string{"reason"},
	)

	SyntheticDeductions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsync_synthetic_deductions_total",
			Help: "Server-originated balance pushes the client never issued",
		},
	)

	LiveDeductions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "walletsync_live_deductions",
			Help: "Deductions currently held in the ledger",
		},
	)

	Syncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_syncs_total",
			Help: "Wallet sync attempts, by status",
		},
		[]string{"status"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsync_sync_duration_seconds",
			Help:    "Duration of wallet syncs",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	CommandRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_command_retries_total",
			Help: "Realtime command attempts that were not acknowledged",
		},
		[]string{"event"},
	)

	CommandFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsync_command_failures_total",
			Help: "Realtime commands that exhausted their retries",
		},
		[]string{"event"},
	)
)
