package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records admin authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdh_auth_attempts_total",
			Help: "Total number of admin authentication attempts",
		},
		[]string{"result"},
	)

	// Redemptions counts code redemption attempts and their outcome
	// (success|invalid_code|busy|already_redeemed|no_seats|error).
	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdh_redemptions_total",
			Help: "Total number of redemption attempts",
		},
		[]string{"result"},
	)

	// JoinSyncResults counts join synchronization outcomes per reason
	// (joined|joined_fallback|deferred|error).
	JoinSyncResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdh_join_sync_total",
			Help: "Total number of join synchronization results",
		},
		[]string{"result"},
	)

	// Transfers counts lease transfer attempts by outcome (moved|failed|skipped).
	Transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamdh_transfers_total",
			Help: "Total number of lease transfer attempts",
		},
		[]string{"result"},
	)

	// ActiveLeases tracks leases per status, refreshed by the sweep worker.
	ActiveLeases = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teamdh_leases",
			Help: "Number of leases by status",
		},
		[]string{"status"},
	)

	// SweepDuration measures the duration of background sweep runs.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamdh_sweep_duration_seconds",
			Help:    "Background sweep duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamdh_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
