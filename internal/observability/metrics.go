package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "corridor_matching", Name: "connections_active", Help: "Attached live connections per group"},
		[]string{"group"},
	)
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "corridor_matching", Name: "updates_total", Help: "Accepted presence updates per event"},
		[]string{"event"},
	)
	RejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "corridor_matching", Name: "rejected_total", Help: "Rejected live-channel operations per event"},
		[]string{"event"},
	)
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "corridor_matching", Name: "broadcasts_total", Help: "Presence events fanned out per event"},
		[]string{"event"},
	)
	BroadcastDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "corridor_matching", Name: "broadcast_drops_total", Help: "Presence events dropped on full recipient buffers"},
	)
	WaitingExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "corridor_matching", Name: "waiting_expired_total", Help: "Waiting records evicted by the sweeper"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "corridor_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corridor_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
