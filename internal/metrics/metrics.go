package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptboard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promptboard_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Live channel metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promptboard_connections_active",
			Help: "Currently connected WebSocket clients",
		},
	)

	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promptboard_events_received_total",
			Help: "Inbound live events by type",
		},
		[]string{"event"},
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptboard_deliveries_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)

	RotationTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptboard_rotation_ticks_total",
			Help: "Server-driven gallery rotation steps",
		},
	)

	// Store metrics
	PromptsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptboard_prompts_created_total",
			Help: "Prompts saved through the API",
		},
	)

	PromptsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promptboard_prompts_deleted_total",
			Help: "Prompts deleted through the API",
		},
	)
)
