package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cargotrack_orders_created_total",
		Help: "Total number of orders successfully created.",
	})

	StatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cargotrack_status_updates_total",
		Help: "Total number of tracking stages appended, by new status.",
	},
		[]string{"status"},
	)

	OrdersDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cargotrack_orders_deleted_total",
		Help: "Total number of orders deleted.",
	})

	TrackingLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cargotrack_tracking_lookups_total",
		Help: "Public tracking lookups by result.",
	},
		[]string{"result"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cargotrack_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	TrackingCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cargotrack_tracking_cache_items",
		Help: "Current number of orders in the tracking cache.",
	})

	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cargotrack_live_subscribers",
		Help: "Current number of websocket tracking subscribers.",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cargotrack_events_published_total",
		Help: "Lifecycle events handed to the broker, by outcome.",
	},
		[]string{"outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cargotrack_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status code.",
		Buckets: prometheus.DefBuckets,
	},
		[]string{"route", "method", "code"},
	)
)
