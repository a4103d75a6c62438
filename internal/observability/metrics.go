package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbook_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventbook_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbook_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"operation", "outcome"},
	)

	SeatsReserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbook_seats_reserved_total",
			Help: "Seats taken by confirmed bookings",
		},
	)

	SeatsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbook_seats_released_total",
			Help: "Seats returned by user cancellations",
		},
	)

	EventsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventbook_events_ended_total",
			Help: "Events moved to ENDED",
		},
		[]string{"source"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventbook_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	OutboxPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbook_outbox_published_total",
			Help: "Outbox messages relayed to the broker",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbook_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventbook_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
