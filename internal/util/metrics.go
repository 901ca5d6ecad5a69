package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders opened with inventory held",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders confirmed and settled",
	})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"reason"})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of orders reclaimed by the expiry sweeper",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of rejected order requests",
	}, []string{"reason"})

	TicketsHeld = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_held_total",
		Help: "Total number of ticket units moved into held",
	})

	ConfirmRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confirmation_retries_total",
		Help: "Total number of payment confirmation retry attempts",
	})

	ConfirmEscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confirmation_escalations_total",
		Help: "Total number of confirmations escalated to an operator after retry exhaustion",
	})

	WaitlistNotifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_notified_total",
		Help: "Total number of waitlist entries notified by the backfill",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
