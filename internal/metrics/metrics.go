package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	ReadingsEvaluatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitalert_readings_evaluated_total",
			Help: "Total number of readings evaluated",
		},
		[]string{"status"}, // status: matched, unmatched, skipped
	)

	TriggerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitalert_trigger_transitions_total",
			Help: "Total number of trigger state transitions",
		},
		[]string{"alert_type", "transition"}, // transition: trigger, clear
	)

	RaceLossesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pitalert_race_losses_total",
			Help: "Total number of CAS-lost evaluations discarded silently",
		},
	)

	// Dispatch metrics
	NotificationsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pitalert_notifications_dispatched_total",
			Help: "Total number of notifications handed to delivery channels",
		},
		[]string{"channel", "status"}, // status: delivered, failed
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pitalert_dispatch_queue_depth",
			Help: "Current depth of the in-process dispatch queue",
		},
	)

	// Delivery metrics
	PushSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pitalert_push_subscribers",
			Help: "Currently connected push channel subscribers",
		},
	)

	PollRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pitalert_poll_requests_total",
			Help: "Total number of fallback polling requests served",
		},
	)
)
