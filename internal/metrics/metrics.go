// Package metrics registers the Prometheus instruments for the auction engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts jobs opened for bidding from paid bookings.
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlift_jobs_created_total",
		Help: "Jobs created from booking-paid events.",
	})

	// BidsPlaced counts accepted bid placements and updates.
	BidsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airlift_bids_placed_total",
		Help: "Bids placed or updated, by action.",
	}, []string{"action"}) // placed | updated

	// OffersExtended counts cascade offers sent to operators.
	OffersExtended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlift_offers_extended_total",
		Help: "Acceptance offers extended to ranked bidders.",
	})

	// JobsAssigned counts jobs reaching ASSIGNED, by path.
	JobsAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airlift_jobs_assigned_total",
		Help: "Jobs assigned, by path.",
	}, []string{"path"}) // accept | manual

	// Escalations counts admin escalations by reason.
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airlift_escalations_total",
		Help: "Jobs escalated to an admin, by reason.",
	}, []string{"reason"})

	// TimerFirings counts timer deliveries by kind and outcome.
	TimerFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airlift_timer_firings_total",
		Help: "Timer firings dispatched, by kind and outcome.",
	}, []string{"kind", "outcome"}) // outcome: applied | error

	// TimerBacklog is the number of due-but-undelivered timer entries
	// observed at the last poll tick.
	TimerBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airlift_timer_backlog",
		Help: "Due timer entries pending dispatch.",
	})

	// NotifyQueueDepth is the buffered notification intents awaiting delivery.
	NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airlift_notify_queue_depth",
		Help: "Notification intents buffered for async delivery.",
	})

	// NotifyDropped counts intents dropped because the queue was full or
	// delivery failed. Deliveries are best-effort by contract.
	NotifyDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlift_notify_dropped_total",
		Help: "Notification intents dropped after queue-full or delivery failure.",
	})

	// BroadcastsSuppressed counts broadcasts suppressed because postcode
	// filtering was enabled and the booking carried no pickup postcode.
	BroadcastsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlift_broadcasts_suppressed_total",
		Help: "Job broadcasts suppressed for missing pickup postcode.",
	})

	// TxRetries counts guarded-transition transaction retries.
	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airlift_tx_retries_total",
		Help: "Transition transactions retried after transient DB failures.",
	})
)
