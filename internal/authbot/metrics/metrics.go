// Package metrics holds the process-wide Prometheus collectors. They register
// with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsHandled counts inbound chat events by kind and result
	// (handled, dropped_rate_limited, failed).
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbot_events_total",
			Help: "Number of inbound chat events processed",
		},
		[]string{"kind", "result"},
	)

	// EventDuration tracks time spent handling one event.
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authbot_event_duration_seconds",
			Help:    "Duration of chat event handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// QueueDepth is the number of events waiting for a dispatcher worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authbot_dispatch_queue_depth",
			Help: "Number of events queued for dispatch",
		},
	)

	// VerificationOutcomes counts verification attempts by outcome.
	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbot_verification_outcomes_total",
			Help: "Number of verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	// OTPIssued counts codes by issuance result
	// (sent, delivery_failed, throttled).
	OTPIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authbot_otp_issued_total",
			Help: "Number of one-time code issuance attempts",
		},
		[]string{"result"},
	)

	// Bans counts bans applied after exhausting the attempt budget.
	Bans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authbot_bans_total",
			Help: "Number of temporary bans applied",
		},
	)
)
