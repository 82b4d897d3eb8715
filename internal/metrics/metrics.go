package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "booking_flow"

var (
	// BookingsSubmitted counts booking form submissions by result (created, invalid, failed)
	BookingsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bookings_submitted_total",
		Help:      "Booking form submissions by result.",
	}, []string{"result"})

	// PaymentsInitiated counts payment initiations by mode (redirect, checkout, simulated, failed)
	PaymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_initiated_total",
		Help:      "Payment initiations by mode.",
	}, []string{"mode"})

	// CheckoutCallbacks counts checkout script outcomes
	CheckoutCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_callbacks_total",
		Help:      "Checkout script callback outcomes.",
	}, []string{"outcome"})

	// StatusChecks counts reconciler checks by mode and result (applied, unchanged, stale, rejected, error)
	StatusChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_checks_total",
		Help:      "Payment status checks by mode and result.",
	}, []string{"mode", "result"})

	// StatusTransitions counts applied booking status transitions
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Applied booking status transitions.",
	}, []string{"from", "to"})

	// ActivePollers is the number of running status pollers
	ActivePollers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_pollers",
		Help:      "Number of running status pollers.",
	})

	// PollersGaveUp counts pollers that stopped after too many failures
	PollersGaveUp = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pollers_gave_up_total",
		Help:      "Pollers stopped after consecutive failures.",
	})

	// FallbackReads counts booking reads served from the fallback snapshot by result (hit, miss, error)
	FallbackReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_reads_total",
		Help:      "Booking reads answered from the last-booking snapshot.",
	}, []string{"result"})
)
