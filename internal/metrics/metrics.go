// Package metrics holds the process-wide prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sessions_active",
		Help: "Currently registered sessions.",
	})

	MessagesFannedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_fanned_out_total",
		Help: "Messages broadcast to conversation rooms.",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_notifications_sent_total",
		Help: "Lightweight notifications sent to idle participants.",
	})

	DeliveryReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_delivery_receipts_total",
		Help: "Newly recorded delivered receipts.",
	})

	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_read_receipts_total",
		Help: "Newly recorded read receipts.",
	})

	PresenceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_presence_transitions_total",
		Help: "Online/offline presence transitions.",
	}, []string{"direction"})

	CallsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_calls_initiated_total",
		Help: "Calls that entered the ringing state.",
	})

	CallsAnswered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_calls_answered_total",
		Help: "Calls that reached the active state.",
	})

	CallsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_calls_failed_total",
		Help: "Calls that ended in a failure state.",
	}, []string{"reason"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_events_dropped_total",
		Help: "Events dropped on slow session send buffers.",
	})
)
