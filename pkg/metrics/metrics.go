// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks console HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_request_duration_seconds",
			Help:    "Console HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total console HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_requests_total",
			Help: "Total console HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PollsTotal tracks poll ticks per poller by outcome.
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_polls_total",
			Help: "Total poll ticks by poller and outcome",
		},
		[]string{"poller", "outcome"},
	)

	// PollDuration tracks poll round-trip duration per poller.
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "handoff_poll_duration_seconds",
			Help:    "Poll round-trip duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"poller"},
	)

	// PendingSessions tracks the size of the pending snapshot.
	PendingSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "handoff_pending_sessions",
			Help: "Sessions currently awaiting a human agent",
		},
	)

	// ActiveSessions tracks the size of the active snapshot.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "handoff_active_sessions",
			Help: "Sessions currently assigned to this agent",
		},
	)

	// SessionsAccepted tracks accepted handoffs.
	SessionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_sessions_accepted_total",
			Help: "Total sessions accepted by this agent",
		},
	)

	// SessionsClosed tracks closed handoffs.
	SessionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_sessions_closed_total",
			Help: "Total sessions closed by this agent",
		},
	)

	// AgentMessagesTotal tracks agent messages sent upstream.
	AgentMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_agent_messages_total",
			Help: "Total agent messages sent",
		},
	)

	// PendingAlertsTotal tracks pending-growth notifications fired.
	PendingAlertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_pending_alerts_total",
			Help: "Total pending-queue growth alerts fired",
		},
	)

	// UpstreamRequestsTotal tracks requests to the handoff backend.
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "handoff_upstream_requests_total",
			Help: "Total requests to the handoff backend",
		},
		[]string{"endpoint", "status"},
	)

	// SessionExpiriesTotal tracks upstream 401s that cleared credentials.
	SessionExpiriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoff_session_expiries_total",
			Help: "Total upstream auth expiries",
		},
	)
)

// RecordRequest records metrics for a console HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPoll records one poll tick.
func RecordPoll(poller, outcome string, duration float64) {
	PollsTotal.WithLabelValues(poller, outcome).Inc()
	PollDuration.WithLabelValues(poller).Observe(duration)
}
