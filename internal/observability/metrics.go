package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects client-side Prometheus metrics for the hub connection,
// presence tracking, the live session and the REST API.
//
// All recording methods are safe to call on a nil *Metrics.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.SetHubState("connected")
//	metrics.RecordInvocation("JoinEvent", "success", time.Since(start).Seconds())
type Metrics struct {
	// HubState reports 1 for the current connection state and 0 for others.
	// Labels: state (disconnected|connecting|connected|reconnecting)
	HubState *prometheus.GaugeVec

	// ActivityEvents counts events appended to the activity log.
	// Labels: name
	ActivityEvents *prometheus.CounterVec

	// InvocationCounter counts hub method invocations.
	// Labels: method, status (success|error|not_connected)
	InvocationCounter *prometheus.CounterVec

	// InvocationDuration measures hub invocation round trips in seconds.
	// Labels: method
	InvocationDuration *prometheus.HistogramVec

	// StartFailures counts failed connection attempts.
	StartFailures prometheus.Counter

	// Reconnects counts reconnect lifecycle phases.
	// Labels: phase (reconnecting|reconnected|gave_up)
	Reconnects *prometheus.CounterVec

	// Viewers tracks the last reported viewer count per room.
	// Labels: room
	Viewers *prometheus.GaugeVec

	// PresenceDiscards counts presence events dropped before recording.
	// Labels: reason (duplicate|remount|leaving|invalid)
	PresenceDiscards *prometheus.CounterVec

	// SessionTransitions counts live session state transitions.
	// Labels: from, to
	SessionTransitions *prometheus.CounterVec

	// APIRequestCounter counts REST API requests.
	// Labels: method, path, status_code
	APIRequestCounter *prometheus.CounterVec

	// APIRequestDuration measures REST API latency in seconds.
	// Labels: method, path
	APIRequestDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (hub|presence|session|api|credentials), error_type
	ErrorCounter *prometheus.CounterVec
}

var hubStates = []string{"disconnected", "connecting", "connected", "reconnecting", "disconnecting"}

// NewMetrics registers the client metrics with reg. A nil reg falls back to
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HubState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventlive_hub_state",
				Help: "Current hub connection state (1 for the active state)",
			},
			[]string{"state"},
		),
		ActivityEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_activity_events_total",
				Help: "Activity events received from the hub by name",
			},
			[]string{"name"},
		),
		InvocationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_hub_invocations_total",
				Help: "Hub method invocations by method and status",
			},
			[]string{"method", "status"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventlive_hub_invocation_duration_seconds",
				Help:    "Hub invocation round-trip latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 10},
			},
			[]string{"method"},
		),
		StartFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eventlive_hub_start_failures_total",
				Help: "Failed hub connection attempts",
			},
		),
		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_hub_reconnects_total",
				Help: "Hub reconnect lifecycle phases",
			},
			[]string{"phase"},
		),
		Viewers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventlive_viewers",
				Help: "Last reported viewer count per room",
			},
			[]string{"room"},
		),
		PresenceDiscards: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_presence_discards_total",
				Help: "Presence events discarded before recording",
			},
			[]string{"reason"},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_session_transitions_total",
				Help: "Live session state transitions",
			},
			[]string{"from", "to"},
		),
		APIRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_api_requests_total",
				Help: "REST API requests by method, path and status",
			},
			[]string{"method", "path", "status_code"},
		),
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventlive_api_request_duration_seconds",
				Help:    "REST API request latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventlive_errors_total",
				Help: "Errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// SetHubState marks state as the active hub state.
func (m *Metrics) SetHubState(state string) {
	if m == nil {
		return
	}
	for _, s := range hubStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.HubState.WithLabelValues(s).Set(value)
	}
}

// RecordActivityEvent counts an event appended to the activity log.
func (m *Metrics) RecordActivityEvent(name string) {
	if m == nil {
		return
	}
	m.ActivityEvents.WithLabelValues(name).Inc()
}

// RecordInvocation records a hub invocation outcome and its latency.
func (m *Metrics) RecordInvocation(method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.InvocationCounter.WithLabelValues(method, status).Inc()
	m.InvocationDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordStartFailure counts a failed connection attempt.
func (m *Metrics) RecordStartFailure() {
	if m == nil {
		return
	}
	m.StartFailures.Inc()
}

// RecordReconnect counts a reconnect phase.
func (m *Metrics) RecordReconnect(phase string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(phase).Inc()
}

// SetViewers records the viewer count reported for room.
func (m *Metrics) SetViewers(room string, count int) {
	if m == nil {
		return
	}
	m.Viewers.WithLabelValues(room).Set(float64(count))
}

// RecordPresenceDiscard counts a dropped presence event.
func (m *Metrics) RecordPresenceDiscard(reason string) {
	if m == nil {
		return
	}
	m.PresenceDiscards.WithLabelValues(reason).Inc()
}

// RecordSessionTransition counts a live session state change.
func (m *Metrics) RecordSessionTransition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

// RecordAPIRequest records a REST API request.
func (m *Metrics) RecordAPIRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.APIRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.APIRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
