package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run unmetered.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Protocol metrics
	Messages         *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec

	// Agent metrics
	Scans             prometheus.Counter
	ScannedElements   prometheus.Histogram
	Mutations         *prometheus.CounterVec
	AmbiguousMatches  prometheus.Counter
	InjectionProbes   *prometheus.CounterVec
	InjectionFailures prometheus.Counter

	// Sync metrics
	SyncAttempts *prometheus.CounterVec
	SyncDuration prometheus.Histogram
	PendingEdits prometheus.Gauge
	BreakerState *prometheus.GaugeVec

	// Target fetch metrics
	Fetches *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	WSConnections  *prometheus.GaugeVec

	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics registers every collector on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visualedit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
	m.ResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visualedit_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	m.Messages = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_protocol_messages_total",
			Help: "Protocol messages by direction and type",
		},
		[]string{"direction", "type"},
	)
	m.MessagesRejected = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_protocol_messages_rejected_total",
			Help: "Inbound protocol messages discarded before dispatch",
		},
		[]string{"reason"},
	)

	m.Scans = f.NewCounter(prometheus.CounterOpts{
		Name: "visualedit_agent_scans_total",
		Help: "Completed document scans",
	})
	m.ScannedElements = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "visualedit_agent_scan_elements",
		Help:    "Elements reported per scan",
		Buckets: []float64{1, 10, 50, 100, 250, 500},
	})
	m.Mutations = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_agent_mutations_total",
			Help: "Applied mutations by outcome",
		},
		[]string{"result"},
	)
	m.AmbiguousMatches = f.NewCounter(prometheus.CounterOpts{
		Name: "visualedit_agent_ambiguous_selectors_total",
		Help: "Mutations whose selector matched more than one node",
	})
	m.InjectionProbes = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_injection_probes_total",
			Help: "Injection re-probes by outcome",
		},
		[]string{"outcome"},
	)
	m.InjectionFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "visualedit_injection_failures_total",
		Help: "Injection attempts that failed and were swallowed",
	})

	m.SyncAttempts = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_sync_attempts_total",
			Help: "Edit sync attempts by result",
		},
		[]string{"result"},
	)
	m.SyncDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "visualedit_sync_duration_seconds",
		Help:    "Edit sync call duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	m.PendingEdits = f.NewGauge(prometheus.GaugeOpts{
		Name: "visualedit_sync_pending_edits",
		Help: "Edits held in the pending-sync cache",
	})

	m.BreakerState = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visualedit_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	m.Fetches = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visualedit_fetch_total",
			Help: "Target document fetches by result",
		},
		[]string{"result"},
	)

	m.SessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "visualedit_sessions_active",
		Help: "Number of open editing sessions",
	})
	m.WSConnections = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visualedit_ws_connections",
			Help: "Open websocket connections by role",
		},
		[]string{"role"},
	)

	m.Uptime = f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "visualedit_uptime_seconds",
		Help: "Process uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordMessage counts a protocol message. direction is "in" or "out".
func (m *Metrics) RecordMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction, msgType).Inc()
}

// RecordRejected counts an inbound message dropped before dispatch.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.MessagesRejected.WithLabelValues(reason).Inc()
}

// RecordScan records a finished scan and its element count.
func (m *Metrics) RecordScan(elements int) {
	if m == nil {
		return
	}
	m.Scans.Inc()
	m.ScannedElements.Observe(float64(elements))
}

// RecordMutation records a mutation outcome; ambiguous marks a selector
// that matched several nodes.
func (m *Metrics) RecordMutation(success, ambiguous bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.Mutations.WithLabelValues(result).Inc()
	if ambiguous {
		m.AmbiguousMatches.Inc()
	}
}

// RecordProbe records one injection re-probe. outcome is "requested" when a
// rescan was asked for and "skipped" when elements had already arrived.
func (m *Metrics) RecordProbe(outcome string) {
	if m == nil {
		return
	}
	m.InjectionProbes.WithLabelValues(outcome).Inc()
}

// RecordInjectionFailure counts a swallowed injection error.
func (m *Metrics) RecordInjectionFailure() {
	if m == nil {
		return
	}
	m.InjectionFailures.Inc()
}

// RecordSync records a sync attempt.
func (m *Metrics) RecordSync(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(duration.Seconds())
}

// SetPendingEdits sets the pending-sync cache size.
func (m *Metrics) SetPendingEdits(n int) {
	if m == nil {
		return
	}
	m.PendingEdits.Set(float64(n))
}

// SetBreakerState records the state of the named circuit breaker.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordFetch records a target fetch.
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
}

// SetSessionsActive sets the number of open sessions.
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// IncWSConnections increments open websocket connections for role.
func (m *Metrics) IncWSConnections(role string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(role).Inc()
}

// DecWSConnections decrements open websocket connections for role.
func (m *Metrics) DecWSConnections(role string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(role).Dec()
}
