package tour

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricTransitions   = "tour_transitions_total"
	MetricGraphWarnings = "tour_graph_warnings_total"
	MetricSessions      = "tour_sessions_active"
	MetricMediaChecks   = "tour_media_checks_total"
)

// Metrics contains Prometheus metrics for viewer sessions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	graphWarnings *prometheus.CounterVec
	sessions      prometheus.Gauge
	mediaChecks   *prometheus.CounterVec
}

// NewMetrics creates unregistered tour metrics; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTransitions,
			Help: "Transition requests by outcome",
		}, []string{"outcome"}),
		graphWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricGraphWarnings,
			Help: "Scene graph integrity warnings seen while loading sessions, by kind",
		}, []string{"kind"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSessions,
			Help: "Number of open viewer sessions",
		}),
		mediaChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMediaChecks,
			Help: "Panorama existence checks by result",
		}, []string{"result"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.transitions, m.graphWarnings, m.sessions, m.mediaChecks}
}

func (m *Metrics) observeTransition(o Outcome) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observeWarnings(kinds map[string]int) {
	if m == nil {
		return
	}
	for kind, n := range kinds {
		m.graphWarnings.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) observeMediaCheck(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.mediaChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}
