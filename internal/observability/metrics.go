package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/guardian/internal/backend"
	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/risk"
)

// Metrics groups all Prometheus instruments used by the service. It satisfies
// backend.Recorder and guardian.Recorder.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	Verdicts          *prometheus.CounterVec
	EscalationEvents  *prometheus.CounterVec
	IgnoredVerdicts   prometheus.Counter
	NotificationsSent prometheus.Counter
	Summaries         *prometheus.CounterVec
	BackendLatency    *prometheus.HistogramVec
	BackendErrors     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active monitored sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Submitted turns by outcome.",
		}, []string{"outcome"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Parsed risk verdicts by recommended action.",
		}, []string{"action"}),
		EscalationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_events_total",
			Help:      "Escalation events by kind.",
		}, []string{"kind"}),
		IgnoredVerdicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_verdicts_total",
			Help:      "Verdicts received while a confirmation was pending.",
		}),
		NotificationsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Emergency notifications issued, one per contact.",
		}),
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_summaries_total",
			Help:      "Conversation memory compressions by outcome.",
		}, []string{"outcome"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Backend call latency by provider and operation.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"provider", "op"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend errors by provider and retryability.",
		}, []string{"provider", "retryable"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveBackendCall(provider, op string, elapsed time.Duration, err error) {
	m.BackendLatency.WithLabelValues(provider, op).Observe(elapsed.Seconds())
	m.window.Observe("backend_"+op, elapsed)
	if err == nil {
		return
	}
	retryable := false
	var be *backend.Error
	if errors.As(err, &be) {
		retryable = be.Retryable
	}
	m.BackendErrors.WithLabelValues(provider, strconv.FormatBool(retryable)).Inc()
}

func (m *Metrics) ObserveTurn(outcome string) {
	m.Turns.WithLabelValues(outcome).Inc()
	if outcome == "no_verdict" {
		m.window.Count("verdict_missing")
	}
}

func (m *Metrics) ObserveVerdict(action risk.Action) {
	label := string(action)
	if label == "" {
		label = "unknown"
	}
	m.Verdicts.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveStep(step escalation.Step) {
	if step.Ignored {
		m.IgnoredVerdicts.Inc()
		m.window.Count("verdict_ignored")
	}
	for _, ev := range step.Events {
		m.EscalationEvents.WithLabelValues(string(ev.Kind)).Inc()
		m.NotificationsSent.Add(float64(len(ev.Notifications)))
	}
}

func (m *Metrics) ObserveSummary(outcome string) {
	m.Summaries.WithLabelValues(outcome).Inc()
	if outcome != "ok" {
		m.window.Count("summary_" + outcome)
	}
}

// ObserveStage records a pipeline stage duration in the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.window.Observe(stage, d)
}

func (m *Metrics) LatencySnapshot() LatencySnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
