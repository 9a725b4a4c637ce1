package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the console. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	SessionEvents     *prometheus.CounterVec
	SessionState      *prometheus.GaugeVec
	ChannelMessages   *prometheus.CounterVec
	DroppedEvents     *prometheus.CounterVec
	TranscriptEntries *prometheus.CounterVec
	IdleReconnects    *prometheus.CounterVec
	SignalingLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current realtime session state, 0 otherwise.",
		}, []string{"state"}),
		ChannelMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_messages_total",
			Help:      "Event channel messages by direction and type.",
		}, []string{"direction", "type"}),
		DroppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Protocol events dropped by reason.",
		}, []string{"reason"}),
		TranscriptEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries appended by role and subtype.",
		}, []string{"role", "subtype"}),
		IdleReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_reconnects_total",
			Help:      "Reconnects forced by the liveness supervisor.",
		}, []string{"target"}),
		SignalingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signaling_latency_ms",
			Help:      "Offer/answer round trip latency in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 800, 1200, 2000, 5000},
		}),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

// SetState marks state as current and clears every other known state.
func (m *Metrics) SetState(state string, known []string) {
	if m == nil {
		return
	}
	for _, s := range known {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ChannelMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.ChannelMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) DroppedEvent(reason string) {
	if m == nil {
		return
	}
	m.DroppedEvents.WithLabelValues(reason).Inc()
}

func (m *Metrics) TranscriptEntry(role, subtype string) {
	if m == nil {
		return
	}
	m.TranscriptEntries.WithLabelValues(role, subtype).Inc()
}

func (m *Metrics) IdleReconnect(target string) {
	if m == nil {
		return
	}
	m.IdleReconnects.WithLabelValues(target).Inc()
}

func (m *Metrics) ObserveSignalingLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.SignalingLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
