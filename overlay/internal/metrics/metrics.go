// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailsentry"

// Metrics holds the overlay collectors. Each instance owns its registry so
// several overlays (and tests) can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	Notifications prometheus.Counter
	Settled       prometheus.Counter
	Suppressed    prometheus.Counter
	Accepted      prometheus.Counter

	ScoringRequests *prometheus.CounterVec // result: ok | transport | rejected | canceled
	ScoringDuration prometheus.Histogram
	StaleResponses  prometheus.Counter
	DisplayedScore  prometheus.Gauge
	Advisories      prometheus.Counter

	ChannelState      *prometheus.GaugeVec // one-hot over connecting | open | closed
	ChannelReconnects prometheus.Counter
	ChannelEvents     *prometheus.CounterVec // type

	Actions *prometheus.CounterVec // action
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detect", Name: "notifications_total",
			Help: "Raw change notifications received from the host document.",
		}),
		Settled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detect", Name: "settled_total",
			Help: "Quiesced bursts that produced a settled event.",
		}),
		Suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "guard", Name: "suppressed_total",
			Help: "Settled events suppressed because the identity was unchanged.",
		}),
		Accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "guard", Name: "accepted_total",
			Help: "Runs accepted for a new identity.",
		}),
		ScoringRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "requests_total",
			Help: "Scoring requests by result.",
		}, []string{"result"}),
		ScoringDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "duration_seconds",
			Help:    "Scoring request latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		StaleResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "stale_responses_total",
			Help: "Scoring responses discarded because their run was superseded.",
		}),
		DisplayedScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "score", Name: "displayed",
			Help: "Currently displayed risk score.",
		}),
		Advisories: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "score", Name: "advisories_total",
			Help: "High-risk advisories shown.",
		}),
		ChannelState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "channel", Name: "state",
			Help: "Push channel state (1 for the current state).",
		}, []string{"state"}),
		ChannelReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "reconnects_total",
			Help: "Push channel reconnection attempts.",
		}),
		ChannelEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "events_total",
			Help: "Push events delivered by type.",
		}, []string{"type"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "actions", Name: "recorded_total",
			Help: "Actions recorded in the action log.",
		}, []string{"action"}),
	}
}

// SetChannelState marks state as current.
func (m *Metrics) SetChannelState(state string) {
	for _, s := range []string{"connecting", "open", "closed"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ChannelState.WithLabelValues(s).Set(v)
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
