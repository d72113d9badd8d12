package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a bus subscriber that turns command events into Prometheus series.
type Metrics struct {
	reg *prometheus.Registry

	commands *prometheus.CounterVec
	latency  prometheus.Histogram
	refined  prometheus.Counter

	mu      sync.Mutex
	started map[string]time.Time
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boi_commands_total",
			Help: "Commands processed by the dispatcher",
		}, []string{"action", "status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boi_command_latency_seconds",
			Help:    "Time from command_started to completion or failure",
			Buckets: prometheus.DefBuckets,
		}),
		refined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boi_replies_refined_total",
			Help: "Replies rewritten off the hot path",
		}),
		started: make(map[string]time.Time),
	}
	m.reg.MustRegister(m.commands, m.latency, m.refined)
	return m
}

func (m *Metrics) Observe(env Envelope) {
	switch p := env.Payload.(type) {
	case StartedPayload:
		m.mu.Lock()
		m.started[p.UtteranceID] = p.TS
		m.mu.Unlock()
	case CompletedPayload:
		m.commands.WithLabelValues(p.Action, "ok").Inc()
		m.finish(p.UtteranceID, p.TS)
	case FailedPayload:
		m.commands.WithLabelValues(p.Action, string(p.Kind)).Inc()
		m.finish(p.UtteranceID, p.TS)
	case RefinedPayload:
		m.refined.Inc()
	}
}

func (m *Metrics) finish(id string, at time.Time) {
	m.mu.Lock()
	start, ok := m.started[id]
	delete(m.started, id)
	m.mu.Unlock()
	if ok {
		m.latency.Observe(at.Sub(start).Seconds())
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
