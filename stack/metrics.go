package stack

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics carries the prometheus instruments one Stack feeds. Workers
// record every dispatch pass; the accept and connect paths count
// connections. The Stack owns a private registry so two stacks in one
// process never collide.
type Metrics struct {
	registry *prometheus.Registry

	polls    *prometheus.CounterVec
	events   *prometheus.CounterVec
	busy     *prometheus.CounterVec
	accepted prometheus.Counter
	dialed   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aevent_worker_polls_total",
			Help: "Dispatch passes per worker.",
		}, []string{"worker"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aevent_worker_events_total",
			Help: "Callbacks dispatched per worker.",
		}, []string{"worker"}),
		busy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aevent_worker_busy_seconds_total",
			Help: "Time spent running callbacks per worker.",
		}, []string{"worker"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aevent_accepted_connections_total",
			Help: "Connections accepted across all listeners.",
		}),
		dialed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aevent_dialed_connections_total",
			Help: "Outgoing connections started.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.events, m.busy, m.accepted, m.dialed,
	)
	return m
}

// Gatherer exposes the registry for a promhttp handler.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

func (m *Metrics) observe(worker int, processed int, busy time.Duration) {
	label := strconv.Itoa(worker)
	m.polls.WithLabelValues(label).Inc()
	m.events.WithLabelValues(label).Add(float64(processed))
	m.busy.WithLabelValues(label).Add(busy.Seconds())
}
