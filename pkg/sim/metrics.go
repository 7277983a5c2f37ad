package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the simulation counters exposed on /metrics. A nil
// Metrics is valid and records nothing, which keeps tests quiet.
type Metrics struct {
	runsActive     prometheus.Gauge
	runsCompleted  *prometheus.CounterVec
	ticksTotal     prometheus.Counter
	tickDuration   prometheus.Histogram
	relayDelivered prometheus.Counter
	relayDropped   prometheus.Counter
}

// NewMetrics builds and registers the simulation metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strikenet_runs_active",
			Help: "Number of simulation runs currently in the Running state",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strikenet_runs_completed_total",
			Help: "Simulation runs by terminal status",
		}, []string{"status"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikenet_ticks_total",
			Help: "Total simulation ticks advanced",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strikenet_tick_duration_seconds",
			Help:    "Wall time spent per simulation tick",
			Buckets: prometheus.DefBuckets,
		}),
		relayDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikenet_relay_delivered_total",
			Help: "Relay message copies delivered to peers",
		}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strikenet_relay_dropped_total",
			Help: "Relay message copies lost in transit",
		}),
	}
	reg.MustRegister(m.runsActive, m.runsCompleted, m.ticksTotal,
		m.tickDuration, m.relayDelivered, m.relayDropped)
	return m
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runCompleted(status Status) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsCompleted.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) tickObserved(seconds float64) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickDuration.Observe(seconds)
}

func (m *Metrics) relayObserved(delivered, dropped int) {
	if m == nil {
		return
	}
	m.relayDelivered.Add(float64(delivered))
	m.relayDropped.Add(float64(dropped))
}
