package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter exposes a Monitor's counters and windowed statistics
// as Prometheus metrics. Register it with a prometheus.Registry.
type PrometheusExporter struct {
	mu      sync.Mutex
	monitor *Monitor

	invocationsTotal *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	ticksTotal       prometheus.Counter

	meanDuration *prometheus.GaugeVec
	p95Duration  *prometheus.GaugeVec
	errorRate    *prometheus.GaugeVec

	// lastCounts tracks deltas so counters only ever increase.
	lastInvocations map[string]uint64
	lastFailures    map[string]uint64
	lastTicks       uint64
}

// NewPrometheusExporter creates an exporter backed by the given monitor.
func NewPrometheusExporter(m *Monitor) *PrometheusExporter {
	return &PrometheusExporter{
		monitor: m,
		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowtime_processor_invocations_total",
				Help: "Total number of processor invocations",
			},
			[]string{"processor"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowtime_processor_failures_total",
				Help: "Total number of failed processor invocations",
			},
			[]string{"processor"},
		),
		ticksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowtime_ticks_total",
				Help: "Total number of completed dispatch rounds",
			},
		),
		meanDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowtime_processor_mean_duration_seconds",
				Help: "Mean processor execution time over the retained window",
			},
			[]string{"processor"},
		),
		p95Duration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowtime_processor_p95_duration_seconds",
				Help: "95th percentile processor execution time over the retained window",
			},
			[]string{"processor"},
		),
		errorRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowtime_processor_error_rate",
				Help: "Failed fraction of retained invocations (0..1)",
			},
			[]string{"processor"},
		),
		lastInvocations: make(map[string]uint64),
		lastFailures:    make(map[string]uint64),
	}
}

// Describe implements prometheus.Collector.
func (e *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	e.invocationsTotal.Describe(ch)
	e.failuresTotal.Describe(ch)
	e.ticksTotal.Describe(ch)
	e.meanDuration.Describe(ch)
	e.p95Duration.Describe(ch)
	e.errorRate.Describe(ch)
}

// Collect implements prometheus.Collector and refreshes metrics from the
// monitor before emitting them.
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	e.refresh()

	e.invocationsTotal.Collect(ch)
	e.failuresTotal.Collect(ch)
	e.ticksTotal.Collect(ch)
	e.meanDuration.Collect(ch)
	e.p95Duration.Collect(ch)
	e.errorRate.Collect(ch)
}

func (e *PrometheusExporter) refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()

	ticks := e.monitor.TotalTicks()
	if ticks > e.lastTicks {
		e.ticksTotal.Add(float64(ticks - e.lastTicks))
		e.lastTicks = ticks
	}

	for _, id := range e.monitor.Processors() {
		invocations, failures := e.monitor.Totals(id)
		if prev := e.lastInvocations[id]; invocations > prev {
			e.invocationsTotal.WithLabelValues(id).Add(float64(invocations - prev))
			e.lastInvocations[id] = invocations
		}
		if prev := e.lastFailures[id]; failures > prev {
			e.failuresTotal.WithLabelValues(id).Add(float64(failures - prev))
			e.lastFailures[id] = failures
		}

		if stats, ok := e.monitor.StatsFor(id); ok {
			e.meanDuration.WithLabelValues(id).Set(stats.Mean.Seconds())
			e.p95Duration.WithLabelValues(id).Set(stats.P95.Seconds())
			e.errorRate.WithLabelValues(id).Set(stats.ErrorRate)
		}
	}
}
