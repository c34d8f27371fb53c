// Package metrics exposes the agent's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mekleo/dnsvantage/internal/domain"
)

// Metrics aggregates the probe and flush instruments. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	probeEvents   *prometheus.CounterVec
	sendFailures  *prometheus.CounterVec
	flushTotal    prometheus.Counter
	flushFailures prometheus.Counter
	queryAvg      *prometheus.GaugeVec
	queryStdDev   *prometheus.GaugeVec
	pendingEvents *prometheus.GaugeVec
	probeDuration *prometheus.HistogramVec
}

// New builds the instruments and registers them on the default registry.
func New() *Metrics {
	m := &Metrics{
		probeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnsvantage",
			Subsystem: "probe",
			Name:      "events_total",
			Help:      "Count of probe events by outcome kind",
		}, []string{"domain", "kind"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnsvantage",
			Subsystem: "probe",
			Name:      "send_failures_total",
			Help:      "Count of probe attempts that failed to send",
		}, []string{"domain"}),
		flushTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnsvantage",
			Name:      "flush_total",
			Help:      "Count of successful storage flushes",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnsvantage",
			Name:      "flush_failures_total",
			Help:      "Count of storage flushes that failed with events requeued",
		}),
		queryAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dnsvantage",
			Name:      "query_time_avg_ms",
			Help:      "Running mean query time per domain",
		}, []string{"domain"}),
		queryStdDev: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dnsvantage",
			Name:      "query_time_stddev_ms",
			Help:      "Running query time standard deviation per domain",
		}, []string{"domain"}),
		pendingEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dnsvantage",
			Name:      "pending_events",
			Help:      "Events queued on a domain awaiting the next flush",
		}, []string{"domain"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dnsvantage",
			Subsystem: "probe",
			Name:      "duration_ms",
			Help:      "Distribution of probe durations",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"domain"}),
	}
	prometheus.MustRegister(
		m.probeEvents, m.sendFailures, m.flushTotal, m.flushFailures,
		m.queryAvg, m.queryStdDev, m.pendingEvents, m.probeDuration,
	)
	return m
}

// ObserveEvent records one probe outcome.
func (m *Metrics) ObserveEvent(name string, ev domain.Event) {
	if m == nil {
		return
	}
	m.probeEvents.WithLabelValues(name, ev.Kind.String()).Inc()
	m.probeDuration.WithLabelValues(name).Observe(ev.DurationMS)
}

// ObserveSendFailure counts a probe attempt that could not be sent.
func (m *Metrics) ObserveSendFailure(name string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(name).Inc()
}

// ObserveFlush counts one successful flush.
func (m *Metrics) ObserveFlush() {
	if m == nil {
		return
	}
	m.flushTotal.Inc()
}

// ObserveFlushFailure counts one flush that failed.
func (m *Metrics) ObserveFlushFailure() {
	if m == nil {
		return
	}
	m.flushFailures.Inc()
}

// ObserveDomain refreshes the per-domain gauges from a statistics snapshot.
func (m *Metrics) ObserveDomain(st domain.Stats) {
	if m == nil {
		return
	}
	m.queryAvg.WithLabelValues(st.Name).Set(st.QueryTimeAvg)
	m.queryStdDev.WithLabelValues(st.Name).Set(st.QueryTimeStdDev)
	m.pendingEvents.WithLabelValues(st.Name).Set(float64(st.Pending))
}
