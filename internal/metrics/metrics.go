package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aegisnet"

// Metrics holds all the Prometheus metrics of a probe or inference process.
// Each instance owns its registry so several can coexist in one test binary.
type Metrics struct {
	registry *prometheus.Registry

	PacketsObserved prometheus.Counter
	PacketsDropped  prometheus.Counter
	ActiveFlows     prometheus.Gauge
	FlowsEvicted    prometheus.Counter
	FlowsFlushed    prometheus.Counter
	FlowDeliveries  *prometheus.CounterVec // sink, outcome

	IngestTotal    *prometheus.CounterVec // endpoint, outcome
	IngestDuration prometheus.Histogram
	Verdicts       *prometheus.CounterVec // label
	Suspicious     prometheus.Counter

	ClassifierSources prometheus.Gauge
	ClassifierEvicted prometheus.Counter

	BusSubscribers        prometheus.Gauge
	BusDroppedSubscribers prometheus.Counter
	BusPublished          prometheus.Counter
	ResultLogEntries      prometheus.Gauge

	NATSMessages *prometheus.CounterVec // outcome
	Alerts       *prometheus.CounterVec // outcome
}

// New creates a Metrics instance registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PacketsObserved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_observed_total",
			Help:      "Total number of packets folded into a flow",
		}),
		PacketsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total number of packets dropped before aggregation",
		}),
		ActiveFlows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flows_active",
			Help:      "Number of live flows in the aggregation table",
		}),
		FlowsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_evicted_total",
			Help:      "Total number of flows evicted after their TTL",
		}),
		FlowsFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_flushed_total",
			Help:      "Total number of flow snapshots emitted by flushes",
		}),
		FlowDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_deliveries_total",
			Help:      "Flow deliveries per sink and outcome",
		}, []string{"sink", "outcome"}),

		IngestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Scored flows per entry point and outcome",
		}, []string{"endpoint", "outcome"}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Latency of a single pipeline ingestion",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Threat verdicts raised per label",
		}, []string{"label"}),
		Suspicious: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_flows_total",
			Help:      "Total number of flows scored above the suspicious threshold",
		}),

		ClassifierSources: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifier_sources",
			Help:      "Number of sources with a live rolling window",
		}),
		ClassifierEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_sources_evicted_total",
			Help:      "Total number of source windows evicted for idleness or capacity",
		}),

		BusSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eventbus_subscribers",
			Help:      "Number of live event bus subscribers",
		}),
		BusDroppedSubscribers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_subscribers_total",
			Help:      "Total number of subscribers dropped because their queue was full",
		}),
		BusPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_published_total",
			Help:      "Total number of events published on the bus",
		}),
		ResultLogEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resultlog_entries",
			Help:      "Number of entries held in the recent result log",
		}),

		NATSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_messages_total",
			Help:      "NATS flow messages per outcome",
		}, []string{"outcome"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert digests per outcome",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
