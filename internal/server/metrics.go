package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	mutations      *prometheus.CounterVec
	noops          *prometheus.CounterVec
	broadcasts     prometheus.Counter
	observers      prometheus.Gauge
	observersDrops prometheus.Counter
	dumps          *prometheus.CounterVec
	dumpFailures   prometheus.Counter
}

// newMetrics registers the server collectors on reg. Each Server owns its
// registry so several can coexist in one process.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctxsync",
			Subsystem: "context",
			Name:      "mutations_total",
			Help:      "Number of accepted Context mutations",
		}, []string{
			"op",
			"source",
		}),
		noops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctxsync",
			Subsystem: "context",
			Name:      "noop_writes_total",
			Help:      "Number of mutation requests rejected because they would not change the Context",
		}, []string{
			"source",
		}),
		broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctxsync",
			Subsystem: "push",
			Name:      "events_sent_total",
			Help:      "Number of context_updated events queued to observers",
		}),
		observers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ctxsync",
			Subsystem: "push",
			Name:      "observers",
			Help:      "Number of connected push-channel observers",
		}),
		observersDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctxsync",
			Subsystem: "push",
			Name:      "observers_dropped_total",
			Help:      "Number of observers disconnected because their queue was full",
		}),
		dumps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ctxsync",
			Subsystem: "dump",
			Name:      "written_total",
			Help:      "Number of dump artifacts written",
		}, []string{
			"format",
		}),
		dumpFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ctxsync",
			Subsystem: "dump",
			Name:      "failures_total",
			Help:      "Number of dump requests that failed after validation",
		}),
	}
}

func (m *metrics) Mutation(op, source string) {
	m.mutations.WithLabelValues(op, source).Inc()
}

func (m *metrics) Noop(source string) {
	m.noops.WithLabelValues(source).Inc()
}

func (m *metrics) Broadcast(n int) {
	m.broadcasts.Add(float64(n))
}

func (m *metrics) Observers(n int) {
	m.observers.Set(float64(n))
}

func (m *metrics) DroppedObserver() {
	m.observersDrops.Inc()
}

func (m *metrics) Dumped(format string) {
	m.dumps.WithLabelValues(format).Inc()
}

func (m *metrics) DumpFailed() {
	m.dumpFailures.Inc()
}
