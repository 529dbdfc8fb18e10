// Package metrics provides optional Prometheus instrumentation for redisx.
// A *Hooks value is nil-safe: every method is a no-op when the receiver is
// nil, so instrumentation stays entirely opt-in.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Hooks bundles the counters a Server or Cluster reports to.
// Construct one with NewHooks and register it, or leave the field nil to
// disable metrics entirely.
type Hooks struct {
	Requests        *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Reconnects      prometheus.Counter
	ClusterRefresh  prometheus.Counter
	PubSubDispatch  prometheus.Counter
	PipelineDropped prometheus.Counter
}

// NewHooks creates and registers the standard redisx metric set under
// namespace/subsystem with reg. Pass prometheus.DefaultRegisterer for the
// global registry, or a fresh *prometheus.Registry in tests.
func NewHooks(reg prometheus.Registerer, namespace, subsystem string) *Hooks {
	h := &Hooks{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of interactive requests issued.",
		}, []string{"command"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of request errors, by error code.",
		}, []string{"code"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Total number of successful server connects.",
		}),
		ClusterRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cluster_refreshes_total",
			Help:      "Total number of cluster topology refreshes performed.",
		}),
		PubSubDispatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pubsub_dispatched_total",
			Help:      "Total number of PUB/SUB messages dispatched to subscribers.",
		}),
		PipelineDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_dropped_total",
			Help:      "Total number of pipeline replies dropped (no consumer registered).",
		}),
	}

	reg.MustRegister(h.Requests, h.Errors, h.Reconnects, h.ClusterRefresh, h.PubSubDispatch, h.PipelineDropped)
	return h
}

func (h *Hooks) ObserveRequest(command string) {
	if h == nil {
		return
	}
	h.Requests.WithLabelValues(command).Inc()
}

func (h *Hooks) ObserveError(code string) {
	if h == nil {
		return
	}
	h.Errors.WithLabelValues(code).Inc()
}

func (h *Hooks) ObserveReconnect() {
	if h == nil {
		return
	}
	h.Reconnects.Inc()
}

func (h *Hooks) ObserveClusterRefresh() {
	if h == nil {
		return
	}
	h.ClusterRefresh.Inc()
}

func (h *Hooks) ObservePubSubDispatch() {
	if h == nil {
		return
	}
	h.PubSubDispatch.Inc()
}

func (h *Hooks) ObservePipelineDropped() {
	if h == nil {
		return
	}
	h.PipelineDropped.Inc()
}
