// Package metrics exports raftstore and PD worker activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nyxstore/internal/raftstore/worker"
)

// PDCollector counts PD requests issued by the PD worker and times range
// compactions. It implements worker.Observer and worker.CompactObserver.
type PDCollector struct {
	requests     *prometheus.CounterVec
	directives   *prometheus.CounterVec
	validatePeer *prometheus.CounterVec
	compactRange *prometheus.HistogramVec
}

var (
	_ worker.Observer        = (*PDCollector)(nil)
	_ worker.CompactObserver = (*PDCollector)(nil)
)

func NewPDCollector(reg prometheus.Registerer, namespace string) *PDCollector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	builder := promauto.With(reg)
	return &PDCollector{
		requests: builder.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pd_request_sent_total",
			Help:      "Requests sent to PD by type and result.",
		}, []string{"type", "result"}),
		directives: builder.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pd_heartbeat_directive_total",
			Help:      "Directives received in region heartbeat responses.",
		}, []string{"type"}),
		validatePeer: builder.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pd_validate_peer_total",
			Help:      "Results of validating follower peers against PD.",
		}, []string{"type"}),
		compactRange: builder.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compact_range_cf_duration_seconds",
			Help:      "Duration of manual range compactions per column family.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 16),
		}, []string{"cf"}),
	}
}

func (c *PDCollector) OnRequest(kind, outcome string) {
	c.requests.WithLabelValues(kind, outcome).Inc()
}

func (c *PDCollector) OnHeartbeatDirective(directive string) {
	c.directives.WithLabelValues(directive).Inc()
}

func (c *PDCollector) OnValidatePeer(result string) {
	c.validatePeer.WithLabelValues(result).Inc()
}

func (c *PDCollector) ObserveCompaction(cf string, elapsed time.Duration) {
	c.compactRange.WithLabelValues(cf).Observe(elapsed.Seconds())
}
