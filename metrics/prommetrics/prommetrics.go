// Package prommetrics implements metrics.ClientMetrics with Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vshadow.io/vss/metrics"
)

// Default histogram buckets for RPC latency (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

type clientMetrics struct {
	rpcDuration   *prometheus.HistogramVec
	rpcTotal      *prometheus.CounterVec
	unresolved    *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
}

// NewClientMetrics creates and registers the client collectors on reg.
func NewClientMetrics(reg prometheus.Registerer) metrics.ClientMetrics {
	m := &clientMetrics{
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vss_client_rpc_duration_seconds",
			Help:    "Per-shard SignalService RPC latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"method", "shard"}),

		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vss_client_rpcs_total",
			Help: "Total number of per-shard SignalService RPCs",
		}, []string{"method", "shard", "success"}),

		unresolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vss_client_unresolved_paths_total",
			Help: "Total number of signal paths no shard binding owns",
		}, []string{"op"}),

		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vss_client_subscriptions_active",
			Help: "Number of open subscription streams",
		}, []string{"shard"}),
	}

	reg.MustRegister(
		m.rpcDuration,
		m.rpcTotal,
		m.unresolved,
		m.subscriptions,
	)
	return m
}

func (m *clientMetrics) RPCDuration(method, shard string) metrics.Timer {
	return newTimer(m.rpcDuration.WithLabelValues(method, shard))
}

func (m *clientMetrics) RPCCompleted(method, shard string, success bool) {
	m.rpcTotal.WithLabelValues(method, shard, strconv.FormatBool(success)).Inc()
}

func (m *clientMetrics) Unresolved(op string) {
	m.unresolved.WithLabelValues(op).Inc()
}

func (m *clientMetrics) SubscriptionOpened(shard string) {
	m.subscriptions.WithLabelValues(shard).Inc()
}

func (m *clientMetrics) SubscriptionClosed(shard string) {
	m.subscriptions.WithLabelValues(shard).Dec()
}

var _ metrics.ClientMetrics = (*clientMetrics)(nil)
