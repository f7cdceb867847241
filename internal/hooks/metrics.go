package hooks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSubscriber realizes spec.md §1's "DuckDB / Prometheus sinks
// (treated as event consumers)" as a concrete Prometheus hook subscriber —
// it only ever reads from hc, so a slow Prometheus scrape can never affect
// the data plane.
type MetricsSubscriber struct {
	requests   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tokensIn   *prometheus.CounterVec
	tokensOut  *prometheus.CounterVec
}

// NewMetricsSubscriber registers its collectors with reg (pass
// prometheus.DefaultRegisterer in production, a fresh prometheus.NewRegistry()
// in tests).
func NewMetricsSubscriber(reg prometheus.Registerer) *MetricsSubscriber {
	m := &MetricsSubscriber{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_requests_total",
			Help: "Completed gateway requests.",
		}, []string{"provider", "source_format", "target_format"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_request_failures_total",
			Help: "Failed gateway requests.",
		}, []string{"provider", "error"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccproxy_request_duration_seconds",
			Help:    "Gateway request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		tokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_tokens_input_total",
			Help: "Upstream input tokens consumed.",
		}, []string{"provider", "model"}),
		tokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_tokens_output_total",
			Help: "Upstream output tokens generated.",
		}, []string{"provider", "model"}),
	}
	reg.MustRegister(m.requests, m.failures, m.duration, m.tokensIn, m.tokensOut)
	return m
}

func (m *MetricsSubscriber) Name() string { return "metrics" }

func (m *MetricsSubscriber) Handle(ctx context.Context, hc Context) error {
	provider, _ := hc.Metadata["provider"].(string)

	switch hc.Kind {
	case RequestCompleted:
		source, _ := hc.Metadata["source_format"].(string)
		target, _ := hc.Metadata["target_format"].(string)
		m.requests.WithLabelValues(provider, source, target).Inc()

		if hc.RC != nil {
			m.duration.WithLabelValues(provider).Observe(hc.RC.Duration().Seconds())
			snap := hc.RC.Metadata.Snapshot()
			m.tokensIn.WithLabelValues(provider, snap.Model).Add(float64(snap.TokensInput))
			m.tokensOut.WithLabelValues(provider, snap.Model).Add(float64(snap.TokensOutput))
		}

	case RequestFailed:
		errKind, _ := hc.Data["error"].(string)
		m.failures.WithLabelValues(provider, errKind).Inc()
	}

	return nil
}

var _ Subscriber = (*MetricsSubscriber)(nil)
