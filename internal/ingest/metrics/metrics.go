// Package metrics exports ingestion counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "photoimport"

type Metrics struct {
	invocations *prometheus.CounterVec
	apiCalls    *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	prefixBytes prometheus.Histogram
}

// New creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Ingestion invocations by terminal state.",
		}, []string{"state"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Remote call attempts by endpoint and status code (0 = transport failure).",
		}, []string{"endpoint", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Credential refresh outcomes.",
		}, []string{"result"}),
		prefixBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "metadata_prefix_bytes",
			Help:      "Bytes collected from the head of each object for metadata extraction.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.invocations, m.apiCalls, m.refreshes, m.prefixBytes} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Invocation(state string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(state).Inc()
}

func (m *Metrics) ApiCall(endpoint string, status int) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) PrefixBytes(n int) {
	if m == nil {
		return
	}
	m.prefixBytes.Observe(float64(n))
}
