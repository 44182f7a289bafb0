// Package metrics exposes Prometheus metrics for pools, provisioning and the
// catalog aggregation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosuda/bazaar/internal/domain"
)

// Prometheus metric names.
const (
	MetricProvisionTotal           = "bazaar_provision_operations_total"
	MetricAggregateDurationSeconds = "bazaar_aggregate_duration_seconds"
	MetricAggregateTenants         = "bazaar_aggregate_tenants_total"
	MetricAggregateSkipped         = "bazaar_aggregate_skipped_tenants_total"
	MetricTenantPools              = "bazaar_tenant_pools"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	provisionTotal    *prometheus.CounterVec
	aggregateDuration prometheus.Histogram
	aggregateTenants  prometheus.Counter
	aggregateSkipped  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		provisionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: MetricProvisionTotal,
			Help: "Tenant store provisioning operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		aggregateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricAggregateDurationSeconds,
			Help:    "Time taken to aggregate products across all tenants.",
			Buckets: prometheus.DefBuckets,
		}),
		aggregateTenants: f.NewCounter(prometheus.CounterOpts{
			Name: MetricAggregateTenants,
			Help: "Tenants visited by catalog aggregations.",
		}),
		aggregateSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: MetricAggregateSkipped,
			Help: "Tenants skipped by catalog aggregations because their store failed.",
		}),
	}
}

// ProvisionOutcome counts one create, rename or destroy. The outcome label is
// "ok" or the error kind.
func (m *Metrics) ProvisionOutcome(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(domain.Kind(err))
	}
	m.provisionTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveAggregate(elapsed time.Duration, tenants, skipped int) {
	m.aggregateDuration.Observe(elapsed.Seconds())
	m.aggregateTenants.Add(float64(tenants))
	m.aggregateSkipped.Add(float64(skipped))
}

// TrackPools exports the number of cached dedicated pools, read from count
// at scrape time.
func (m *Metrics) TrackPools(count func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: MetricTenantPools,
		Help: "Dedicated tenant connection pools currently cached.",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
