/*
Package metrics exposes Prometheus collectors for the fee engine.

PURPOSE:
  Counts what the business cares about (calculations produced, discounts
  redeemed, approval transitions, structure versions) and what operations
  cares about (HTTP traffic). Collectors live on a private registry so
  tests can build as many Metrics values as they like.

COLLECTORS:
  fee_calculations_total{calculation_type,persisted}
  fee_calculation_total_payable{fee_type}      histogram
  fee_discount_redemptions_total{discount_type}
  fee_approval_transitions_total{event}
  fee_structure_versions_total{action}
  http_requests_total{method,route,status}
  http_request_duration_seconds{method,route}  histogram

  Counters are bumped after the transaction commits, so a rolled-back
  request never shows up.

SEE ALSO:
  - api/server.go: mounts Handler at /metrics, installs Middleware
*/
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/fee-engine/fees"
)

type Metrics struct {
	registry *prometheus.Registry

	calculations       *prometheus.CounterVec
	totalPayable       *prometheus.HistogramVec
	redemptions        *prometheus.CounterVec
	approvals          *prometheus.CounterVec
	structureVersions  *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpRequestSeconds *prometheus.HistogramVec
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
		calculations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_calculations_total",
			Help: "Fee calculations produced, by type and whether they were persisted.",
		}, []string{"calculation_type", "persisted"}),
		totalPayable: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fee_calculation_total_payable",
			Help:    "Total payable of persisted calculations.",
			Buckets: []float64{5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000},
		}, []string{"fee_type"}),
		redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_discount_redemptions_total",
			Help: "Discounts applied to persisted calculations.",
		}, []string{"discount_type"}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_approval_transitions_total",
			Help: "Approval workflow transitions.",
		}, []string{"event"}),
		structureVersions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_structure_versions_total",
			Help: "Fee structure rows written, by action.",
		}, []string{"action"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// DOMAIN COUNTERS
// =============================================================================

// CalculationRecorded counts an estimate or a persisted calculation.
func (m *Metrics) CalculationRecorded(c *fees.FeeCalculation, persisted bool) {
	if m == nil || c == nil {
		return
	}
	m.calculations.WithLabelValues(string(c.CalculationType), strconv.FormatBool(persisted)).Inc()
	if !persisted {
		return
	}
	total, _ := c.TotalPayable.Float64()
	m.totalPayable.WithLabelValues(string(c.FeeType)).Observe(total)
	if c.Breakdown.Discount != nil {
		m.redemptions.WithLabelValues(string(c.Breakdown.Discount.Type)).Inc()
	}
}

func (m *Metrics) StructureWritten(action string) {
	if m == nil {
		return
	}
	m.structureVersions.WithLabelValues(action).Inc()
}

// ApprovalPublisher counts approval transitions as they are published.
func (m *Metrics) ApprovalPublisher() fees.Publisher {
	return approvalCounter{m: m}
}

type approvalCounter struct{ m *Metrics }

func (a approvalCounter) Publish(_ context.Context, n fees.Notification) error {
	if a.m != nil {
		a.m.approvals.WithLabelValues(string(n.Kind)).Inc()
	}
	return nil
}

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

// Middleware records request count and latency per chi route pattern, so
// /api/fee-structures/{id} is one series rather than one per id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
