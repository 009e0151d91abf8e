/*
Package metrics exposes ledger and HTTP metrics to Prometheus.

PURPOSE:
  Metrics implements generic.Observer, so the ledger reports outcomes
  without importing Prometheus. Middleware counts and times HTTP
  requests by chi route pattern.

SERIES:
  loyalty_transactions_total{type,held}          created transactions
  loyalty_points_applied_total{op}               net points applied to balances
  loyalty_promotions_applied_total{promotion_id} promotion uses
  loyalty_suspicious_changes_total{suspicious}   flag toggles
  loyalty_ledger_retries_total{op}               retried atomic units
  loyalty_ledger_rejections_total{op,reason}     failed operations
  loyalty_http_requests_total{method,route,status}
  loyalty_http_request_duration_seconds{method,route}

SEE ALSO:
  - generic/ledger.go: Observer interface
  - api/server.go: /metrics endpoint
*/
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/loyalty-engine/generic"
)

const namespace = "loyalty"

type Metrics struct {
	registry *prometheus.Registry

	transactions      *prometheus.CounterVec
	pointsApplied     *prometheus.CounterVec
	promotionsApplied *prometheus.CounterVec
	suspicious        *prometheus.CounterVec
	retries           *prometheus.CounterVec
	rejections        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New registers all series on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions created, by type and whether they were held as suspicious",
		}, []string{"type", "held"}),
		pointsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_applied_total",
			Help:      "Absolute points applied to account balances",
		}, []string{"op"}),
		promotionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_applied_total",
			Help:      "Promotions applied to purchases",
		}, []string{"promotion_id"}),
		suspicious: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicious_changes_total",
			Help:      "Suspicious flag changes by new value",
		}, []string{"suspicious"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_retries_total",
			Help:      "Atomic units retried after a concurrent modification",
		}, []string{"op"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_rejections_total",
			Help:      "Ledger operations that failed, by error kind",
		}, []string{"op", "reason"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry is the registry backing Handler. Exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// LEDGER OBSERVER
// =============================================================================

var _ generic.Observer = (*Metrics)(nil)

func (m *Metrics) TransactionCreated(tx generic.Transaction, applied generic.Points) {
	m.transactions.WithLabelValues(string(tx.Type), strconv.FormatBool(tx.Suspicious)).Inc()
	m.addPoints("create", applied)
}

func (m *Metrics) SuspiciousChanged(tx generic.Transaction, applied generic.Points) {
	m.suspicious.WithLabelValues(strconv.FormatBool(tx.Suspicious)).Inc()
	m.addPoints("suspicious", applied)
}

func (m *Metrics) PromotionApplied(promotionID int64) {
	m.promotionsApplied.WithLabelValues(strconv.FormatInt(promotionID, 10)).Inc()
}

func (m *Metrics) Retried(op string) {
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) Rejected(op string, err error) {
	m.rejections.WithLabelValues(op, Reason(err)).Inc()
}

// Counters can't go down, so credits and debits are split by op suffix.
func (m *Metrics) addPoints(op string, applied generic.Points) {
	switch {
	case applied > 0:
		m.pointsApplied.WithLabelValues(op + "_credit").Add(float64(applied))
	case applied < 0:
		m.pointsApplied.WithLabelValues(op + "_debit").Add(float64(-applied))
	}
}

// Reason maps an error to a low-cardinality label.
func Reason(err error) string {
	switch {
	case errors.Is(err, generic.ErrRetriesExhausted):
		return "retries_exhausted"
	case !generic.IsClientError(err):
		return "internal"
	case errors.Is(err, generic.ErrInvalidPayload):
		return "invalid"
	case errors.Is(err, generic.ErrForbidden):
		return "forbidden"
	case errors.Is(err, generic.ErrNotFound):
		return "not_found"
	case errors.Is(err, generic.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

// Middleware records request count and latency per chi route pattern.
// Unmatched routes are labelled "unmatched" to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
