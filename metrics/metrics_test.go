package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/generic"
)

func TestObserver_Transactions(t *testing.T) {
	m := New()

	// GIVEN: a clean purchase, a held purchase and a negative adjustment
	m.TransactionCreated(generic.Transaction{Type: generic.TxPurchase}, 91)
	m.TransactionCreated(generic.Transaction{Type: generic.TxPurchase, Suspicious: true}, 0)
	m.TransactionCreated(generic.Transaction{Type: generic.TxAdjustment}, -30)

	// THEN: counts split by type and held
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("purchase", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("purchase", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("adjustment", "false")))

	// AND: credits and debits are tracked separately
	assert.Equal(t, 91.0, testutil.ToFloat64(m.pointsApplied.WithLabelValues("create_credit")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.pointsApplied.WithLabelValues("create_debit")))
}

func TestObserver_SuspiciousAndRetries(t *testing.T) {
	m := New()

	m.SuspiciousChanged(generic.Transaction{Suspicious: true}, -91)
	m.SuspiciousChanged(generic.Transaction{Suspicious: false}, 91)
	m.Retried("create")
	m.Retried("create")
	m.PromotionApplied(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.suspicious.WithLabelValues("true")))
	assert.Equal(t, 91.0, testutil.ToFloat64(m.pointsApplied.WithLabelValues("suspicious_debit")))
	assert.Equal(t, 91.0, testutil.ToFloat64(m.pointsApplied.WithLabelValues("suspicious_credit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.promotionsApplied.WithLabelValues("7")))
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{generic.ErrRetriesExhausted, "retries_exhausted"},
		{generic.ErrMinimumSpendNotMet, "invalid"},
		{&generic.PromotionError{PromotionID: 3, Reason: generic.ErrPromotionNotActive}, "invalid"},
		{generic.ErrForbidden, "forbidden"},
		{generic.ErrAccountNotFound, "not_found"},
		{generic.ErrAccountExists, "conflict"},
		{fmt.Errorf("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.err))
		})
	}
}

func TestMiddleware_RoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// WHEN: two different ids hit the same route
	for _, path := range []string{"/api/transactions/1", "/api/transactions/2", "/healthz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	// THEN: they share one series keyed by the pattern
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/transactions/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/healthz", "200")))
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.Retried("suspicious")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `loyalty_ledger_retries_total{op="suspicious"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
