package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/generic/store"
	"github.com/warp/loyalty-engine/metrics"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler *Handler
	store   *store.Memory
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	h := NewHandler(mem)
	h.Ledger.Now = func() time.Time { return testNow }
	h.Catalog.Now = func() time.Time { return testNow }
	require.NoError(t, h.createDemoAccounts(context.Background()))

	router := NewRouter(h, RouterConfig{Logger: zerolog.Nop(), Metrics: metrics.New(), Scenarios: true})
	return &testServer{t: t, handler: h, store: mem, router: router}
}

// do sends body (marshalled unless it is already a string) as utorid.
func (s *testServer) do(method, path, utorid string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(s.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if utorid != "" {
		req.Header.Set(UtoridHeader, utorid)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) points(utorid string) int64 {
	s.t.Helper()
	acc, err := s.store.GetAccount(context.Background(), utorid)
	require.NoError(s.t, err)
	return int64(acc.Points)
}

func (s *testServer) runningPromotion(kind generic.PromotionKind) int64 {
	s.t.Helper()
	p := generic.Promotion{
		Name: "Spring Bonus", Description: "test", Kind: kind,
		StartTime: testNow.Add(-24 * time.Hour), EndTime: testNow.Add(24 * time.Hour),
		Rate:   decimal.NewNullDecimal(decimal.RequireFromString("0.05")),
		Points: 10,
	}
	require.NoError(s.t, s.store.CreatePromotion(context.Background(), &p))
	return p.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func purchase(utorid string, spent float64, promos ...int64) map[string]any {
	body := map[string]any{"utorid": utorid, "type": "purchase", "spent": spent}
	if len(promos) > 0 {
		body["promotionIds"] = promos
	}
	return body
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTransactions_WorkedExample(t *testing.T) {
	s := newTestServer(t)
	promo := s.runningPromotion(generic.PromotionAutomatic)

	// WHEN: a cashier posts a 20.00 purchase
	rec := s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("alice001", 20.00))

	// THEN: it earns 80
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[TransactionDTO](t, rec)
	require.NotNil(t, first.Earned)
	assert.Equal(t, int64(80), *first.Earned)
	assert.Equal(t, "cash0001", first.CreatedBy)
	assert.Equal(t, []int64{}, first.PromotionIDs)
	assert.Equal(t, int64(80), s.points("alice001"))

	// WHEN: the same purchase with the automatic promotion
	rec = s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("alice001", 20.00, promo))

	// THEN: 80 + round(20 * 0.05) + 10
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[TransactionDTO](t, rec)
	assert.Equal(t, int64(91), *second.Earned)
	assert.Equal(t, []int64{promo}, second.PromotionIDs)

	// WHEN: a manager posts a -30 adjustment against the first purchase
	rec = s.do(http.MethodPost, "/api/transactions", "mgr00001", map[string]any{
		"utorid": "alice001", "type": "adjustment", "amount": -30, "relatedId": first.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adj := decode[TransactionDTO](t, rec)

	// THEN: GET shows amount -30 and spent 0
	rec = s.do(http.MethodGet, fmt.Sprintf("/api/transactions/%d", adj.ID), "mgr00001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, -30.0, got["amount"])
	assert.Equal(t, 0.0, got["spent"])
	assert.Equal(t, float64(first.ID), got["relatedId"])
	assert.NotContains(t, got, "earned")
	assert.Equal(t, "", got["remark"])

	assert.Equal(t, int64(141), s.points("alice001"))
}

func TestTransactions_MissingRelatedIsBadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/transactions", "mgr00001", map[string]any{
		"utorid": "alice001", "type": "adjustment", "amount": 50, "relatedId": 999,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "related transaction not found", decode[ErrorResponse](t, rec).Error)
	assert.Equal(t, int64(0), s.points("alice001"))
}

func TestTransactions_CreateErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		utorid string
		body   any
		want   int
	}{
		{"regular member", "alice001", purchase("alice001", 10), http.StatusForbidden},
		{"cashier adjustment", "cash0001", map[string]any{"utorid": "alice001", "type": "adjustment", "amount": 5, "relatedId": 1}, http.StatusForbidden},
		{"invalid type", "cash0001", map[string]any{"utorid": "alice001", "type": "refund"}, http.StatusBadRequest},
		{"zero spent", "cash0001", purchase("alice001", 0), http.StatusBadRequest},
		{"spent past points range", "cash0001", purchase("alice001", 3e18), http.StatusBadRequest},
		{"missing utorid", "cash0001", map[string]any{"type": "purchase", "spent": 5}, http.StatusBadRequest},
		{"malformed json", "cash0001", `{"utorid":`, http.StatusBadRequest},
		{"fractional amount", "mgr00001", `{"utorid":"alice001","type":"adjustment","amount":1.5,"relatedId":1}`, http.StatusBadRequest},
		{"unknown account", "cash0001", purchase("nobody01", 10), http.StatusNotFound},
		{"unknown promotion", "cash0001", purchase("alice001", 10, 42), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/transactions", tt.utorid, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
	assert.Equal(t, int64(0), s.points("alice001"))
}

func TestTransactions_Authentication(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/transactions", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/transactions", "ghost001", nil).Code)
}

func TestTransactions_OneTimePromotionOnce(t *testing.T) {
	s := newTestServer(t)
	promo := s.runningPromotion(generic.PromotionOneTime)

	rec := s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("alice001", 4.00, promo))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("alice001", 4.00, promo))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "promotion already used")

	// 16 base + 0 rate bonus (0.2 rounds to 0) + 10
	assert.Equal(t, int64(26), s.points("alice001"))
}

// =============================================================================
// SUSPICIOUS
// =============================================================================

func TestSuspicious_HeldPurchaseAndRelease(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a purchase entered by a flagged cashier
	rec := s.do(http.MethodPost, "/api/transactions", "shady001", purchase("alice001", 12.50))
	require.Equal(t, http.StatusCreated, rec.Code)
	held := decode[TransactionDTO](t, rec)

	// THEN: it is held with no balance effect
	assert.True(t, held.Suspicious)
	assert.Equal(t, int64(50), *held.Earned)
	assert.Equal(t, int64(0), s.points("alice001"))

	path := fmt.Sprintf("/api/transactions/%d/suspicious", held.ID)

	// AND: cashiers cannot release it
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path, "cash0001", map[string]bool{"suspicious": false}).Code)

	// WHEN: a manager clears it
	rec = s.do(http.MethodPatch, path, "mgr00001", map[string]bool{"suspicious": false})

	// THEN: the points are released
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[TransactionDTO](t, rec).Suspicious)
	assert.Equal(t, int64(50), s.points("alice001"))

	// AND: clearing again changes nothing
	rec = s.do(http.MethodPatch, path, "mgr00001", map[string]bool{"suspicious": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(50), s.points("alice001"))

	// AND: flagging withdraws them again
	rec = s.do(http.MethodPatch, path, "mgr00001", map[string]bool{"suspicious": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), s.points("alice001"))
}

func TestSuspicious_Errors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, "/api/transactions/1/suspicious", "mgr00001", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, "/api/transactions/1/suspicious", "mgr00001", `{"suspicious":"yes"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPatch, "/api/transactions/abc/suspicious", "mgr00001", `{"suspicious":true}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPatch, "/api/transactions/77/suspicious", "mgr00001", `{"suspicious":true}`).Code)
}

// =============================================================================
// LISTING
// =============================================================================

func TestListTransactions(t *testing.T) {
	s := newTestServer(t)
	for _, spent := range []float64{1, 2, 3} {
		require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("alice001", spent)).Code)
	}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("bob00001", 5)).Code)

	// WHEN: a manager pages through alice's transactions
	rec := s.do(http.MethodGet, "/api/transactions?utorid=alice001&limit=2", "mgr00001", nil)

	// THEN: count is the total, results are the newest page
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[TransactionListResponse](t, rec)
	assert.Equal(t, 3, page.Count)
	require.Len(t, page.Results, 2)
	assert.Equal(t, int64(12), *page.Results[0].Earned)
	assert.Equal(t, int64(8), *page.Results[1].Earned)

	rec = s.do(http.MethodGet, "/api/transactions?amount=8&operator=gte", "mgr00001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[TransactionListResponse](t, rec).Count)

	tests := []struct {
		name   string
		query  string
		utorid string
		want   int
	}{
		{"cashier", "", "cash0001", http.StatusForbidden},
		{"amount without operator", "?amount=5", "mgr00001", http.StatusBadRequest},
		{"bad operator", "?amount=5&operator=eq", "mgr00001", http.StatusBadRequest},
		{"relatedId without adjustment", "?relatedId=1", "mgr00001", http.StatusBadRequest},
		{"limit too large", "?limit=101", "mgr00001", http.StatusBadRequest},
		{"bad page", "?page=zero", "mgr00001", http.StatusBadRequest},
		{"bad suspicious", "?suspicious=maybe", "mgr00001", http.StatusBadRequest},
		{"invalid type", "?type=refund", "mgr00001", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(http.MethodGet, "/api/transactions"+tt.query, tt.utorid, nil).Code)
		})
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestGetAccount(t *testing.T) {
	s := newTestServer(t)
	promo := s.runningPromotion(generic.PromotionOneTime)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/transactions", "cash0001", purchase("alice001", 20, promo)).Code)

	rec := s.do(http.MethodGet, "/api/accounts/alice001", "alice001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acc := decode[AccountDTO](t, rec)
	assert.Equal(t, int64(91), acc.Points)
	assert.Equal(t, []int64{promo}, acc.ConsumedPromotions)
	assert.Equal(t, "regular", acc.Role)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/accounts/alice001", "bob00001", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/accounts/alice001", "mgr00001", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/nobody01", "mgr00001", nil).Code)
}

// =============================================================================
// PROMOTIONS
// =============================================================================

func TestPromotions_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	start := testNow.Add(time.Hour).Format(time.RFC3339)
	end := testNow.Add(48 * time.Hour).Format(time.RFC3339)
	body := map[string]any{
		"name": "Exam Week", "description": "Double points", "type": "automatic",
		"startTime": start, "endTime": end, "rate": 0.04,
	}

	// WHEN: a member tries to create
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/promotions", "alice001", body).Code)

	// WHEN: a manager creates
	rec := s.do(http.MethodPost, "/api/promotions", "mgr00001", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PromotionDTO](t, rec)
	require.NotNil(t, created.StartTime)
	assert.Equal(t, start, *created.StartTime)
	path := fmt.Sprintf("/api/promotions/%d", created.ID)

	// THEN: members cannot see it before it starts
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, "alice001", nil).Code)

	// WHEN: the manager edits it
	rec = s.do(http.MethodPatch, path, "mgr00001", map[string]any{"points": 5, "name": "Exam Week Bonus"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	patched := decode[map[string]any](t, rec)
	assert.Equal(t, "Exam Week Bonus", patched["name"])
	assert.Equal(t, 5.0, patched["points"])
	assert.Equal(t, "automatic", patched["type"])
	assert.NotContains(t, patched, "rate")

	// WHEN: the manager deletes it
	rec = s.do(http.MethodDelete, path, "mgr00001", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, "mgr00001", nil).Code)
}

func TestPromotions_MemberView(t *testing.T) {
	s := newTestServer(t)
	id := s.runningPromotion(generic.PromotionAutomatic)

	rec := s.do(http.MethodGet, "/api/promotions", "alice001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string]any](t, rec)
	assert.Equal(t, 1.0, list["count"])
	item := list["results"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(id), item["id"])
	assert.NotContains(t, item, "startTime")
	assert.NotContains(t, item, "description")
	assert.Contains(t, item, "endTime")

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/promotions/%d", id), "alice001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	one := decode[map[string]any](t, rec)
	assert.NotContains(t, one, "startTime")
	assert.Contains(t, one, "description")

	// Started promotions cannot be deleted
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, fmt.Sprintf("/api/promotions/%d", id), "mgr00001", nil).Code)

	// started and ended together are rejected
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/promotions?started=true&ended=false", "mgr00001", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/promotions/x", "mgr00001", nil).Code)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	s.do(http.MethodGet, "/api/transactions/1", "", nil)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `loyalty_http_requests_total{method="GET",route="/healthz",status="200"} 1`), body)
	assert.True(t, strings.Contains(body, `status="401"`), body)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{generic.ErrInvalidType, http.StatusBadRequest},
		{&generic.PromotionError{PromotionID: 1, Reason: generic.ErrMinimumSpendNotMet}, http.StatusBadRequest},
		{generic.ErrRelatedTransactionNotFound, http.StatusBadRequest},
		{generic.ErrForbidden, http.StatusForbidden},
		{generic.ErrTransactionNotFound, http.StatusNotFound},
		{generic.ErrAccountNotFound, http.StatusNotFound},
		{generic.ErrRetriesExhausted, http.StatusConflict},
		{fmt.Errorf("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
