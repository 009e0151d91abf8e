package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/generic"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, generic.ErrConcurrentModification},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, generic.ErrConcurrentModification},
		{"consumed twice", &pgconn.PgError{Code: "23505", ConstraintName: "consumed_promotions_pkey"}, generic.ErrPromotionAlreadyUsed},
		{"duplicate utorid", &pgconn.PgError{Code: "23505", ConstraintName: "accounts_utorid_key"}, generic.ErrAccountExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("exec: %w", tt.err)
			assert.ErrorIs(t, mapError(wrapped), tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))

	fk := &pgconn.PgError{Code: "23503"}
	assert.False(t, generic.IsRetryable(mapError(fk)))
}

func TestTransactionWhere(t *testing.T) {
	yes := true
	related := int64(4)
	promo := int64(9)
	amount := generic.Points(-5)

	where, args := transactionWhere(generic.TransactionFilter{
		Utorid:      "alice001",
		Suspicious:  &yes,
		Type:        generic.TxAdjustment,
		RelatedID:   &related,
		PromotionID: &promo,
		Amount:      &amount,
		Operator:    generic.OpGTE,
	})

	assert.Equal(t, " WHERE t.utorid = $1 AND t.suspicious = $2 AND t.type = $3 AND t.related_id = $4"+
		" AND EXISTS (SELECT 1 FROM transaction_promotions tp WHERE tp.transaction_id = t.id AND tp.promotion_id = $5)"+
		" AND (CASE WHEN t.type = 'adjustment' THEN t.amount ELSE t.earned END) >= $6", where)
	assert.Equal(t, []any{"alice001", true, "adjustment", int64(4), int64(9), int64(-5)}, args.values)

	assert.Equal(t, " LIMIT $7 OFFSET $8", args.page(20, 10))
}

func TestPromotionWhere_Empty(t *testing.T) {
	where, args := promotionWhere(generic.PromotionFilter{})
	assert.Equal(t, "", where)
	assert.Empty(t, args.values)
	assert.Equal(t, "", args.page(0, 0))
}

func TestNullDecimal(t *testing.T) {
	assert.Nil(t, nullDecimal(decimal.NullDecimal{}))

	s := nullDecimal(decimal.NewNullDecimal(decimal.RequireFromString("0.050")))
	require.NotNil(t, s)
	assert.Equal(t, "0.05", *s)

	back := parseNullDecimal(s)
	assert.True(t, back.Valid)
	assert.True(t, back.Decimal.Equal(decimal.RequireFromString("0.05")))
	assert.False(t, parseNullDecimal(nil).Valid)
}

// =============================================================================
// INTEGRATION - requires LOYALTY_TEST_POSTGRES_DSN
// =============================================================================

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LOYALTY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LOYALTY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgres_ConcurrentOneTimeRedemption(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateAccount(ctx, &generic.Account{Utorid: "alice001", Role: generic.RoleRegular}))
	promo := generic.Promotion{
		Name: "Welcome", Kind: generic.PromotionOneTime,
		StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Points: 100,
	}
	require.NoError(t, store.CreatePromotion(ctx, &promo))

	ledger := generic.NewLedger(store)
	ledger.MaxAttempts = 20
	cashier := generic.Actor{Utorid: "cash0001", Role: generic.RoleCashier}

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CreateTransaction(ctx, cashier, generic.PurchaseRequest{
				Utorid: "alice001", Spent: decimal.RequireFromString("1"), PromotionIDs: []int64{promo.ID},
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, used int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, generic.ErrPromotionAlreadyUsed):
			used++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, used)

	acc, err := store.GetAccount(ctx, "alice001")
	require.NoError(t, err)
	assert.Equal(t, generic.Points(104), acc.Points)
}

func TestPostgres_RoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.CreateAccount(ctx, &generic.Account{Utorid: "alice001", Role: generic.RoleRegular}))
	ledger := generic.NewLedger(store)
	ledger.Now = func() time.Time { return now }

	p, err := ledger.CreateTransaction(ctx, generic.Actor{Utorid: "c", Role: generic.RoleCashier}, generic.PurchaseRequest{
		Utorid: "alice001", Spent: decimal.RequireFromString("12.34"),
	})
	require.NoError(t, err)

	got, err := store.GetTransaction(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Spent.Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, generic.Points(49), got.Earned)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Equal(t, []int64{}, got.PromotionIDs)

	trail, err := store.AuditTrail(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, generic.AuditTransactionCreated, trail[0].Action)
}
