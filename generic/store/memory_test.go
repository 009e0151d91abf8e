package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/generic"
)

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: An account with 10 points
	// WHEN: A unit adds points, appends a transaction, then fails
	// THEN: Neither write is visible afterwards

	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateAccount(ctx, &generic.Account{Utorid: "alice001"}))
	require.NoError(t, m.AddPoints(ctx, "alice001", 10))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s generic.Store) error {
		tx := &generic.Transaction{Utorid: "alice001", Type: generic.TxPurchase, Earned: 5}
		require.NoError(t, s.AppendTransaction(ctx, tx))
		require.NoError(t, s.AddPoints(ctx, "alice001", 5))
		require.NoError(t, s.ConsumePromotion(ctx, "alice001", 1, tx.ID))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acc, err := m.GetAccount(ctx, "alice001")
	require.NoError(t, err)
	assert.Equal(t, generic.Points(10), acc.Points)

	_, n, err := m.ListTransactions(ctx, generic.TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	consumed, err := m.ConsumedPromotions(ctx, "alice001")
	require.NoError(t, err)
	assert.Empty(t, consumed)
}

func TestMemory_ConsumePromotionIsUnique(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ConsumePromotion(ctx, "alice001", 7, 1))
	err := m.ConsumePromotion(ctx, "alice001", 7, 2)
	assert.ErrorIs(t, err, generic.ErrPromotionAlreadyUsed)

	assert.NoError(t, m.ConsumePromotion(ctx, "bob00001", 7, 3))
}

func TestMemory_DuplicateAccount(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateAccount(ctx, &generic.Account{Utorid: "alice001"}))
	err := m.CreateAccount(ctx, &generic.Account{Utorid: "alice001"})
	assert.ErrorIs(t, err, generic.ErrAccountExists)
}

func TestMemory_ReturnedTransactionsAreCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	tx := &generic.Transaction{Utorid: "alice001", Type: generic.TxPurchase, PromotionIDs: []int64{1}}
	require.NoError(t, m.AppendTransaction(ctx, tx))

	got, err := m.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	got.PromotionIDs[0] = 99
	got.Suspicious = true

	again, err := m.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, again.PromotionIDs)
	assert.False(t, again.Suspicious)
}

func TestMemory_ListPromotions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	for _, p := range []generic.Promotion{
		{Name: "Past", Kind: generic.PromotionAutomatic, StartTime: now.Add(-3 * day), EndTime: now.Add(-day)},
		{Name: "Current", Kind: generic.PromotionOneTime, StartTime: now.Add(-day), EndTime: now.Add(day)},
		{Name: "Future", Kind: generic.PromotionAutomatic, StartTime: now.Add(day), EndTime: now.Add(2 * day)},
	} {
		p := p
		require.NoError(t, m.CreatePromotion(ctx, &p))
	}

	all, n, err := m.ListPromotions(ctx, generic.PromotionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "Future", all[0].Name)

	active, n, err := m.ListPromotions(ctx, generic.PromotionFilter{StartedAt: &now, NotEndedAt: &now})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "Current", active[0].Name)

	byName, _, err := m.ListPromotions(ctx, generic.PromotionFilter{Name: "fut"})
	require.NoError(t, err)
	require.Len(t, byName, 1)

	page, n, err := m.ListPromotions(ctx, generic.PromotionFilter{Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, page, 1)
	assert.Equal(t, "Past", page[0].Name)
}

func TestMemory_Reset(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateAccount(ctx, &generic.Account{Utorid: "alice001"}))

	require.NoError(t, m.Reset(ctx))

	_, err := m.GetAccount(ctx, "alice001")
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
}
