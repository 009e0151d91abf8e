package generic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/generic"
)

func TestReconcile_HeldTransactionsAreSeparate(t *testing.T) {
	// GIVEN: A clean 20.00 purchase (80) and a held 12.50 purchase (50)
	// WHEN: A manager reconciles the account
	// THEN: Stored and Computed are both 80, Held is 50, no drift

	f := newFixture(t)
	ctx := context.Background()
	cashier := f.actor(t, "cash0001", generic.RoleCashier, false)
	shady := f.actor(t, "shady001", generic.RoleCashier, true)
	manager := f.actor(t, "mgr00001", generic.RoleManager, false)
	f.actor(t, "alice001", generic.RoleRegular, false)

	_, err := f.ledger.CreateTransaction(ctx, cashier, purchase("alice001", "20.00"))
	require.NoError(t, err)
	_, err = f.ledger.CreateTransaction(ctx, shady, purchase("alice001", "12.50"))
	require.NoError(t, err)

	r, err := f.ledger.Reconcile(ctx, manager, "alice001")
	require.NoError(t, err)

	assert.Equal(t, "alice001", r.Utorid)
	assert.Equal(t, generic.Points(80), r.Stored)
	assert.Equal(t, generic.Points(80), r.Computed)
	assert.Equal(t, generic.Points(50), r.Held)
	assert.Equal(t, 2, r.Transactions)
	assert.Equal(t, 1, r.HeldCount)
	assert.True(t, r.Balanced())
}

func TestReconcile_ReportsDrift(t *testing.T) {
	// GIVEN: A balance changed outside the ledger
	// WHEN: Reconciled
	// THEN: Drift is the out-of-band change

	f := newFixture(t)
	ctx := context.Background()
	cashier := f.actor(t, "cash0001", generic.RoleCashier, false)
	f.actor(t, "alice001", generic.RoleRegular, false)
	root := generic.Actor{Utorid: "root0001", Role: generic.RoleSuperuser}

	_, err := f.ledger.CreateTransaction(ctx, cashier, purchase("alice001", "1.00"))
	require.NoError(t, err)
	require.NoError(t, f.store.AddPoints(ctx, "alice001", 7))

	r, err := f.ledger.Reconcile(ctx, root, "alice001")
	require.NoError(t, err)
	assert.Equal(t, generic.Points(7), r.Drift())
	assert.False(t, r.Balanced())
}

func TestReconcile_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cashier := f.actor(t, "cash0001", generic.RoleCashier, false)
	alice := f.actor(t, "alice001", generic.RoleRegular, false)
	manager := f.actor(t, "mgr00001", generic.RoleManager, false)

	_, err := f.ledger.Reconcile(ctx, alice, "alice001")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.ledger.Reconcile(ctx, cashier, "alice001")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = f.ledger.Reconcile(ctx, manager, "nobody01")
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)
}

func TestReconciliation_Add(t *testing.T) {
	var r generic.Reconciliation
	r.Add(generic.Transaction{Type: generic.TxPurchase, Earned: 40})
	r.Add(generic.Transaction{Type: generic.TxAdjustment, Amount: -15})
	r.Add(generic.Transaction{Type: generic.TxAdjustment, Amount: 9, Suspicious: true})

	assert.Equal(t, generic.Points(25), r.Computed)
	assert.Equal(t, generic.Points(9), r.Held)
	assert.Equal(t, 3, r.Transactions)
}
