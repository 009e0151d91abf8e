/*
balance.go - Balance reconciliation against the transaction history

PURPOSE:
  The stored balance is a running total kept up to date by the ledger.
  Reconcile recomputes it from the append-only history and reports any
  difference, which is how support checks an account after an incident.

KEY INSIGHT:
  A member's balance is always the sum of the deltas of their
  transactions that are not suspicious. Held transactions are recorded
  but contribute nothing until a manager clears them.

BALANCE COMPONENTS:
  Stored:   Account.Points as persisted
  Computed: Sum of Delta() over clean transactions
  Held:     Sum of Delta() over suspicious transactions
  Drift:    Stored - Computed (zero for a healthy account)

EXAMPLE:
  Purchase $35 (earned 140), adjustment +1, held purchase (earned 50):

  Stored = 141, Computed = 141, Held = 50, Drift = 0

SEE ALSO:
  - ledger.go: Keeps Stored in step with the history
  - cli/account.go: "account verify" command
*/
package generic

import "context"

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciliation compares an account's stored balance to its history.
type Reconciliation struct {
	Utorid       string
	Stored       Points
	Computed     Points
	Held         Points
	Transactions int
	HeldCount    int
}

// Drift is the amount the stored balance is off by.
func (r Reconciliation) Drift() Points { return r.Stored - r.Computed }

// Balanced reports whether the stored balance matches the history.
func (r Reconciliation) Balanced() bool { return r.Drift() == 0 }

// Add folds one transaction into the totals.
func (r *Reconciliation) Add(tx Transaction) {
	r.Transactions++
	if tx.Suspicious {
		r.Held += tx.Delta()
		r.HeldCount++
		return
	}
	r.Computed += tx.Delta()
}

// Reconcile reads the account and its full history in one unit so the
// two are consistent with each other. Manager or above.
func (l *Ledger) Reconcile(ctx context.Context, actor Actor, utorid string) (Reconciliation, error) {
	if !actor.IsManager() {
		return Reconciliation{}, ErrForbidden
	}

	var r Reconciliation
	err := l.Store.WithTx(ctx, func(s Store) error {
		acc, err := s.GetAccount(ctx, utorid)
		if err != nil {
			return err
		}
		txs, _, err := s.ListTransactions(ctx, TransactionFilter{Utorid: utorid})
		if err != nil {
			return err
		}
		r = Reconciliation{Utorid: acc.Utorid, Stored: acc.Points}
		for _, tx := range txs {
			r.Add(tx)
		}
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	return r, nil
}
