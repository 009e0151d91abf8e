/*
ledger.go - The transaction ledger and points-balance engine

PURPOSE:
  The Ledger turns transaction requests into durable records and balance
  changes. It is the only writer of Account.Points and of the consumed
  one-time promotion set.

OPERATIONS:
  CreateTransaction  purchase or adjustment, promotions, balance update
  GetTransaction     single record (manager+)
  ListTransactions   filtered, paginated, newest first (manager+)
  SetSuspicious      flag toggle with compensating balance change (manager+)
  AccountSummary     balance and consumed promotions (self or manager+)

CRITICAL INVARIANTS:
  1. ATOMIC: record, promotion consumption, audit entry and balance change
     commit together or not at all (TxStore.WithTx).
  2. CONSERVATION: an account's balance equals the sum of Delta() over its
     transactions that are not suspicious.
  3. ONE-TIME: a one-time promotion is consumed at most once per account.
     The evaluator checks the consumed set inside the unit; the store's
     unique constraint rejects a racing second insert.

SUSPICIOUS STATE MACHINE:
  Each transaction is either clean (suspicious=false) or held (true).

    clean -> clean   0
    held  -> held    0
    clean -> held    -Delta()   points withdrawn
    held  -> clean   +Delta()   points released

  A transaction created by a cashier whose own account is suspicious
  starts held: it is stored with suspicious=true and no balance change.

RETRIES:
  Stores with optimistic or serializable isolation report lost races as
  ErrConcurrentModification. The ledger reruns the whole unit up to
  MaxAttempts times, then returns ErrRetriesExhausted (a Conflict).
  The clock is read inside the unit, so a retried unit re-checks
  promotion windows against the time it actually commits.

SEE ALSO:
  - evaluator.go: Promotion batch evaluation
  - store.go: TxStore
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/logging"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Observer receives ledger outcomes. Used for metrics.
type Observer interface {
	TransactionCreated(tx Transaction, applied Points)
	SuspiciousChanged(tx Transaction, applied Points)
	PromotionApplied(promotionID int64)
	Retried(op string)
	Rejected(op string, err error)
}

type nopObserver struct{}

func (nopObserver) TransactionCreated(Transaction, Points) {}
func (nopObserver) SuspiciousChanged(Transaction, Points)  {}
func (nopObserver) PromotionApplied(int64)                 {}
func (nopObserver) Retried(string)                         {}
func (nopObserver) Rejected(string, error)                 {}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store       TxStore
	Now         func() time.Time
	MaxAttempts int
	Backoff     time.Duration
	Observer    Observer
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{
		Store:       store,
		Now:         time.Now,
		MaxAttempts: 5,
		Backoff:     10 * time.Millisecond,
		Observer:    nopObserver{},
	}
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Ledger) observer() Observer {
	if l.Observer == nil {
		return nopObserver{}
	}
	return l.Observer
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTransaction validates permissions, evaluates promotions and
// applies the resulting delta in one atomic unit.
func (l *Ledger) CreateTransaction(ctx context.Context, actor Actor, req TransactionRequest) (*Transaction, error) {
	if !actor.Role.AtLeast(RoleCashier) {
		return nil, l.reject("create", ErrForbidden)
	}
	if req == nil {
		return nil, l.reject("create", invalid("", "missing request"))
	}
	if req.TransactionType() == TxAdjustment && !actor.IsManager() {
		return nil, l.reject("create", ErrForbidden)
	}

	var (
		created *Transaction
		applied Points
	)
	err := l.atomically(ctx, "create", func(s Store) error {
		now := l.now()

		acc, err := s.GetAccount(ctx, req.Owner())
		if err != nil {
			return err
		}

		tx := &Transaction{
			Utorid:       acc.Utorid,
			Type:         req.TransactionType(),
			Spent:        decimal.Zero,
			PromotionIDs: []int64{},
			Remark:       req.Note(),
			CreatedBy:    actor.Utorid,
			CreatedAt:    now,
		}

		var consume []int64
		switch r := req.(type) {
		case PurchaseRequest:
			tx.Spent = r.Spent
			if tx.Earned, err = BasePoints(r.Spent); err != nil {
				return err
			}
			if len(r.PromotionIDs) > 0 {
				consumed, err := s.ConsumedPromotions(ctx, acc.Utorid)
				if err != nil {
					return err
				}
				ev, err := NewEvaluator(s).Evaluate(ctx, consumed, r.Spent, TxPurchase, r.PromotionIDs, now)
				if err != nil {
					return err
				}
				var ok bool
				if tx.Earned, ok = tx.Earned.Add(ev.Bonus); !ok {
					return ErrPointsOutOfRange
				}
				tx.PromotionIDs = ev.Applied
				consume = ev.Consume
			}
		case AdjustmentRequest:
			if _, err := s.GetTransaction(ctx, r.RelatedID); err != nil {
				if IsNotFound(err) {
					return ErrRelatedTransactionNotFound
				}
				return err
			}
			tx.Amount = r.Amount
			tx.RelatedID = r.RelatedID
		default:
			return ErrInvalidType
		}

		// Held pending review: the points stay out of the balance until
		// a manager clears the flag.
		tx.Suspicious = actor.Role == RoleCashier && actor.Suspicious

		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		for _, pid := range consume {
			if err := s.ConsumePromotion(ctx, acc.Utorid, pid, tx.ID); err != nil {
				return err
			}
		}

		applied = 0
		if !tx.Suspicious {
			applied = tx.Delta()
		}
		if applied != 0 {
			if _, ok := acc.Points.Add(applied); !ok {
				return ErrBalanceOutOfRange
			}
			if err := s.AddPoints(ctx, acc.Utorid, applied); err != nil {
				return err
			}
		}

		if err := s.AppendAudit(ctx, AuditEntry{
			ID:            uuid.NewString(),
			Timestamp:     now,
			ActorUtorid:   actor.Utorid,
			Action:        AuditTransactionCreated,
			TransactionID: tx.ID,
			Utorid:        acc.Utorid,
			Applied:       applied,
			Payload: map[string]any{
				"type":       string(tx.Type),
				"delta":      int64(tx.Delta()),
				"held":       tx.Suspicious,
				"promotions": tx.PromotionIDs,
				"consumed":   consume,
			},
		}); err != nil {
			return err
		}
		for _, pid := range consume {
			if err := s.AppendAudit(ctx, AuditEntry{
				ID:            uuid.NewString(),
				Timestamp:     now,
				ActorUtorid:   actor.Utorid,
				Action:        AuditPromotionConsumed,
				TransactionID: tx.ID,
				Utorid:        acc.Utorid,
				Payload:       map[string]any{"promotion_id": pid},
			}); err != nil {
				return err
			}
		}

		created = tx
		return nil
	})
	if err != nil {
		return nil, l.reject("create", err)
	}

	obs := l.observer()
	obs.TransactionCreated(*created, applied)
	for _, pid := range created.PromotionIDs {
		obs.PromotionApplied(pid)
	}

	log := logging.FromContext(ctx)
	log.Info().
		Int64("transaction_id", created.ID).
		Str("utorid", created.Utorid).
		Str("type", string(created.Type)).
		Int64("delta", int64(created.Delta())).
		Int64("applied", int64(applied)).
		Bool("suspicious", created.Suspicious).
		Str("created_by", actor.Utorid).
		Msg("transaction created")

	return created, nil
}

// =============================================================================
// QUERY
// =============================================================================

// TransactionQuery is a validated-on-use listing request. Zero Page and
// Limit take the defaults.
type TransactionQuery struct {
	Utorid      string
	CreatedBy   string
	Suspicious  *bool
	PromotionID *int64
	Type        TransactionType
	RelatedID   *int64
	Amount      *Points
	Operator    AmountOperator
	Page        int
	Limit       int
}

// Filter validates q and converts it into a store filter.
func (q TransactionQuery) Filter() (TransactionFilter, error) {
	if q.Type != "" && !q.Type.Valid() {
		return TransactionFilter{}, ErrInvalidType
	}
	if q.RelatedID != nil && q.Type != TxAdjustment {
		return TransactionFilter{}, invalid("relatedId", "must be used with type=adjustment")
	}
	if (q.Amount == nil) != (q.Operator == "") {
		return TransactionFilter{}, invalid("amount", "must be used with operator")
	}
	if q.Operator != "" && q.Operator != OpLTE && q.Operator != OpGTE {
		return TransactionFilter{}, invalid("operator", "must be lte or gte")
	}

	page, limit := q.Page, q.Limit
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return TransactionFilter{}, invalid("page", "must be >= 1")
	}
	if limit < 1 || limit > MaxLimit {
		return TransactionFilter{}, invalid("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
	}

	return TransactionFilter{
		Utorid:      q.Utorid,
		CreatedBy:   q.CreatedBy,
		Suspicious:  q.Suspicious,
		PromotionID: q.PromotionID,
		Type:        q.Type,
		RelatedID:   q.RelatedID,
		Amount:      q.Amount,
		Operator:    q.Operator,
		Offset:      (page - 1) * limit,
		Limit:       limit,
	}, nil
}

// TransactionPage is one page of a listing. Count is the total number of
// matching transactions, not the page length.
type TransactionPage struct {
	Count   int
	Results []Transaction
}

func (l *Ledger) ListTransactions(ctx context.Context, actor Actor, q TransactionQuery) (TransactionPage, error) {
	if !actor.IsManager() {
		return TransactionPage{}, ErrForbidden
	}
	f, err := q.Filter()
	if err != nil {
		return TransactionPage{}, err
	}
	txs, count, err := l.Store.ListTransactions(ctx, f)
	if err != nil {
		return TransactionPage{}, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return TransactionPage{Count: count, Results: txs}, nil
}

func (l *Ledger) GetTransaction(ctx context.Context, actor Actor, id int64) (*Transaction, error) {
	if !actor.IsManager() {
		return nil, ErrForbidden
	}
	return l.Store.GetTransaction(ctx, id)
}

// =============================================================================
// SUSPICIOUS TOGGLE
// =============================================================================

// SetSuspicious moves a transaction between clean and held, applying the
// compensating delta in the same unit. Setting the current value is a no-op.
func (l *Ledger) SetSuspicious(ctx context.Context, actor Actor, id int64, suspicious bool) (*Transaction, error) {
	if !actor.IsManager() {
		return nil, l.reject("suspicious", ErrForbidden)
	}

	var (
		updated *Transaction
		applied Points
		changed bool
	)
	err := l.atomically(ctx, "suspicious", func(s Store) error {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		changed = tx.Suspicious != suspicious
		applied = CompensatingDelta(*tx, suspicious)
		if !changed {
			updated = tx
			return nil
		}

		if applied != 0 {
			acc, err := s.GetAccount(ctx, tx.Utorid)
			if err != nil {
				return err
			}
			if _, ok := acc.Points.Add(applied); !ok {
				return ErrBalanceOutOfRange
			}
		}
		if err := s.SetSuspicious(ctx, id, suspicious); err != nil {
			return err
		}
		if applied != 0 {
			if err := s.AddPoints(ctx, tx.Utorid, applied); err != nil {
				return err
			}
		}

		action := AuditSuspiciousCleared
		if suspicious {
			action = AuditSuspiciousSet
		}
		if err := s.AppendAudit(ctx, AuditEntry{
			ID:            uuid.NewString(),
			Timestamp:     l.now(),
			ActorUtorid:   actor.Utorid,
			Action:        action,
			TransactionID: tx.ID,
			Utorid:        tx.Utorid,
			Applied:       applied,
		}); err != nil {
			return err
		}

		tx.Suspicious = suspicious
		updated = tx
		return nil
	})
	if err != nil {
		return nil, l.reject("suspicious", err)
	}

	if changed {
		l.observer().SuspiciousChanged(*updated, applied)
		log := logging.FromContext(ctx)
		log.Info().
			Int64("transaction_id", updated.ID).
			Str("utorid", updated.Utorid).
			Bool("suspicious", suspicious).
			Int64("applied", int64(applied)).
			Str("actor", actor.Utorid).
			Msg("suspicious flag changed")
	}
	return updated, nil
}

// CompensatingDelta is the balance change for moving tx to the requested
// flag value.
func CompensatingDelta(tx Transaction, suspicious bool) Points {
	switch {
	case tx.Suspicious == suspicious:
		return 0
	case suspicious:
		return -tx.Delta()
	default:
		return tx.Delta()
	}
}

// =============================================================================
// ACCOUNT SUMMARY
// =============================================================================

type AccountSummary struct {
	Account            Account
	ConsumedPromotions []int64
}

// AccountSummary returns the balance of utorid. Members may read their own.
func (l *Ledger) AccountSummary(ctx context.Context, actor Actor, utorid string) (AccountSummary, error) {
	if actor.Utorid != utorid && !actor.IsManager() {
		return AccountSummary{}, ErrForbidden
	}
	acc, err := l.Store.GetAccount(ctx, utorid)
	if err != nil {
		return AccountSummary{}, err
	}
	consumed, err := l.Store.ConsumedPromotions(ctx, utorid)
	if err != nil {
		return AccountSummary{}, err
	}
	if consumed == nil {
		consumed = []int64{}
	}
	return AccountSummary{Account: *acc, ConsumedPromotions: consumed}, nil
}

// =============================================================================
// ATOMIC UNIT WITH RETRY
// =============================================================================

func (l *Ledger) atomically(ctx context.Context, op string, fn func(Store) error) error {
	attempts := l.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := l.Store.WithTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		l.observer().Retried(op)
		if attempt >= attempts {
			return ErrRetriesExhausted
		}
		log := logging.FromContext(ctx)
		log.Warn().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying ledger unit")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.Backoff * time.Duration(attempt)):
		}
	}
}

func (l *Ledger) reject(op string, err error) error {
	l.observer().Rejected(op, err)
	return err
}
