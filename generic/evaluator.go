/*
evaluator.go - Promotion eligibility and bonus computation

PURPOSE:
  Given a spend amount and the promotion ids a caller asked for, decide
  whether every promotion applies and how many bonus points they add.

TWO PHASES:
  Evaluate is pure: it reads promotions and the consumed set and returns
  an Evaluation. It never writes. The ledger commits Evaluation.Consume
  together with the transaction record and the balance change, and only
  if the whole create succeeds.

ALL-OR-NOTHING:
  The requested list is one batch. The first failing promotion fails the
  batch; no bonus and no consumption survive.

PER-PROMOTION CHECKS (in request order):
  1. exists                                  ErrPromotionNotFound
  2. startTime <= now < endTime              ErrPromotionNotActive
  3. purchase: spent >= minSpending          ErrMinimumSpendNotMet
  4. one-time: not consumed, not repeated    ErrPromotionAlreadyUsed
  5. bonus += round(spent * rate) + points
*/
package generic

import (
	"context"
	"errors"
	"time"
)

// Evaluation is the side-effect-free result of evaluating a batch.
type Evaluation struct {
	Bonus   Points
	Applied []int64
	Consume []int64 // one-time promotions to mark consumed on commit
}

// Evaluator checks promotion batches against a catalog.
type Evaluator struct {
	Promotions PromotionReader
}

func NewEvaluator(promotions PromotionReader) *Evaluator {
	return &Evaluator{Promotions: promotions}
}

// Evaluate validates ids for an account that has already consumed the
// promotions in consumed. now must be read inside the enclosing unit.
func (e *Evaluator) Evaluate(ctx context.Context, consumed []int64, spent Money, txType TransactionType, ids []int64, now time.Time) (Evaluation, error) {
	used := make(map[int64]bool, len(consumed)+len(ids))
	for _, id := range consumed {
		used[id] = true
	}

	var ev Evaluation
	for _, id := range ids {
		promo, err := e.Promotions.GetPromotion(ctx, id)
		if err != nil {
			if errors.Is(err, ErrPromotionNotFound) {
				return Evaluation{}, &PromotionError{PromotionID: id, Reason: ErrPromotionNotFound}
			}
			return Evaluation{}, err
		}

		if !promo.ActiveAt(now) {
			return Evaluation{}, &PromotionError{PromotionID: id, Reason: ErrPromotionNotActive}
		}

		if txType == TxPurchase && promo.MinSpending.Valid && spent.LessThan(promo.MinSpending.Decimal) {
			return Evaluation{}, &PromotionError{PromotionID: id, Reason: ErrMinimumSpendNotMet}
		}

		if promo.Kind == PromotionOneTime {
			if used[id] {
				return Evaluation{}, &PromotionError{PromotionID: id, Reason: ErrPromotionAlreadyUsed}
			}
			used[id] = true
			ev.Consume = append(ev.Consume, id)
		}

		bonus, err := promo.Bonus(spent)
		if err != nil {
			return Evaluation{}, err
		}
		var ok bool
		if ev.Bonus, ok = ev.Bonus.Add(bonus); !ok {
			return Evaluation{}, ErrPointsOutOfRange
		}
		ev.Applied = append(ev.Applied, id)
	}
	return ev, nil
}
