/*
Package generic provides the core points ledger engine.

PURPOSE:
  This package contains the storage-agnostic types and algorithms for the
  loyalty program: transaction records, promotions, account balances, the
  promotion evaluator and the ledger that ties them together. Persistence
  lives behind the interfaces in store.go; HTTP lives in package api.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: signed integer point quantity (balances, earned, adjustments)
  - Money: spend amount in dollars (decimal, never float arithmetic)
  - Transaction: an append-only record; only Suspicious may change later
  - Promotion: a bonus rule (automatic or one-time) with an active window
  - Account: the owner of a balance and of consumed one-time promotions
  - Actor: the authenticated caller, passed explicitly into every call

DESIGN PRINCIPLES:
  1. Immutability: transactions are never edited, only flagged/unflagged
  2. Precision: spend and rates use decimal.Decimal, points are integers
  3. Type safety: typed enums for roles, transaction types, promotion kinds
  4. Auditability: every write carries the acting staff account

SEE ALSO:
  - evaluator.go: Promotion eligibility and bonus computation
  - ledger.go: Transaction creation, query and the suspicious toggle
  - store.go: Persistence interfaces
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITIES
// =============================================================================

// Points is a signed point quantity.
type Points int64

// Money is a spend amount in dollars.
type Money = decimal.Decimal

// PointsPerDollarDivisor converts spend to base points: one point per 25 cents.
var PointsPerDollarDivisor = decimal.RequireFromString("0.25")

// MaxPoints bounds the magnitude of any transaction's points and of any
// balance. Sums of two values within the bound cannot overflow int64.
const MaxPoints Points = 1_000_000_000_000_000

var maxPointsDecimal = decimal.NewFromInt(int64(MaxPoints))

// Add returns p+q, or false if the result is outside ±MaxPoints.
func (p Points) Add(q Points) (Points, bool) {
	sum := p + q
	if sum > MaxPoints || sum < -MaxPoints {
		return 0, false
	}
	return sum, true
}

// RoundPoints rounds a decimal to whole points, half away from zero.
// This is the only rounding rule in the system.
func RoundPoints(d decimal.Decimal) (Points, error) {
	r := d.Round(0)
	if r.Abs().GreaterThan(maxPointsDecimal) {
		return 0, ErrPointsOutOfRange
	}
	return Points(r.IntPart()), nil
}

// BasePoints returns the points earned for a purchase before promotions.
func BasePoints(spent Money) (Points, error) {
	return RoundPoints(spent.Div(PointsPerDollarDivisor))
}

// =============================================================================
// ROLES
// =============================================================================

// Role is the privilege tier of an account.
type Role string

const (
	RoleRegular   Role = "regular"
	RoleCashier   Role = "cashier"
	RoleManager   Role = "manager"
	RoleSuperuser Role = "superuser"
)

var roleRank = map[Role]int{
	RoleRegular:   0,
	RoleCashier:   1,
	RoleManager:   2,
	RoleSuperuser: 3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r has at least the privilege of min.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	return rank >= roleRank[min]
}

// Actor is the identity attached to an inbound request by the
// authentication collaborator.
type Actor struct {
	ID         int64
	Utorid     string
	Role       Role
	Suspicious bool
}

// IsManager reports manager-tier privilege (manager or superuser).
func (a Actor) IsManager() bool { return a.Role.AtLeast(RoleManager) }

// =============================================================================
// ACCOUNTS
// =============================================================================

// Account is a member account. Points and consumed promotions are owned
// by the ledger; everything else by the user-management collaborator.
type Account struct {
	ID         int64
	Utorid     string
	Name       string
	Role       Role
	Suspicious bool
	Points     Points
	CreatedAt  time.Time
}

// =============================================================================
// PROMOTIONS
// =============================================================================

// PromotionKind distinguishes reusable from single-use promotions.
type PromotionKind string

const (
	PromotionAutomatic PromotionKind = "automatic"
	PromotionOneTime   PromotionKind = "one-time"
)

func (k PromotionKind) Valid() bool {
	return k == PromotionAutomatic || k == PromotionOneTime
}

// Promotion is a bonus rule. EndTime is exclusive.
type Promotion struct {
	ID          int64
	Name        string
	Description string
	Kind        PromotionKind
	StartTime   time.Time
	EndTime     time.Time
	MinSpending decimal.NullDecimal
	Rate        decimal.NullDecimal
	Points      Points
}

// ActiveAt reports whether the promotion window contains t.
func (p Promotion) ActiveAt(t time.Time) bool {
	return !t.Before(p.StartTime) && t.Before(p.EndTime)
}

// Started reports whether the promotion has started at t.
func (p Promotion) Started(t time.Time) bool { return !t.Before(p.StartTime) }

// Ended reports whether the promotion has ended at t.
func (p Promotion) Ended(t time.Time) bool { return !t.Before(p.EndTime) }

// Bonus returns round(spent * rate) + points.
func (p Promotion) Bonus(spent Money) (Points, error) {
	if !p.Rate.Valid {
		return p.Points, nil
	}
	r, err := RoundPoints(spent.Mul(p.Rate.Decimal))
	if err != nil {
		return 0, err
	}
	bonus, ok := r.Add(p.Points)
	if !ok {
		return 0, ErrPointsOutOfRange
	}
	return bonus, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionType string

const (
	TxPurchase   TransactionType = "purchase"
	TxAdjustment TransactionType = "adjustment"
)

func (t TransactionType) Valid() bool {
	return t == TxPurchase || t == TxAdjustment
}

// Transaction is an immutable ledger record. Only Suspicious may change
// after creation, and only through Ledger.SetSuspicious.
//
// Purchases use Spent and Earned; adjustments use Amount and RelatedID.
type Transaction struct {
	ID           int64
	Utorid       string
	Type         TransactionType
	Spent        Money
	Earned       Points
	Amount       Points
	RelatedID    int64
	PromotionIDs []int64
	Remark       string
	CreatedBy    string
	Suspicious   bool
	CreatedAt    time.Time
}

// Delta is the transaction's signed contribution to the owner's balance
// while it is not suspicious.
func (t Transaction) Delta() Points {
	if t.Type == TxAdjustment {
		return t.Amount
	}
	return t.Earned
}
