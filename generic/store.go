/*
store.go - Persistence interfaces for accounts, promotions and transactions

PURPOSE:
  Defines the interface between the ledger and the database. The ledger
  never touches SQL; every read-compute-write happens inside TxStore.WithTx
  so that one create or toggle is a single serializable unit.

KEY INTERFACES:
  AccountStore:     Account lookup, atomic balance increment, one-time
                    promotion consumption
  PromotionReader:  Promotion lookup (the catalog as the ledger sees it)
  PromotionStore:   Catalog writes and listing (rewards.Catalog)
  TransactionStore: Append, lookup, flag update, filtered listing
  AuditLog:         Append-only record of who did what
  TxStore:          Atomic execution primitive

APPEND-ONLY CONTRACT:
  Transactions have no Update or Delete. The single mutation is
  SetSuspicious, and the ledger pairs it with a compensating balance
  change in the same unit.

CONSUMPTION UNIQUENESS:
  ConsumePromotion must fail with ErrPromotionAlreadyUsed if the
  (utorid, promotion) pair already exists, independently of any check
  done earlier in the unit. This is the backstop for concurrent redemptions.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (serializable, retried)

SEE ALSO:
  - ledger.go: Uses TxStore
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountStore interface {
	// GetAccount returns ErrAccountNotFound if utorid is unknown.
	GetAccount(ctx context.Context, utorid string) (*Account, error)

	// CreateAccount inserts a new account with zero points and assigns its ID.
	CreateAccount(ctx context.Context, acc *Account) error

	// AddPoints atomically increments the balance by delta.
	AddPoints(ctx context.Context, utorid string, delta Points) error

	// ConsumedPromotions returns the one-time promotions already used by utorid.
	ConsumedPromotions(ctx context.Context, utorid string) ([]int64, error)

	// ConsumePromotion records a one-time redemption.
	ConsumePromotion(ctx context.Context, utorid string, promotionID, transactionID int64) error
}

// =============================================================================
// PROMOTIONS
// =============================================================================

type PromotionReader interface {
	// GetPromotion returns ErrPromotionNotFound if id is unknown.
	GetPromotion(ctx context.Context, id int64) (*Promotion, error)
}

// PromotionFilter selects promotions for listing. Nil fields are ignored.
type PromotionFilter struct {
	Name         string // case-insensitive substring
	Kind         PromotionKind
	StartedAt    *time.Time // started on or before
	NotStartedAt *time.Time // starts after
	EndedAt      *time.Time // ended on or before
	NotEndedAt   *time.Time // ends after
	Offset       int
	Limit        int
}

type PromotionStore interface {
	PromotionReader

	CreatePromotion(ctx context.Context, p *Promotion) error
	UpdatePromotion(ctx context.Context, p Promotion) error
	DeletePromotion(ctx context.Context, id int64) error

	// ListPromotions returns one page ordered by start time, newest first,
	// plus the total number of matches.
	ListPromotions(ctx context.Context, f PromotionFilter) ([]Promotion, int, error)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// AmountOperator compares a transaction's delta in a filter.
type AmountOperator string

const (
	OpLTE AmountOperator = "lte"
	OpGTE AmountOperator = "gte"
)

// TransactionFilter is a conjunction of optional criteria. Zero values
// and nil pointers mean "any".
type TransactionFilter struct {
	Utorid      string
	CreatedBy   string
	Suspicious  *bool
	PromotionID *int64
	Type        TransactionType
	RelatedID   *int64
	Amount      *Points
	Operator    AmountOperator
	Offset      int
	Limit       int
}

type TransactionStore interface {
	// AppendTransaction inserts tx, assigning ID. The only insert.
	AppendTransaction(ctx context.Context, tx *Transaction) error

	// GetTransaction returns ErrTransactionNotFound if id is unknown.
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)

	// SetSuspicious updates the single mutable field.
	SetSuspicious(ctx context.Context, id int64, suspicious bool) error

	// ListTransactions returns one page, newest first, plus the total
	// number of matches.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, int, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID            string
	Timestamp     time.Time
	ActorUtorid   string
	Action        AuditAction
	TransactionID int64
	Utorid        string
	Applied       Points // balance change actually applied
	Payload       map[string]any
}

type AuditAction string

const (
	AuditTransactionCreated AuditAction = "transaction_created"
	AuditSuspiciousSet      AuditAction = "suspicious_set"
	AuditSuspiciousCleared  AuditAction = "suspicious_cleared"
	AuditPromotionConsumed  AuditAction = "promotion_consumed"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AuditTrail(ctx context.Context, transactionID int64) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Store is everything the ledger reads and writes inside one unit.
type Store interface {
	AccountStore
	PromotionReader
	TransactionStore
	AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a serializable transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// Stores may return ErrConcurrentModification from WithTx itself.
	WithTx(ctx context.Context, fn func(Store) error) error
}
