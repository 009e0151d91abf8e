/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore and generic.PromotionStore using SQLite. The
  same schema runs on PostgreSQL with dialect changes (see store/postgres).

KEY TABLES:
  accounts:               Member accounts and running point balances
  promotions:             Promotion catalog
  transactions:           Append-only ledger; only `suspicious` is updated
  transaction_promotions: Promotions applied to each purchase
  consumed_promotions:    One-time redemptions, PRIMARY KEY (utorid, promotion_id)
  audit_log:              Who did what when

APPEND-ONLY ENFORCEMENT:
  - No DELETE on transactions
  - The only UPDATE on transactions is the suspicious flag

CONCURRENCY:
  WithTx serializes writers with a mutex and opens the SQL transaction
  with BEGIN IMMEDIATE, so a unit's read-compute-write never interleaves
  with another unit. The consumed_promotions primary key rejects a
  second redemption even if that were bypassed. SQLITE_BUSY is reported
  as generic.ErrConcurrentModification so the ledger retries.

WAL MODE:
  File databases are opened with WAL and a busy timeout:
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := generic.NewLedger(store)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/generic"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

var (
	_ generic.TxStore        = (*Store)(nil)
	_ generic.PromotionStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, conn: conn{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		utorid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		suspicious INTEGER NOT NULL DEFAULT 0,
		points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS promotions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		min_spending TEXT,
		rate TEXT,
		points INTEGER NOT NULL DEFAULT 0,
		CHECK (end_time > start_time)
	);

	CREATE INDEX IF NOT EXISTS idx_promotions_window
		ON promotions(start_time, end_time);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		utorid TEXT NOT NULL REFERENCES accounts(utorid),
		type TEXT NOT NULL,
		spent TEXT NOT NULL DEFAULT '0',
		earned INTEGER NOT NULL DEFAULT 0,
		amount INTEGER NOT NULL DEFAULT 0,
		related_id INTEGER REFERENCES transactions(id),
		remark TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		suspicious INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_utorid
		ON transactions(utorid, id DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_by
		ON transactions(created_by);
	CREATE INDEX IF NOT EXISTS idx_transactions_related
		ON transactions(related_id) WHERE related_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS transaction_promotions (
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		promotion_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (transaction_id, promotion_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_promotions_promotion
		ON transaction_promotions(promotion_id);

	-- CRITICAL: a one-time promotion is redeemed at most once per account
	CREATE TABLE IF NOT EXISTS consumed_promotions (
		utorid TEXT NOT NULL,
		promotion_id INTEGER NOT NULL,
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		PRIMARY KEY (utorid, promotion_id)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		transaction_id INTEGER,
		utorid TEXT,
		applied INTEGER NOT NULL DEFAULT 0,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_transaction
		ON audit_log(transaction_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Dev/demo only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "consumed_promotions", "transaction_promotions", "transactions", "promotions", "accounts"}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM sqlite_sequence")
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

type txStore struct {
	conn
}

// =============================================================================
// CONN - Queries shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountColumns = `id, utorid, name, role, suspicious, points, created_at`

func (c conn) GetAccount(ctx context.Context, utorid string) (*generic.Account, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE utorid = ?`, utorid)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*generic.Account, error) {
	var (
		acc       generic.Account
		createdAt string
	)
	err := row.Scan(&acc.ID, &acc.Utorid, &acc.Name, &acc.Role, &acc.Suspicious, &acc.Points, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	acc.CreatedAt = parseTime(createdAt)
	return &acc, nil
}

func (c conn) CreateAccount(ctx context.Context, acc *generic.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	acc.Points = 0
	res, err := c.q.ExecContext(ctx,
		`INSERT INTO accounts (utorid, name, role, suspicious, points, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		acc.Utorid, acc.Name, acc.Role, acc.Suspicious, formatTime(acc.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrAccountExists
		}
		return mapError(fmt.Errorf("failed to create account: %w", err))
	}
	acc.ID, err = res.LastInsertId()
	return err
}

func (c conn) AddPoints(ctx context.Context, utorid string, delta generic.Points) error {
	res, err := c.q.ExecContext(ctx, `UPDATE accounts SET points = points + ? WHERE utorid = ?`, delta, utorid)
	if err != nil {
		return mapError(fmt.Errorf("failed to update points: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrAccountNotFound
	}
	return nil
}

func (c conn) ConsumedPromotions(ctx context.Context, utorid string) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT promotion_id FROM consumed_promotions WHERE utorid = ? ORDER BY promotion_id`, utorid)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumed promotions: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (c conn) ConsumePromotion(ctx context.Context, utorid string, promotionID, transactionID int64) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO consumed_promotions (utorid, promotion_id, transaction_id) VALUES (?, ?, ?)`,
		utorid, promotionID, transactionID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrPromotionAlreadyUsed
		}
		return mapError(fmt.Errorf("failed to consume promotion: %w", err))
	}
	return nil
}

// =============================================================================
// PROMOTION STORE
// =============================================================================

const promotionColumns = `id, name, description, kind, start_time, end_time, min_spending, rate, points`

func (c conn) GetPromotion(ctx context.Context, id int64) (*generic.Promotion, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotion: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrPromotionNotFound
	}
	p, err := scanPromotion(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c conn) CreatePromotion(ctx context.Context, p *generic.Promotion) error {
	res, err := c.q.ExecContext(ctx,
		`INSERT INTO promotions (name, description, kind, start_time, end_time, min_spending, rate, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Kind, formatTime(p.StartTime), formatTime(p.EndTime),
		nullDecimal(p.MinSpending), nullDecimal(p.Rate), p.Points,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to create promotion: %w", err))
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (c conn) UpdatePromotion(ctx context.Context, p generic.Promotion) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE promotions SET name = ?, description = ?, kind = ?, start_time = ?, end_time = ?,
		        min_spending = ?, rate = ?, points = ?
		 WHERE id = ?`,
		p.Name, p.Description, p.Kind, formatTime(p.StartTime), formatTime(p.EndTime),
		nullDecimal(p.MinSpending), nullDecimal(p.Rate), p.Points, p.ID,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to update promotion: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrPromotionNotFound
	}
	return nil
}

func (c conn) DeletePromotion(ctx context.Context, id int64) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM promotions WHERE id = ?`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to delete promotion: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrPromotionNotFound
	}
	return nil
}

func (c conn) ListPromotions(ctx context.Context, f generic.PromotionFilter) ([]generic.Promotion, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Name)+"%")
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.StartedAt != nil {
		where = append(where, "start_time <= ?")
		args = append(args, formatTime(*f.StartedAt))
	}
	if f.NotStartedAt != nil {
		where = append(where, "start_time > ?")
		args = append(args, formatTime(*f.NotStartedAt))
	}
	if f.EndedAt != nil {
		where = append(where, "end_time <= ?")
		args = append(args, formatTime(*f.EndedAt))
	}
	if f.NotEndedAt != nil {
		where = append(where, "end_time > ?")
		args = append(args, formatTime(*f.NotEndedAt))
	}
	clause := whereClause(where)

	var count int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM promotions`+clause, args...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count promotions: %w", err)
	}

	query := `SELECT ` + promotionColumns + ` FROM promotions` + clause +
		` ORDER BY start_time DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := c.q.QueryContext(ctx, query, append(args, limitOrAll(f.Limit), f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	promos := []generic.Promotion{}
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, 0, err
		}
		promos = append(promos, p)
	}
	return promos, count, rows.Err()
}

func scanPromotion(rows *sql.Rows) (generic.Promotion, error) {
	var (
		p           generic.Promotion
		start, end  string
		minSpending sql.NullString
		rate        sql.NullString
	)
	err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Kind, &start, &end, &minSpending, &rate, &p.Points)
	if err != nil {
		return p, fmt.Errorf("failed to scan promotion: %w", err)
	}
	p.StartTime = parseTime(start)
	p.EndTime = parseTime(end)
	p.MinSpending = parseNullDecimal(minSpending)
	p.Rate = parseNullDecimal(rate)
	return p, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const transactionColumns = `id, utorid, type, spent, earned, amount, related_id, remark, created_by, suspicious, created_at`

func (c conn) AppendTransaction(ctx context.Context, tx *generic.Transaction) error {
	var related sql.NullInt64
	if tx.Type == generic.TxAdjustment {
		related = sql.NullInt64{Int64: tx.RelatedID, Valid: true}
	}

	res, err := c.q.ExecContext(ctx,
		`INSERT INTO transactions (utorid, type, spent, earned, amount, related_id, remark, created_by, suspicious, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.Utorid, tx.Type, tx.Spent.String(), tx.Earned, tx.Amount, related,
		tx.Remark, tx.CreatedBy, tx.Suspicious, formatTime(tx.CreatedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to append transaction: %w", err))
	}
	if tx.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for i, pid := range tx.PromotionIDs {
		if _, err := c.q.ExecContext(ctx,
			`INSERT INTO transaction_promotions (transaction_id, promotion_id, position) VALUES (?, ?, ?)`,
			tx.ID, pid, i,
		); err != nil {
			return mapError(fmt.Errorf("failed to link promotion: %w", err))
		}
	}
	return nil
}

func (c conn) GetTransaction(ctx context.Context, id int64) (*generic.Transaction, error) {
	txs, err := c.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, generic.ErrTransactionNotFound
	}
	return &txs[0], nil
}

func (c conn) SetSuspicious(ctx context.Context, id int64, suspicious bool) error {
	res, err := c.q.ExecContext(ctx, `UPDATE transactions SET suspicious = ? WHERE id = ?`, suspicious, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to update transaction: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrTransactionNotFound
	}
	return nil
}

func (c conn) ListTransactions(ctx context.Context, f generic.TransactionFilter) ([]generic.Transaction, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Utorid != "" {
		where = append(where, "utorid = ?")
		args = append(args, f.Utorid)
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, f.CreatedBy)
	}
	if f.Suspicious != nil {
		where = append(where, "suspicious = ?")
		args = append(args, *f.Suspicious)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.RelatedID != nil {
		where = append(where, "related_id = ?")
		args = append(args, *f.RelatedID)
	}
	if f.PromotionID != nil {
		where = append(where, "id IN (SELECT transaction_id FROM transaction_promotions WHERE promotion_id = ?)")
		args = append(args, *f.PromotionID)
	}
	if f.Amount != nil {
		op := "<="
		if f.Operator == generic.OpGTE {
			op = ">="
		}
		where = append(where, "(CASE WHEN type = 'adjustment' THEN amount ELSE earned END) "+op+" ?")
		args = append(args, *f.Amount)
	}
	clause := whereClause(where)

	var count int
	if err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+clause, args...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + clause + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	txs, err := c.queryTransactions(ctx, query, append(args, limitOrAll(f.Limit), f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return txs, count, nil
}

func (c conn) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	transactions := []generic.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows must be closed before issuing more queries on a single connection.
	for i := range transactions {
		ids, err := c.promotionIDsFor(ctx, transactions[i].ID)
		if err != nil {
			return nil, err
		}
		transactions[i].PromotionIDs = ids
	}
	return transactions, nil
}

func (c conn) promotionIDsFor(ctx context.Context, txID int64) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT promotion_id FROM transaction_promotions WHERE transaction_id = ? ORDER BY position`, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction promotions: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx        generic.Transaction
		spent     string
		related   sql.NullInt64
		createdAt string
	)
	err := rows.Scan(
		&tx.ID, &tx.Utorid, &tx.Type, &spent, &tx.Earned, &tx.Amount, &related,
		&tx.Remark, &tx.CreatedBy, &tx.Suspicious, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Spent = decimal.RequireFromString(spent)
	tx.RelatedID = related.Int64
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c conn) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = c.q.ExecContext(ctx,
		`INSERT INTO audit_log (id, timestamp, actor, action, transaction_id, utorid, applied, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.ActorUtorid, e.Action, e.TransactionID, e.Utorid, e.Applied, string(payload),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

func (c conn) AuditTrail(ctx context.Context, transactionID int64) ([]generic.AuditEntry, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, timestamp, actor, action, transaction_id, utorid, applied, payload_json
		 FROM audit_log WHERE transaction_id = ? ORDER BY timestamp, rowid`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			ts      string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorUtorid, &e.Action, &e.TransactionID, &e.Utorid, &e.Applied, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// limitOrAll maps 0 to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// mapError turns lock contention into a retryable error.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
	}
	return err
}
