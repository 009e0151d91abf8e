/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Production store. Same tables as store/sqlite, PostgreSQL types.

ISOLATION:
  WithTx runs every unit at SERIALIZABLE. Inside a unit the account row is
  read with SELECT ... FOR UPDATE, so two units for the same account queue
  on the row lock instead of both reading the same consumed set.

  Errors that mean "you lost a race" are mapped to
  generic.ErrConcurrentModification, which the ledger retries:
    40001  serialization_failure
    40P01  deadlock_detected

  Unique violations (23505) are mapped by constraint:
    consumed_promotions_pkey  -> generic.ErrPromotionAlreadyUsed
    accounts_utorid_key       -> generic.ErrAccountExists

NUMERIC COLUMNS:
  Money columns are NUMERIC and cross the driver as text, parsed with
  shopspring/decimal.

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded alternative
  - generic/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/generic"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	conn
	pool *pgxpool.Pool
}

var (
	_ generic.TxStore        = (*Store)(nil)
	_ generic.PromotionStore = (*Store)(nil)
)

// New connects to connString, verifies the connection and migrates.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &Store{pool: pool, conn: conn{q: pool}}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGSERIAL PRIMARY KEY,
	utorid TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	suspicious BOOLEAN NOT NULL DEFAULT FALSE,
	points BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT accounts_utorid_key UNIQUE (utorid)
);

CREATE TABLE IF NOT EXISTS promotions (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL CHECK (kind IN ('automatic', 'one-time')),
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	min_spending NUMERIC,
	rate NUMERIC,
	points BIGINT NOT NULL DEFAULT 0,
	CHECK (end_time > start_time)
);

CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	utorid TEXT NOT NULL REFERENCES accounts(utorid),
	type TEXT NOT NULL CHECK (type IN ('purchase', 'adjustment')),
	spent NUMERIC NOT NULL DEFAULT 0,
	earned BIGINT NOT NULL DEFAULT 0,
	amount BIGINT NOT NULL DEFAULT 0,
	related_id BIGINT REFERENCES transactions(id),
	remark TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	suspicious BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_utorid ON transactions(utorid, id DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_created_by ON transactions(created_by);

CREATE TABLE IF NOT EXISTS transaction_promotions (
	transaction_id BIGINT NOT NULL REFERENCES transactions(id),
	promotion_id BIGINT NOT NULL,
	position INT NOT NULL,
	PRIMARY KEY (transaction_id, promotion_id)
);

CREATE TABLE IF NOT EXISTS consumed_promotions (
	utorid TEXT NOT NULL,
	promotion_id BIGINT NOT NULL,
	transaction_id BIGINT NOT NULL REFERENCES transactions(id),
	CONSTRAINT consumed_promotions_pkey PRIMARY KEY (utorid, promotion_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	transaction_id BIGINT,
	utorid TEXT,
	applied BIGINT NOT NULL DEFAULT 0,
	payload JSONB
);

CREATE INDEX IF NOT EXISTS idx_audit_transaction ON audit_log(transaction_id);
`

// Reset truncates every table. Dev/demo only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE audit_log, consumed_promotions, transaction_promotions,
		transactions, promotions, accounts RESTART IDENTITY CASCADE`)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{conn{q: tx, lockRows: true}}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

type txStore struct {
	conn
}

// =============================================================================
// CONN
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type conn struct {
	q        querier
	lockRows bool
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, utorid, name, role, suspicious, points, created_at`

func (c conn) GetAccount(ctx context.Context, utorid string) (*generic.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE utorid = $1`
	if c.lockRows {
		query += ` FOR UPDATE`
	}
	return scanAccount(c.q.QueryRow(ctx, query, utorid))
}

func scanAccount(row pgx.Row) (*generic.Account, error) {
	var (
		acc    generic.Account
		role   string
		points int64
	)
	err := row.Scan(&acc.ID, &acc.Utorid, &acc.Name, &role, &acc.Suspicious, &points, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.ErrAccountNotFound
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to scan account: %w", err))
	}
	acc.Role = generic.Role(role)
	acc.Points = generic.Points(points)
	acc.CreatedAt = acc.CreatedAt.UTC()
	return &acc, nil
}

func (c conn) CreateAccount(ctx context.Context, acc *generic.Account) error {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	acc.Points = 0
	err := c.q.QueryRow(ctx,
		`INSERT INTO accounts (utorid, name, role, suspicious, points, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5) RETURNING id`,
		acc.Utorid, acc.Name, string(acc.Role), acc.Suspicious, acc.CreatedAt,
	).Scan(&acc.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to create account: %w", err))
	}
	return nil
}

func (c conn) AddPoints(ctx context.Context, utorid string, delta generic.Points) error {
	tag, err := c.q.Exec(ctx, `UPDATE accounts SET points = points + $1 WHERE utorid = $2`, int64(delta), utorid)
	if err != nil {
		return mapError(fmt.Errorf("failed to update points: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrAccountNotFound
	}
	return nil
}

func (c conn) ConsumedPromotions(ctx context.Context, utorid string) ([]int64, error) {
	rows, err := c.q.Query(ctx,
		`SELECT promotion_id FROM consumed_promotions WHERE utorid = $1 ORDER BY promotion_id`, utorid)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query consumed promotions: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

func (c conn) ConsumePromotion(ctx context.Context, utorid string, promotionID, transactionID int64) error {
	_, err := c.q.Exec(ctx,
		`INSERT INTO consumed_promotions (utorid, promotion_id, transaction_id) VALUES ($1, $2, $3)`,
		utorid, promotionID, transactionID)
	if err != nil {
		return mapError(fmt.Errorf("failed to consume promotion: %w", err))
	}
	return nil
}

// =============================================================================
// PROMOTIONS
// =============================================================================

const promotionColumns = `id, name, description, kind, start_time, end_time, min_spending::text, rate::text, points`

func (c conn) GetPromotion(ctx context.Context, id int64) (*generic.Promotion, error) {
	p, err := scanPromotion(c.q.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.ErrPromotionNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (c conn) CreatePromotion(ctx context.Context, p *generic.Promotion) error {
	err := c.q.QueryRow(ctx,
		`INSERT INTO promotions (name, description, kind, start_time, end_time, min_spending, rate, points)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8) RETURNING id`,
		p.Name, p.Description, string(p.Kind), p.StartTime, p.EndTime,
		nullDecimal(p.MinSpending), nullDecimal(p.Rate), int64(p.Points),
	).Scan(&p.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to create promotion: %w", err))
	}
	return nil
}

func (c conn) UpdatePromotion(ctx context.Context, p generic.Promotion) error {
	tag, err := c.q.Exec(ctx,
		`UPDATE promotions SET name = $1, description = $2, kind = $3, start_time = $4, end_time = $5,
		        min_spending = $6::numeric, rate = $7::numeric, points = $8
		 WHERE id = $9`,
		p.Name, p.Description, string(p.Kind), p.StartTime, p.EndTime,
		nullDecimal(p.MinSpending), nullDecimal(p.Rate), int64(p.Points), p.ID,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to update promotion: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrPromotionNotFound
	}
	return nil
}

func (c conn) DeletePromotion(ctx context.Context, id int64) error {
	tag, err := c.q.Exec(ctx, `DELETE FROM promotions WHERE id = $1`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to delete promotion: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrPromotionNotFound
	}
	return nil
}

func (c conn) ListPromotions(ctx context.Context, f generic.PromotionFilter) ([]generic.Promotion, int, error) {
	where, args := promotionWhere(f)

	var count int
	if err := c.q.QueryRow(ctx, `SELECT COUNT(*) FROM promotions`+where, args.values...).Scan(&count); err != nil {
		return nil, 0, mapError(fmt.Errorf("failed to count promotions: %w", err))
	}

	query := `SELECT ` + promotionColumns + ` FROM promotions` + where +
		` ORDER BY start_time DESC, id DESC` + args.page(f.Offset, f.Limit)
	rows, err := c.q.Query(ctx, query, args.values...)
	if err != nil {
		return nil, 0, mapError(fmt.Errorf("failed to query promotions: %w", err))
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

func promotionWhere(f generic.PromotionFilter) (string, *argList) {
	args := &argList{}
	var conds []string
	if f.Name != "" {
		conds = append(conds, "name ILIKE "+args.add("%"+f.Name+"%"))
	}
	if f.Kind != "" {
		conds = append(conds, "kind = "+args.add(string(f.Kind)))
	}
	if f.StartedAt != nil {
		conds = append(conds, "start_time <= "+args.add(*f.StartedAt))
	}
	if f.NotStartedAt != nil {
		conds = append(conds, "start_time > "+args.add(*f.NotStartedAt))
	}
	if f.EndedAt != nil {
		conds = append(conds, "end_time <= "+args.add(*f.EndedAt))
	}
	if f.NotEndedAt != nil {
		conds = append(conds, "end_time > "+args.add(*f.NotEndedAt))
	}
	return whereClause(conds), args
}

func scanPromotion(row pgx.Row) (generic.Promotion, error) {
	var (
		p           generic.Promotion
		kind        string
		minSpending *string
		rate        *string
		points      int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &kind, &p.StartTime, &p.EndTime, &minSpending, &rate, &points)
	if err != nil {
		return p, err
	}
	p.Kind = generic.PromotionKind(kind)
	p.StartTime = p.StartTime.UTC()
	p.EndTime = p.EndTime.UTC()
	p.MinSpending = parseNullDecimal(minSpending)
	p.Rate = parseNullDecimal(rate)
	p.Points = generic.Points(points)
	return p, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `t.id, t.utorid, t.type, t.spent::text, t.earned, t.amount, t.related_id,
	t.remark, t.created_by, t.suspicious, t.created_at,
	COALESCE((SELECT array_agg(tp.promotion_id ORDER BY tp.position)
	          FROM transaction_promotions tp WHERE tp.transaction_id = t.id), '{}')`

func (c conn) AppendTransaction(ctx context.Context, tx *generic.Transaction) error {
	var related *int64
	if tx.Type == generic.TxAdjustment {
		related = &tx.RelatedID
	}

	err := c.q.QueryRow(ctx,
		`INSERT INTO transactions (utorid, type, spent, earned, amount, related_id, remark, created_by, suspicious, created_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		tx.Utorid, string(tx.Type), tx.Spent.String(), int64(tx.Earned), int64(tx.Amount), related,
		tx.Remark, tx.CreatedBy, tx.Suspicious, tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to append transaction: %w", err))
	}

	if len(tx.PromotionIDs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, pid := range tx.PromotionIDs {
		batch.Queue(`INSERT INTO transaction_promotions (transaction_id, promotion_id, position) VALUES ($1, $2, $3)`,
			tx.ID, pid, i)
	}
	results := c.q.SendBatch(ctx, batch)
	defer results.Close()
	for range tx.PromotionIDs {
		if _, err := results.Exec(); err != nil {
			return mapError(fmt.Errorf("failed to link promotion: %w", err))
		}
	}
	return nil
}

func (c conn) GetTransaction(ctx context.Context, id int64) (*generic.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.id = $1`
	tx, err := scanTransaction(c.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.ErrTransactionNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &tx, nil
}

func (c conn) SetSuspicious(ctx context.Context, id int64, suspicious bool) error {
	tag, err := c.q.Exec(ctx, `UPDATE transactions SET suspicious = $1 WHERE id = $2`, suspicious, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to update transaction: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrTransactionNotFound
	}
	return nil
}

func (c conn) ListTransactions(ctx context.Context, f generic.TransactionFilter) ([]generic.Transaction, int, error) {
	where, args := transactionWhere(f)

	var count int
	if err := c.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions t`+where, args.values...).Scan(&count); err != nil {
		return nil, 0, mapError(fmt.Errorf("failed to count transactions: %w", err))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions t` + where +
		` ORDER BY t.id DESC` + args.page(f.Offset, f.Limit)
	rows, err := c.q.Query(ctx, query, args.values...)
	if err != nil {
		return nil, 0, mapError(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer rows.Close()

	txs := []generic.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
	}
	return txs, count, rows.Err()
}

func transactionWhere(f generic.TransactionFilter) (string, *argList) {
	args := &argList{}
	var conds []string
	if f.Utorid != "" {
		conds = append(conds, "t.utorid = "+args.add(f.Utorid))
	}
	if f.CreatedBy != "" {
		conds = append(conds, "t.created_by = "+args.add(f.CreatedBy))
	}
	if f.Suspicious != nil {
		conds = append(conds, "t.suspicious = "+args.add(*f.Suspicious))
	}
	if f.Type != "" {
		conds = append(conds, "t.type = "+args.add(string(f.Type)))
	}
	if f.RelatedID != nil {
		conds = append(conds, "t.related_id = "+args.add(*f.RelatedID))
	}
	if f.PromotionID != nil {
		conds = append(conds, "EXISTS (SELECT 1 FROM transaction_promotions tp WHERE tp.transaction_id = t.id AND tp.promotion_id = "+
			args.add(*f.PromotionID)+")")
	}
	if f.Amount != nil {
		op := "<="
		if f.Operator == generic.OpGTE {
			op = ">="
		}
		conds = append(conds, "(CASE WHEN t.type = 'adjustment' THEN t.amount ELSE t.earned END) "+op+" "+
			args.add(int64(*f.Amount)))
	}
	return whereClause(conds), args
}

func scanTransaction(row pgx.Row) (generic.Transaction, error) {
	var (
		tx      generic.Transaction
		txType  string
		spent   string
		earned  int64
		amount  int64
		related *int64
	)
	err := row.Scan(
		&tx.ID, &tx.Utorid, &txType, &spent, &earned, &amount, &related,
		&tx.Remark, &tx.CreatedBy, &tx.Suspicious, &tx.CreatedAt, &tx.PromotionIDs,
	)
	if err != nil {
		return tx, err
	}
	tx.Type = generic.TransactionType(txType)
	tx.Spent, err = decimal.NewFromString(spent)
	if err != nil {
		return tx, fmt.Errorf("bad spent value %q: %w", spent, err)
	}
	tx.Earned = generic.Points(earned)
	tx.Amount = generic.Points(amount)
	if related != nil {
		tx.RelatedID = *related
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	if tx.PromotionIDs == nil {
		tx.PromotionIDs = []int64{}
	}
	return tx, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c conn) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	_, err := c.q.Exec(ctx,
		`INSERT INTO audit_log (id, timestamp, actor, action, transaction_id, utorid, applied, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.ActorUtorid, string(e.Action), e.TransactionID, e.Utorid, int64(e.Applied), e.Payload,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

func (c conn) AuditTrail(ctx context.Context, transactionID int64) ([]generic.AuditEntry, error) {
	rows, err := c.q.Query(ctx,
		`SELECT id, timestamp, actor, action, transaction_id, utorid, applied, payload
		 FROM audit_log WHERE transaction_id = $1 ORDER BY timestamp, id`, transactionID)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query audit log: %w", err))
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			action  string
			applied int64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorUtorid, &action, &e.TransactionID, &e.Utorid, &applied, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = generic.AuditAction(action)
		e.Applied = generic.Points(applied)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// argList numbers positional parameters as they are added.
type argList struct {
	values []any
}

func (a *argList) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

func (a *argList) page(offset, limit int) string {
	clause := ""
	if limit > 0 {
		clause += " LIMIT " + a.add(limit)
	}
	if offset > 0 {
		clause += " OFFSET " + a.add(offset)
	}
	return clause
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func nullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// mapError translates PostgreSQL error codes into engine errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", generic.ErrConcurrentModification, pgErr.Message)
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "consumed_promotions_pkey":
			return generic.ErrPromotionAlreadyUsed
		case "accounts_utorid_key":
			return generic.ErrAccountExists
		}
	}
	return err
}
