// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/loyalty-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore and generic.PromotionStore.
// WithTx holds the write lock for the whole unit, so units are serial.
type Memory struct {
	mu sync.RWMutex
	memoryState
}

type memoryState struct {
	accounts     map[string]generic.Account
	promotions   map[int64]generic.Promotion
	transactions []generic.Transaction // ordered by ID
	consumed     map[consumedKey]int64 // -> transaction id
	audit        []generic.AuditEntry

	nextAccountID     int64
	nextPromotionID   int64
	nextTransactionID int64
}

type consumedKey struct {
	Utorid      string
	PromotionID int64
}

func NewMemory() *Memory {
	return &Memory{memoryState: memoryState{
		accounts:   make(map[string]generic.Account),
		promotions: make(map[int64]generic.Promotion),
		consumed:   make(map[consumedKey]int64),
	}}
}

// Reset drops all data. Dev/demo only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryState = NewMemory().memoryState
	return nil
}

var (
	_ generic.TxStore        = (*Memory)(nil)
	_ generic.PromotionStore = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.memoryState.clone()
	if err := fn(&memoryView{state: &m.memoryState}); err != nil {
		m.memoryState = snapshot
		return err
	}
	return nil
}

func (s *memoryState) clone() memoryState {
	c := *s
	c.accounts = make(map[string]generic.Account, len(s.accounts))
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.promotions = make(map[int64]generic.Promotion, len(s.promotions))
	for k, v := range s.promotions {
		c.promotions[k] = v
	}
	c.transactions = make([]generic.Transaction, len(s.transactions))
	for i, tx := range s.transactions {
		c.transactions[i] = copyTx(tx)
	}
	c.consumed = make(map[consumedKey]int64, len(s.consumed))
	for k, v := range s.consumed {
		c.consumed[k] = v
	}
	c.audit = append([]generic.AuditEntry(nil), s.audit...)
	return c
}

// memoryView operates on state whose lock is already held.
type memoryView struct {
	state *memoryState
}

func (v *memoryView) GetAccount(_ context.Context, utorid string) (*generic.Account, error) {
	return v.state.getAccount(utorid)
}

func (v *memoryView) CreateAccount(_ context.Context, acc *generic.Account) error {
	return v.state.createAccount(acc)
}

func (v *memoryView) AddPoints(_ context.Context, utorid string, delta generic.Points) error {
	return v.state.addPoints(utorid, delta)
}

func (v *memoryView) ConsumedPromotions(_ context.Context, utorid string) ([]int64, error) {
	return v.state.consumedPromotions(utorid), nil
}

func (v *memoryView) ConsumePromotion(_ context.Context, utorid string, promotionID, transactionID int64) error {
	return v.state.consumePromotion(utorid, promotionID, transactionID)
}

func (v *memoryView) GetPromotion(_ context.Context, id int64) (*generic.Promotion, error) {
	return v.state.getPromotion(id)
}

func (v *memoryView) AppendTransaction(_ context.Context, tx *generic.Transaction) error {
	v.state.appendTransaction(tx)
	return nil
}

func (v *memoryView) GetTransaction(_ context.Context, id int64) (*generic.Transaction, error) {
	return v.state.getTransaction(id)
}

func (v *memoryView) SetSuspicious(_ context.Context, id int64, suspicious bool) error {
	return v.state.setSuspicious(id, suspicious)
}

func (v *memoryView) ListTransactions(_ context.Context, f generic.TransactionFilter) ([]generic.Transaction, int, error) {
	txs, n := v.state.listTransactions(f)
	return txs, n, nil
}

func (v *memoryView) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	v.state.audit = append(v.state.audit, e)
	return nil
}

func (v *memoryView) AuditTrail(_ context.Context, transactionID int64) ([]generic.AuditEntry, error) {
	return v.state.auditTrail(transactionID), nil
}

// =============================================================================
// LOCKED ACCESSORS ON THE STORE ITSELF
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, utorid string) (*generic.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccount(utorid)
}

func (m *Memory) CreateAccount(_ context.Context, acc *generic.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccount(acc)
}

func (m *Memory) AddPoints(_ context.Context, utorid string, delta generic.Points) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addPoints(utorid, delta)
}

func (m *Memory) ConsumedPromotions(_ context.Context, utorid string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consumedPromotions(utorid), nil
}

func (m *Memory) ConsumePromotion(_ context.Context, utorid string, promotionID, transactionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumePromotion(utorid, promotionID, transactionID)
}

func (m *Memory) GetPromotion(_ context.Context, id int64) (*generic.Promotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPromotion(id)
}

func (m *Memory) CreatePromotion(_ context.Context, p *generic.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPromotionID++
	p.ID = m.nextPromotionID
	m.promotions[p.ID] = *p
	return nil
}

func (m *Memory) UpdatePromotion(_ context.Context, p generic.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promotions[p.ID]; !ok {
		return generic.ErrPromotionNotFound
	}
	m.promotions[p.ID] = p
	return nil
}

func (m *Memory) DeletePromotion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.promotions[id]; !ok {
		return generic.ErrPromotionNotFound
	}
	delete(m.promotions, id)
	return nil
}

func (m *Memory) ListPromotions(_ context.Context, f generic.PromotionFilter) ([]generic.Promotion, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []generic.Promotion
	for _, p := range m.promotions {
		if promotionMatches(p, f) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartTime.After(matched[j].StartTime)
	})
	return paginate(matched, f.Offset, f.Limit), len(matched), nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx *generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTransaction(tx)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id int64) (*generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransaction(id)
}

func (m *Memory) SetSuspicious(_ context.Context, id int64, suspicious bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setSuspicious(id, suspicious)
}

func (m *Memory) ListTransactions(_ context.Context, f generic.TransactionFilter) ([]generic.Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs, n := m.listTransactions(f)
	return txs, n, nil
}

func (m *Memory) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) AuditTrail(_ context.Context, transactionID int64) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditTrail(transactionID), nil
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *memoryState) getAccount(utorid string) (*generic.Account, error) {
	acc, ok := s.accounts[utorid]
	if !ok {
		return nil, generic.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *memoryState) createAccount(acc *generic.Account) error {
	if _, ok := s.accounts[acc.Utorid]; ok {
		return generic.ErrAccountExists
	}
	s.nextAccountID++
	acc.ID = s.nextAccountID
	acc.Points = 0
	s.accounts[acc.Utorid] = *acc
	return nil
}

func (s *memoryState) addPoints(utorid string, delta generic.Points) error {
	acc, ok := s.accounts[utorid]
	if !ok {
		return generic.ErrAccountNotFound
	}
	acc.Points += delta
	s.accounts[utorid] = acc
	return nil
}

func (s *memoryState) consumedPromotions(utorid string) []int64 {
	var ids []int64
	for k := range s.consumed {
		if k.Utorid == utorid {
			ids = append(ids, k.PromotionID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memoryState) consumePromotion(utorid string, promotionID, transactionID int64) error {
	k := consumedKey{Utorid: utorid, PromotionID: promotionID}
	if _, ok := s.consumed[k]; ok {
		return generic.ErrPromotionAlreadyUsed
	}
	s.consumed[k] = transactionID
	return nil
}

func (s *memoryState) getPromotion(id int64) (*generic.Promotion, error) {
	p, ok := s.promotions[id]
	if !ok {
		return nil, generic.ErrPromotionNotFound
	}
	return &p, nil
}

func (s *memoryState) appendTransaction(tx *generic.Transaction) {
	s.nextTransactionID++
	tx.ID = s.nextTransactionID
	s.transactions = append(s.transactions, copyTx(*tx))
}

func (s *memoryState) getTransaction(id int64) (*generic.Transaction, error) {
	i := sort.Search(len(s.transactions), func(i int) bool { return s.transactions[i].ID >= id })
	if i == len(s.transactions) || s.transactions[i].ID != id {
		return nil, generic.ErrTransactionNotFound
	}
	tx := copyTx(s.transactions[i])
	return &tx, nil
}

func (s *memoryState) setSuspicious(id int64, suspicious bool) error {
	i := sort.Search(len(s.transactions), func(i int) bool { return s.transactions[i].ID >= id })
	if i == len(s.transactions) || s.transactions[i].ID != id {
		return generic.ErrTransactionNotFound
	}
	s.transactions[i].Suspicious = suspicious
	return nil
}

func (s *memoryState) listTransactions(f generic.TransactionFilter) ([]generic.Transaction, int) {
	var matched []generic.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if transactionMatches(s.transactions[i], f) {
			matched = append(matched, copyTx(s.transactions[i]))
		}
	}
	return paginate(matched, f.Offset, f.Limit), len(matched)
}

func (s *memoryState) auditTrail(transactionID int64) []generic.AuditEntry {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func transactionMatches(tx generic.Transaction, f generic.TransactionFilter) bool {
	if f.Utorid != "" && tx.Utorid != f.Utorid {
		return false
	}
	if f.CreatedBy != "" && tx.CreatedBy != f.CreatedBy {
		return false
	}
	if f.Suspicious != nil && tx.Suspicious != *f.Suspicious {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.RelatedID != nil && (tx.Type != generic.TxAdjustment || tx.RelatedID != *f.RelatedID) {
		return false
	}
	if f.PromotionID != nil && !containsID(tx.PromotionIDs, *f.PromotionID) {
		return false
	}
	if f.Amount != nil {
		switch f.Operator {
		case generic.OpLTE:
			if tx.Delta() > *f.Amount {
				return false
			}
		case generic.OpGTE:
			if tx.Delta() < *f.Amount {
				return false
			}
		}
	}
	return true
}

func promotionMatches(p generic.Promotion, f generic.PromotionFilter) bool {
	if f.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Name)) {
		return false
	}
	if f.Kind != "" && p.Kind != f.Kind {
		return false
	}
	if f.StartedAt != nil && p.StartTime.After(*f.StartedAt) {
		return false
	}
	if f.NotStartedAt != nil && !p.StartTime.After(*f.NotStartedAt) {
		return false
	}
	if f.EndedAt != nil && p.EndTime.After(*f.EndedAt) {
		return false
	}
	if f.NotEndedAt != nil && !p.EndTime.After(*f.NotEndedAt) {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func copyTx(tx generic.Transaction) generic.Transaction {
	tx.PromotionIDs = append([]int64{}, tx.PromotionIDs...)
	return tx
}
