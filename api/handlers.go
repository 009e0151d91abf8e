/*
handlers.go - HTTP API handlers for the loyalty ledger

PURPOSE:
  Exposes the ledger and promotion catalog via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every rule to
  generic.Ledger or rewards.Catalog.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                  Purchase or adjustment
    GET    /api/transactions                  Filtered listing (manager+)
    GET    /api/transactions/{id}             Single record (manager+)
    PATCH  /api/transactions/{id}/suspicious  Hold or release (manager+)

  Accounts:
    GET    /api/accounts/{utorid}             Balance (self or manager+)

  Promotions:
    POST   /api/promotions                    Create (manager+)
    GET    /api/promotions                    List
    GET    /api/promotions/{id}               Get
    PATCH  /api/promotions/{id}               Edit (manager+)
    DELETE /api/promotions/{id}               Delete before start (manager+)

ERROR HANDLING:
  Domain errors map to status codes in errors.go. Bodies are always
  {"error": message}; internal failures are logged, never echoed.
  Non-numeric ids in the path are treated as not found.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Identity and request logging
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the storage the HTTP layer needs: the ledger's transactional
// store, the catalog's promotion store, and Reset for demo scenarios.
type Store interface {
	generic.TxStore
	rewards.CatalogStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   Store
	Ledger  *generic.Ledger
	Catalog *rewards.Catalog
	Factory *factory.PromotionFactory

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler with a default ledger and catalog over store.
func NewHandler(store Store) *Handler {
	catalog := rewards.NewCatalog(store)
	return &Handler{
		Store:   store,
		Ledger:  generic.NewLedger(store),
		Catalog: catalog,
		Factory: catalog.Factory,
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction records a purchase or adjustment.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.Role.AtLeast(generic.RoleCashier) {
		writeDomainError(w, r, generic.ErrForbidden)
		return
	}
	var body CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req, err := generic.ParseTransactionRequest(body.raw())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	tx, err := h.Ledger.CreateTransaction(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// ListTransactions returns a filtered page of transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseTransactionQuery(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	page, err := h.Ledger.ListTransactions(r.Context(), actorFrom(r.Context()), q)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionListResponse{
		Count:   page.Count,
		Results: toTransactionDTOs(page.Results),
	})
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid transaction id")
		return
	}
	tx, err := h.Ledger.GetTransaction(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// SetSuspicious holds or releases a transaction.
func (h *Handler) SetSuspicious(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.IsManager() {
		writeDomainError(w, r, generic.ErrForbidden)
		return
	}
	var body SuspiciousRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Suspicious == nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid transaction id")
		return
	}

	tx, err := h.Ledger.SetSuspicious(r.Context(), actor, id, *body.Suspicious)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

func parseTransactionQuery(r *http.Request) (generic.TransactionQuery, error) {
	v := r.URL.Query()
	q := generic.TransactionQuery{
		Utorid:    v.Get("utorid"),
		CreatedBy: v.Get("createdBy"),
		Type:      generic.TransactionType(v.Get("type")),
		Operator:  generic.AmountOperator(v.Get("operator")),
	}

	var err error
	if q.Suspicious, err = optionalBool(v.Get("suspicious"), "suspicious"); err != nil {
		return q, err
	}
	if q.PromotionID, err = optionalInt64(v.Get("promotionId"), "promotionId"); err != nil {
		return q, err
	}
	if q.RelatedID, err = optionalInt64(v.Get("relatedId"), "relatedId"); err != nil {
		return q, err
	}
	amount, err := optionalInt64(v.Get("amount"), "amount")
	if err != nil {
		return q, err
	}
	if amount != nil {
		points := generic.Points(*amount)
		q.Amount = &points
	}
	if q.Page, err = intParam(v.Get("page"), "page"); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	return q, nil
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetAccount returns an account's balance and consumed promotions.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Ledger.AccountSummary(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "utorid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(summary))
}

// =============================================================================
// PROMOTION HANDLERS
// =============================================================================

// CreatePromotion creates a promotion from JSON.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	var pj factory.PromotionJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	p, err := h.Catalog.Create(r.Context(), actor, pj)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionDTO(h.Factory, actor, *p, false))
}

// ListPromotions returns the promotions visible to the caller.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	v := r.URL.Query()
	q := rewards.PromotionQuery{
		Name: v.Get("name"),
		Kind: generic.PromotionKind(v.Get("type")),
	}
	var err error
	if q.Started, err = optionalBool(v.Get("started"), "started"); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if q.Ended, err = optionalBool(v.Get("ended"), "ended"); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if q.Page, err = intParam(v.Get("page"), "page"); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if q.Limit, err = intParam(v.Get("limit"), "limit"); err != nil {
		writeDomainError(w, r, err)
		return
	}

	page, err := h.Catalog.List(r.Context(), actor, q)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionList(h.Factory, actor, page))
}

// GetPromotion returns a single promotion.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid promotion id")
		return
	}
	p, err := h.Catalog.Get(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDTO(h.Factory, actor, *p, false))
}

// UpdatePromotion applies a partial edit.
func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if !actor.IsManager() {
		writeDomainError(w, r, generic.ErrForbidden)
		return
	}
	var patch factory.PromotionJSON
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid promotion id")
		return
	}

	p, changed, err := h.Catalog.Update(r.Context(), actor, id, patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promotionPatchResponse(h.Factory, *p, changed))
}

// DeletePromotion removes a promotion that has not started.
func (h *Handler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid promotion id")
		return
	}
	if err := h.Catalog.Delete(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func optionalBool(s, field string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, &generic.ValidationError{Field: field, Message: "must be true or false"}
	}
	return &b, nil
}

func optionalInt64(s, field string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, &generic.ValidationError{Field: field, Message: "must be an integer"}
	}
	return &n, nil
}

// intParam parses a page or limit. Absent is 0, which takes the default.
func intParam(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, &generic.ValidationError{Field: field, Message: "must be a positive integer"}
	}
	return n, nil
}
