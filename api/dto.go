/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Transactions:
    CreateTransactionRequest, TransactionDTO, TransactionListResponse,
    SuspiciousRequest

  Accounts:
    AccountDTO

  Promotions:
    PromotionDTO (wraps factory.PromotionJSON), PromotionListResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the domain packages, not in DTOs. DTOs are pure
  data carriers; pointer fields distinguish absent from zero.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/promotion.go: PromotionJSON type
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransactionRequest is the body of POST /api/transactions.
type CreateTransactionRequest struct {
	Utorid       *string  `json:"utorid"`
	Type         *string  `json:"type"`
	Spent        *float64 `json:"spent"`
	Amount       *int64   `json:"amount"`
	RelatedID    *int64   `json:"relatedId"`
	PromotionIDs []int64  `json:"promotionIds"`
	Remark       *string  `json:"remark"`
}

func (r CreateTransactionRequest) raw() generic.RawTransaction {
	return generic.RawTransaction{
		Utorid:       r.Utorid,
		Type:         r.Type,
		Spent:        r.Spent,
		Amount:       r.Amount,
		RelatedID:    r.RelatedID,
		PromotionIDs: r.PromotionIDs,
		Remark:       r.Remark,
	}
}

// TransactionDTO represents a ledger transaction. Purchases carry earned,
// adjustments carry amount and relatedId.
type TransactionDTO struct {
	ID           int64   `json:"id"`
	Utorid       string  `json:"utorid"`
	Type         string  `json:"type"`
	Spent        float64 `json:"spent"`
	Earned       *int64  `json:"earned,omitempty"`
	Amount       *int64  `json:"amount,omitempty"`
	RelatedID    *int64  `json:"relatedId,omitempty"`
	PromotionIDs []int64 `json:"promotionIds"`
	Remark       string  `json:"remark"`
	Suspicious   bool    `json:"suspicious"`
	CreatedBy    string  `json:"createdBy"`
	CreatedAt    string  `json:"createdAt"`
}

type TransactionListResponse struct {
	Count   int              `json:"count"`
	Results []TransactionDTO `json:"results"`
}

// SuspiciousRequest is the body of PATCH /api/transactions/{id}/suspicious.
type SuspiciousRequest struct {
	Suspicious *bool `json:"suspicious"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID                 int64   `json:"id"`
	Utorid             string  `json:"utorid"`
	Name               string  `json:"name"`
	Role               string  `json:"role"`
	Suspicious         bool    `json:"suspicious"`
	Points             int64   `json:"points"`
	ConsumedPromotions []int64 `json:"consumedPromotions"`
}

// =============================================================================
// PROMOTIONS
// =============================================================================

// PromotionDTO represents a promotion in API responses.
type PromotionDTO struct {
	ID int64 `json:"id"`
	factory.PromotionJSON
}

type PromotionListResponse struct {
	Count   int            `json:"count"`
	Results []PromotionDTO `json:"results"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:           tx.ID,
		Utorid:       tx.Utorid,
		Type:         string(tx.Type),
		Spent:        tx.Spent.InexactFloat64(),
		PromotionIDs: tx.PromotionIDs,
		Remark:       tx.Remark,
		Suspicious:   tx.Suspicious,
		CreatedBy:    tx.CreatedBy,
		CreatedAt:    tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if dto.PromotionIDs == nil {
		dto.PromotionIDs = []int64{}
	}
	switch tx.Type {
	case generic.TxAdjustment:
		amount, related := int64(tx.Amount), tx.RelatedID
		dto.Amount = &amount
		dto.RelatedID = &related
	default:
		earned := int64(tx.Earned)
		dto.Earned = &earned
	}
	return dto
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toAccountDTO(s generic.AccountSummary) AccountDTO {
	return AccountDTO{
		ID:                 s.Account.ID,
		Utorid:             s.Account.Utorid,
		Name:               s.Account.Name,
		Role:               string(s.Account.Role),
		Suspicious:         s.Account.Suspicious,
		Points:             int64(s.Account.Points),
		ConsumedPromotions: s.ConsumedPromotions,
	}
}

// toPromotionDTO renders p for actor. Members never see startTime; the
// list view also drops the description.
func toPromotionDTO(f *factory.PromotionFactory, actor generic.Actor, p generic.Promotion, list bool) PromotionDTO {
	pj := f.ToJSON(p)
	if !actor.IsManager() {
		pj.StartTime = nil
	}
	if list {
		pj.Description = nil
	}
	return PromotionDTO{ID: p.ID, PromotionJSON: pj}
}

func toPromotionList(f *factory.PromotionFactory, actor generic.Actor, page rewards.PromotionPage) PromotionListResponse {
	results := make([]PromotionDTO, len(page.Results))
	for i, p := range page.Results {
		results[i] = toPromotionDTO(f, actor, p, true)
	}
	return PromotionListResponse{Count: page.Count, Results: results}
}

// promotionPatchResponse echoes id, name and type plus every changed field.
func promotionPatchResponse(f *factory.PromotionFactory, p generic.Promotion, changed []string) map[string]any {
	pj := f.ToJSON(p)
	all := map[string]any{
		"name":        pj.Name,
		"description": pj.Description,
		"type":        pj.Type,
		"startTime":   pj.StartTime,
		"endTime":     pj.EndTime,
		"minSpending": pj.MinSpending,
		"rate":        pj.Rate,
		"points":      pj.Points,
	}
	resp := map[string]any{"id": p.ID, "name": p.Name, "type": string(p.Kind)}
	for _, field := range changed {
		resp[field] = all[field]
	}
	return resp
}
