/*
request.go - Transaction request variants and parsing

PURPOSE:
  Incoming transaction bodies are loosely shaped (optional fields, one
  "type" discriminator). ParseTransactionRequest turns them into exactly
  one typed variant before any domain logic runs:

    PurchaseRequest    utorid, spent, promotion ids, remark
    AdjustmentRequest  utorid, amount, related id, remark

  Anything that cannot become a valid variant is rejected here with an
  ErrInvalidPayload-kind error. Checks that need the store (account and
  related transaction existence) happen in the ledger.
*/
package generic

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionRequest is implemented by PurchaseRequest and AdjustmentRequest.
type TransactionRequest interface {
	TransactionType() TransactionType
	Owner() string
	Note() string
}

type PurchaseRequest struct {
	Utorid       string
	Spent        Money
	PromotionIDs []int64
	Remark       string
}

func (r PurchaseRequest) TransactionType() TransactionType { return TxPurchase }
func (r PurchaseRequest) Owner() string                     { return r.Utorid }
func (r PurchaseRequest) Note() string                      { return r.Remark }

type AdjustmentRequest struct {
	Utorid    string
	Amount    Points
	RelatedID int64
	Remark    string
}

func (r AdjustmentRequest) TransactionType() TransactionType { return TxAdjustment }
func (r AdjustmentRequest) Owner() string                     { return r.Utorid }
func (r AdjustmentRequest) Note() string                      { return r.Remark }

// RawTransaction is the decoded but unvalidated request body.
// Nil means the field was absent.
type RawTransaction struct {
	Utorid       *string
	Type         *string
	Spent        *float64
	Amount       *int64
	RelatedID    *int64
	PromotionIDs []int64
	Remark       *string
}

// ParseTransactionRequest validates raw and returns the typed variant.
func ParseTransactionRequest(raw RawTransaction) (TransactionRequest, error) {
	if raw.Utorid == nil || strings.TrimSpace(*raw.Utorid) == "" {
		return nil, invalid("utorid", "is required")
	}
	if raw.Type == nil || *raw.Type == "" {
		return nil, invalid("type", "is required")
	}

	remark := ""
	if raw.Remark != nil {
		remark = *raw.Remark
	}

	switch TransactionType(*raw.Type) {
	case TxPurchase:
		if raw.Spent == nil {
			return nil, invalid("spent", "is required for purchases")
		}
		if math.IsNaN(*raw.Spent) || math.IsInf(*raw.Spent, 0) || *raw.Spent <= 0 {
			return nil, invalid("spent", "must be > 0")
		}
		if raw.Amount != nil || raw.RelatedID != nil {
			return nil, invalid("", "amount and relatedId are only valid for adjustments")
		}
		spent := decimal.NewFromFloat(*raw.Spent)
		if _, err := BasePoints(spent); err != nil {
			return nil, invalid("spent", "is too large")
		}
		ids, err := promotionIDs(raw.PromotionIDs)
		if err != nil {
			return nil, err
		}
		return PurchaseRequest{
			Utorid:       *raw.Utorid,
			Spent:        spent,
			PromotionIDs: ids,
			Remark:       remark,
		}, nil

	case TxAdjustment:
		if raw.Amount == nil || *raw.Amount == 0 {
			return nil, invalid("amount", "is required and must be non-zero")
		}
		if *raw.Amount > int64(MaxPoints) || *raw.Amount < -int64(MaxPoints) {
			return nil, invalid("amount", "is out of range")
		}
		if raw.RelatedID == nil || *raw.RelatedID <= 0 {
			return nil, invalid("relatedId", "is required")
		}
		if len(raw.PromotionIDs) > 0 {
			return nil, invalid("promotionIds", "promotions only apply to purchases")
		}
		return AdjustmentRequest{
			Utorid:    *raw.Utorid,
			Amount:    Points(*raw.Amount),
			RelatedID: *raw.RelatedID,
			Remark:    remark,
		}, nil

	default:
		return nil, ErrInvalidType
	}
}

func promotionIDs(ids []int64) ([]int64, error) {
	for _, id := range ids {
		if id <= 0 {
			return nil, invalid("promotionIds", "must be positive integers")
		}
	}
	return ids, nil
}
