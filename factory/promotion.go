/*
Package factory provides JSON to Go promotion conversion.

PURPOSE:
  Converts JSON promotion definitions into generic.Promotion values and
  applies partial updates to existing promotions. Both the HTTP adapter
  and the CLI seed command go through here, so a promotion is validated
  the same way no matter where it came from.

JSON SCHEMA:
  {
    "name": "Spring Double Points",
    "description": "Bonus for purchases over $10",
    "type": "automatic",                 // or "one-time"
    "startTime": "2025-04-01T00:00:00Z",
    "endTime": "2025-05-01T00:00:00Z",
    "minSpending": 10,                   // optional, >= 0
    "rate": 0.05,                        // optional, >= 0
    "points": 10                         // optional integer, >= 0
  }

CREATE RULES:
  - name, description, type, startTime and endTime are required
  - startTime must not be in the past
  - endTime must be after startTime

UPDATE RULES (ApplyPatch):
  - name, description, type, startTime, minSpending, rate and points can
    only change before the promotion starts
  - a new startTime must not be in the past
  - endTime can change until the promotion ends
  - the result must keep endTime after startTime, whichever of the two
    was patched

USAGE:
  factory := NewPromotionFactory()

  promo, err := factory.ParsePromotion(jsonStr, time.Now())
  updated, changed, err := factory.ApplyPatch(existing, patch, time.Now())

SEE ALSO:
  - generic/types.go: Promotion type definition
  - rewards/catalog.go: Uses the factory for create and update
  - rewards/presets.go: Ready-made promotion JSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PromotionJSON is the JSON representation of a promotion. Nil fields were
// absent from the document.
type PromotionJSON struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *string  `json:"type,omitempty"`
	StartTime   *string  `json:"startTime,omitempty"`
	EndTime     *string  `json:"endTime,omitempty"`
	MinSpending *float64 `json:"minSpending,omitempty"`
	Rate        *float64 `json:"rate,omitempty"`
	Points      *float64 `json:"points,omitempty"`
}

// =============================================================================
// PROMOTION FACTORY
// =============================================================================

// PromotionFactory converts JSON promotions to Go structs.
type PromotionFactory struct{}

func NewPromotionFactory() *PromotionFactory {
	return &PromotionFactory{}
}

// ParsePromotion parses and validates a JSON document for a new promotion.
func (f *PromotionFactory) ParsePromotion(jsonStr string, now time.Time) (*generic.Promotion, error) {
	var pj PromotionJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, invalid("", fmt.Sprintf("failed to parse promotion JSON: %v", err))
	}
	return f.FromJSON(pj, now)
}

// FromJSON validates pj as a new promotion.
func (f *PromotionFactory) FromJSON(pj PromotionJSON, now time.Time) (*generic.Promotion, error) {
	name, err := requiredText("name", pj.Name)
	if err != nil {
		return nil, err
	}
	description, err := requiredText("description", pj.Description)
	if err != nil {
		return nil, err
	}
	if pj.Type == nil {
		return nil, invalid("type", "is required")
	}
	kind, err := parseKind(*pj.Type)
	if err != nil {
		return nil, err
	}
	if pj.StartTime == nil || pj.EndTime == nil {
		return nil, invalid("startTime", "startTime and endTime are required")
	}
	start, err := parseTime("startTime", *pj.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("endTime", *pj.EndTime)
	if err != nil {
		return nil, err
	}
	if start.Before(now) {
		return nil, invalid("startTime", "must not be in the past")
	}
	if !end.After(start) {
		return nil, invalid("endTime", "must be after startTime")
	}

	p := &generic.Promotion{
		Name:        name,
		Description: description,
		Kind:        kind,
		StartTime:   start,
		EndTime:     end,
	}
	if p.MinSpending, err = nonNegative("minSpending", pj.MinSpending); err != nil {
		return nil, err
	}
	if p.Rate, err = nonNegative("rate", pj.Rate); err != nil {
		return nil, err
	}
	if p.Points, err = nonNegativeInt("points", pj.Points); err != nil {
		return nil, err
	}
	return p, nil
}

// ApplyPatch returns existing with the fields present in patch applied,
// plus the JSON names of the fields that changed.
func (f *PromotionFactory) ApplyPatch(existing generic.Promotion, patch PromotionJSON, now time.Time) (generic.Promotion, []string, error) {
	p := existing
	started := existing.Started(now)
	var changed []string

	beforeStart := func(field string) error {
		if started {
			return invalid(field, "cannot change after the promotion has started")
		}
		changed = append(changed, field)
		return nil
	}

	if patch.Name != nil {
		if err := beforeStart("name"); err != nil {
			return existing, nil, err
		}
		name, err := requiredText("name", patch.Name)
		if err != nil {
			return existing, nil, err
		}
		p.Name = name
	}
	if patch.Description != nil {
		if err := beforeStart("description"); err != nil {
			return existing, nil, err
		}
		description, err := requiredText("description", patch.Description)
		if err != nil {
			return existing, nil, err
		}
		p.Description = description
	}
	if patch.Type != nil {
		if err := beforeStart("type"); err != nil {
			return existing, nil, err
		}
		kind, err := parseKind(*patch.Type)
		if err != nil {
			return existing, nil, err
		}
		p.Kind = kind
	}
	if patch.StartTime != nil {
		start, err := parseTime("startTime", *patch.StartTime)
		if err != nil {
			return existing, nil, err
		}
		if err := beforeStart("startTime"); err != nil {
			return existing, nil, err
		}
		if start.Before(now) {
			return existing, nil, invalid("startTime", "must not be in the past")
		}
		p.StartTime = start
	}
	if patch.EndTime != nil {
		end, err := parseTime("endTime", *patch.EndTime)
		if err != nil {
			return existing, nil, err
		}
		if existing.Ended(now) {
			return existing, nil, invalid("endTime", "cannot change after the promotion has ended")
		}
		p.EndTime = end
		changed = append(changed, "endTime")
	}
	if patch.MinSpending != nil {
		if err := beforeStart("minSpending"); err != nil {
			return existing, nil, err
		}
		v, err := nonNegative("minSpending", patch.MinSpending)
		if err != nil {
			return existing, nil, err
		}
		p.MinSpending = v
	}
	if patch.Rate != nil {
		if err := beforeStart("rate"); err != nil {
			return existing, nil, err
		}
		v, err := nonNegative("rate", patch.Rate)
		if err != nil {
			return existing, nil, err
		}
		p.Rate = v
	}
	if patch.Points != nil {
		if err := beforeStart("points"); err != nil {
			return existing, nil, err
		}
		v, err := nonNegativeInt("points", patch.Points)
		if err != nil {
			return existing, nil, err
		}
		p.Points = v
	}

	if !p.EndTime.After(p.StartTime) {
		return existing, nil, invalid("endTime", "must be after startTime")
	}
	return p, changed, nil
}

// ToJSON converts a Promotion to PromotionJSON.
func (f *PromotionFactory) ToJSON(p generic.Promotion) PromotionJSON {
	kind := string(p.Kind)
	start := p.StartTime.UTC().Format(time.RFC3339)
	end := p.EndTime.UTC().Format(time.RFC3339)
	points := float64(p.Points)

	pj := PromotionJSON{
		Name:        &p.Name,
		Description: &p.Description,
		Type:        &kind,
		StartTime:   &start,
		EndTime:     &end,
		Points:      &points,
	}
	if p.MinSpending.Valid {
		v := p.MinSpending.Decimal.InexactFloat64()
		pj.MinSpending = &v
	}
	if p.Rate.Valid {
		v := p.Rate.Decimal.InexactFloat64()
		pj.Rate = &v
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func invalid(field, msg string) error {
	return &generic.ValidationError{Field: field, Message: msg}
}

func requiredText(field string, s *string) (string, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return "", invalid(field, "is required")
	}
	return *s, nil
}

func parseKind(s string) (generic.PromotionKind, error) {
	kind := generic.PromotionKind(s)
	if !kind.Valid() {
		return "", invalid("type", "must be automatic or one-time")
	}
	return kind, nil
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, invalid(field, "must be an ISO 8601 timestamp")
	}
	return t.UTC(), nil
}

func nonNegative(field string, v *float64) (decimal.NullDecimal, error) {
	if v == nil {
		return decimal.NullDecimal{}, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return decimal.NullDecimal{}, invalid(field, "must be a number >= 0")
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v)), nil
}

func nonNegativeInt(field string, v *float64) (generic.Points, error) {
	if v == nil {
		return 0, nil
	}
	if *v < 0 || *v != math.Trunc(*v) || *v > math.MaxInt32 {
		return 0, invalid(field, "must be an integer >= 0")
	}
	return generic.Points(*v), nil
}
