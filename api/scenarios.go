/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates accounts, promotions
	and transactions that demonstrate specific ledger behavior.

AVAILABLE SCENARIOS:

	worked-example:     Purchase, promotion bonus and a correcting adjustment
	welcome-bonus:      One-time promotion already redeemed by one member
	suspicious-cashier: Purchase held because the cashier is flagged
	accounts-only:      Accounts and promotions, no transactions

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create accounts for every role
 3. Create promotions from rewards presets via the factory
 4. Post transactions through the ledger, so balances, consumption and
    audit entries are exactly what live traffic would produce

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "worked-example"}

USAGE VIA CLI:

	loyalty seed worked-example

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
	Promotions are written straight to the store so they can start in
	the past; everything else goes through the ledger.

SEE ALSO:
  - handlers.go: Handler
  - rewards/presets.go: Promotion JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "worked-example",
		Name:        "Worked Example",
		Description: "20.00 purchase earns 80, the same with Spring Bonus earns 91, then a -30 adjustment: alice001 ends at 141",
	},
	{
		ID:          "welcome-bonus",
		Name:        "Welcome Bonus",
		Description: "One-time 100 point promotion already redeemed by alice001",
	},
	{
		ID:          "suspicious-cashier",
		Name:        "Suspicious Cashier",
		Description: "Purchase entered by a flagged cashier is held until a manager clears it",
	},
	{
		ID:          "accounts-only",
		Name:        "Accounts Only",
		Description: "One account per role and the demo promotions, no transactions",
	},
}

// Scenarios lists the available scenarios.
func Scenarios() []ScenarioDTO {
	return scenarios
}

var (
	demoCashier    = generic.Actor{Utorid: "cash0001", Role: generic.RoleCashier}
	demoManager    = generic.Actor{Utorid: "mgr00001", Role: generic.RoleManager}
	flaggedCashier = generic.Actor{Utorid: "shady001", Role: generic.RoleCashier, Suspicious: true}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Load resets the store and loads scenario id.
func (h *Handler) Load(ctx context.Context, id string) error {
	var loader func(context.Context) error
	switch id {
	case "worked-example":
		loader = h.loadWorkedExample
	case "welcome-bonus":
		loader = h.loadWelcomeBonus
	case "suspicious-cashier":
		loader = h.loadSuspiciousCashier
	case "accounts-only":
		loader = h.loadAccountsOnly
	default:
		return &generic.ValidationError{Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	if err := loader(ctx); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.currentScenario = id

	log := logging.FromContext(ctx)
	log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWorkedExample(ctx context.Context) error {
	if err := h.createDemoAccounts(ctx); err != nil {
		return err
	}
	now := h.now()
	spring, err := h.createPromotion(ctx, rewards.SpringBonusJSON(now.Add(-time.Hour), now.AddDate(0, 1, 0)))
	if err != nil {
		return err
	}

	// 20.00 -> 80
	first, err := h.Ledger.CreateTransaction(ctx, demoCashier, generic.PurchaseRequest{
		Utorid: "alice001", Spent: decimal.RequireFromString("20.00"), Remark: "coffee and bagel",
	})
	if err != nil {
		return err
	}
	// 20.00 with Spring Bonus -> 80 + 1 + 10
	if _, err := h.Ledger.CreateTransaction(ctx, demoCashier, generic.PurchaseRequest{
		Utorid: "alice001", Spent: decimal.RequireFromString("20.00"), PromotionIDs: []int64{spring.ID},
	}); err != nil {
		return err
	}
	// -30 correction of the first purchase
	_, err = h.Ledger.CreateTransaction(ctx, demoManager, generic.AdjustmentRequest{
		Utorid: "alice001", Amount: -30, RelatedID: first.ID, Remark: "price correction",
	})
	return err
}

func (h *Handler) loadWelcomeBonus(ctx context.Context) error {
	if err := h.createDemoAccounts(ctx); err != nil {
		return err
	}
	now := h.now()
	welcome, err := h.createPromotion(ctx, rewards.WelcomeBonusJSON(now.Add(-time.Hour), now.AddDate(0, 0, 14), 100))
	if err != nil {
		return err
	}
	if _, err := h.createPromotion(ctx, rewards.BigSpenderJSON(now.Add(-time.Hour), now.AddDate(0, 0, 14), 50, 0.1, 25)); err != nil {
		return err
	}

	_, err = h.Ledger.CreateTransaction(ctx, demoCashier, generic.PurchaseRequest{
		Utorid: "alice001", Spent: decimal.RequireFromString("5.00"), PromotionIDs: []int64{welcome.ID},
	})
	return err
}

func (h *Handler) loadSuspiciousCashier(ctx context.Context) error {
	if err := h.createDemoAccounts(ctx); err != nil {
		return err
	}
	if _, err := h.Ledger.CreateTransaction(ctx, demoCashier, generic.PurchaseRequest{
		Utorid: "alice001", Spent: decimal.RequireFromString("10.00"),
	}); err != nil {
		return err
	}
	_, err := h.Ledger.CreateTransaction(ctx, flaggedCashier, generic.PurchaseRequest{
		Utorid: "alice001", Spent: decimal.RequireFromString("12.50"), Remark: "entered by flagged cashier",
	})
	return err
}

func (h *Handler) loadAccountsOnly(ctx context.Context) error {
	if err := h.createDemoAccounts(ctx); err != nil {
		return err
	}
	now := h.now()
	start := now.Add(-time.Hour)
	for _, js := range []string{
		rewards.SpringBonusJSON(start, now.AddDate(0, 1, 0)),
		rewards.DoublePointsJSON("Exam Week Double Points", now.AddDate(0, 0, 7), now.AddDate(0, 0, 14), 4),
		rewards.WelcomeBonusJSON(start, now.AddDate(0, 2, 0), 50),
	} {
		if _, err := h.createPromotion(ctx, js); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createDemoAccounts(ctx context.Context) error {
	accounts := []generic.Account{
		{Utorid: "alice001", Name: "Alice Chen", Role: generic.RoleRegular},
		{Utorid: "bob00001", Name: "Bob Singh", Role: generic.RoleRegular},
		{Utorid: "cash0001", Name: "Carla Diaz", Role: generic.RoleCashier},
		{Utorid: "shady001", Name: "Sam Hale", Role: generic.RoleCashier, Suspicious: true},
		{Utorid: "mgr00001", Name: "Maya Okafor", Role: generic.RoleManager},
		{Utorid: "root0001", Name: "Root Admin", Role: generic.RoleSuperuser},
	}
	for i := range accounts {
		if err := h.Store.CreateAccount(ctx, &accounts[i]); err != nil {
			return err
		}
	}
	return nil
}

// createPromotion validates jsonStr without the no-past-start rule, so
// running promotions can be seeded, and stores it.
func (h *Handler) createPromotion(ctx context.Context, jsonStr string) (*generic.Promotion, error) {
	p, err := h.Factory.ParsePromotion(jsonStr, time.Time{})
	if err != nil {
		return nil, err
	}
	if err := h.Store.CreatePromotion(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) now() time.Time {
	if h.Ledger.Now != nil {
		return h.Ledger.Now().UTC()
	}
	return time.Now().UTC()
}
