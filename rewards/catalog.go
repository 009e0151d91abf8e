/*
Package rewards provides the promotion catalog service.

PURPOSE:
  The ledger only reads promotions. Catalog is the write side: managers
  create, edit and retire promotions; members browse the ones they can
  still use.

VISIBILITY:
  Manager and superuser see every promotion and can filter by whether it
  has started or ended (not both at once). Everyone else sees only
  promotions that are active now and, for one-time promotions, not yet
  used by them. A promotion outside that view is reported as not found.

LIFECYCLE:
  created (start in future) -> started -> ended
  - Delete only before start (ErrForbidden after)
  - Edits follow factory.ApplyPatch

SEE ALSO:
  - factory/promotion.go: JSON validation
  - rewards/presets.go: Demo promotions
  - generic/evaluator.go: How promotions are applied
*/
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/logging"
)

// CatalogStore is the storage the catalog needs.
type CatalogStore interface {
	generic.PromotionStore
	ConsumedPromotions(ctx context.Context, utorid string) ([]int64, error)
}

// Catalog manages promotions.
type Catalog struct {
	Store   CatalogStore
	Factory *factory.PromotionFactory
	Now     func() time.Time
}

func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{
		Store:   store,
		Factory: factory.NewPromotionFactory(),
		Now:     time.Now,
	}
}

func (c *Catalog) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func notFound(id int64) error {
	return fmt.Errorf("%w: promotion %d", generic.ErrNotFound, id)
}

// =============================================================================
// CREATE
// =============================================================================

func (c *Catalog) Create(ctx context.Context, actor generic.Actor, pj factory.PromotionJSON) (*generic.Promotion, error) {
	if !actor.IsManager() {
		return nil, generic.ErrForbidden
	}
	p, err := c.Factory.FromJSON(pj, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.Store.CreatePromotion(ctx, p); err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	log.Info().
		Int64("promotion_id", p.ID).
		Str("kind", string(p.Kind)).
		Time("start", p.StartTime).
		Time("end", p.EndTime).
		Str("actor", actor.Utorid).
		Msg("promotion created")
	return p, nil
}

// =============================================================================
// READ
// =============================================================================

// Get returns a promotion if actor may see it.
func (c *Catalog) Get(ctx context.Context, actor generic.Actor, id int64) (*generic.Promotion, error) {
	p, err := c.Store.GetPromotion(ctx, id)
	if err != nil {
		if errors.Is(err, generic.ErrPromotionNotFound) {
			return nil, notFound(id)
		}
		return nil, err
	}
	if actor.IsManager() {
		return p, nil
	}

	if !p.ActiveAt(c.now()) {
		return nil, notFound(id)
	}
	used, err := c.usedBy(ctx, actor.Utorid)
	if err != nil {
		return nil, err
	}
	if used[id] {
		return nil, notFound(id)
	}
	return p, nil
}

// PromotionQuery filters a listing. Started and Ended are manager-only.
type PromotionQuery struct {
	Name    string
	Kind    generic.PromotionKind
	Started *bool
	Ended   *bool
	Page    int
	Limit   int
}

type PromotionPage struct {
	Count   int
	Results []generic.Promotion
}

func (c *Catalog) List(ctx context.Context, actor generic.Actor, q PromotionQuery) (PromotionPage, error) {
	if q.Kind != "" && !q.Kind.Valid() {
		return PromotionPage{}, &generic.ValidationError{Field: "type", Message: "must be automatic or one-time"}
	}
	page, limit := q.Page, q.Limit
	if page == 0 {
		page = generic.DefaultPage
	}
	if limit == 0 {
		limit = generic.DefaultLimit
	}
	if page < 1 || limit < 1 || limit > generic.MaxLimit {
		return PromotionPage{}, &generic.ValidationError{Field: "limit", Message: "page must be >= 1 and limit between 1 and 100"}
	}

	now := c.now()
	f := generic.PromotionFilter{Name: q.Name, Kind: q.Kind}

	if actor.IsManager() {
		if q.Started != nil && q.Ended != nil {
			return PromotionPage{}, &generic.ValidationError{Message: "started and ended cannot be combined"}
		}
		if q.Started != nil {
			if *q.Started {
				f.StartedAt = &now
			} else {
				f.NotStartedAt = &now
			}
		}
		if q.Ended != nil {
			if *q.Ended {
				f.EndedAt = &now
			} else {
				f.NotEndedAt = &now
			}
		}
		f.Offset = (page - 1) * limit
		f.Limit = limit
		promos, count, err := c.Store.ListPromotions(ctx, f)
		if err != nil {
			return PromotionPage{}, err
		}
		return PromotionPage{Count: count, Results: promos}, nil
	}

	// Members: active and unused. Consumption is per account, so the
	// store can't page this; filter the active set and page here.
	f.StartedAt = &now
	f.NotEndedAt = &now
	active, _, err := c.Store.ListPromotions(ctx, f)
	if err != nil {
		return PromotionPage{}, err
	}
	used, err := c.usedBy(ctx, actor.Utorid)
	if err != nil {
		return PromotionPage{}, err
	}
	visible := make([]generic.Promotion, 0, len(active))
	for _, p := range active {
		if !used[p.ID] {
			visible = append(visible, p)
		}
	}

	offset := (page - 1) * limit
	results := []generic.Promotion{}
	if offset < len(visible) {
		end := offset + limit
		if end > len(visible) {
			end = len(visible)
		}
		results = visible[offset:end]
	}
	return PromotionPage{Count: len(visible), Results: results}, nil
}

func (c *Catalog) usedBy(ctx context.Context, utorid string) (map[int64]bool, error) {
	ids, err := c.Store.ConsumedPromotions(ctx, utorid)
	if err != nil {
		return nil, err
	}
	used := make(map[int64]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	return used, nil
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

// Update applies a partial edit and returns the result with the names of
// the fields that changed.
func (c *Catalog) Update(ctx context.Context, actor generic.Actor, id int64, patch factory.PromotionJSON) (*generic.Promotion, []string, error) {
	if !actor.IsManager() {
		return nil, nil, generic.ErrForbidden
	}
	existing, err := c.Store.GetPromotion(ctx, id)
	if err != nil {
		if errors.Is(err, generic.ErrPromotionNotFound) {
			return nil, nil, notFound(id)
		}
		return nil, nil, err
	}

	updated, changed, err := c.Factory.ApplyPatch(*existing, patch, c.now())
	if err != nil {
		return nil, nil, err
	}
	if len(changed) == 0 {
		return existing, changed, nil
	}
	if err := c.Store.UpdatePromotion(ctx, updated); err != nil {
		return nil, nil, err
	}

	log := logging.FromContext(ctx)
	log.Info().Int64("promotion_id", id).Strs("fields", changed).Str("actor", actor.Utorid).Msg("promotion updated")
	return &updated, changed, nil
}

// Delete removes a promotion that has not started yet.
func (c *Catalog) Delete(ctx context.Context, actor generic.Actor, id int64) error {
	if !actor.IsManager() {
		return generic.ErrForbidden
	}
	p, err := c.Store.GetPromotion(ctx, id)
	if err != nil {
		if errors.Is(err, generic.ErrPromotionNotFound) {
			return notFound(id)
		}
		return err
	}
	if p.Started(c.now()) {
		return generic.ErrForbidden
	}
	if err := c.Store.DeletePromotion(ctx, id); err != nil {
		return err
	}

	log := logging.FromContext(ctx)
	log.Info().Int64("promotion_id", id).Str("actor", actor.Utorid).Msg("promotion deleted")
	return nil
}
