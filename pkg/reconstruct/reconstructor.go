// ABOUTME: Reconstruction Strategy Engine
// ABOUTME: Rewrites affected items under one strategy; any item failure fails the whole call

package reconstruct

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/money"
)

// DefaultPriceFloor is the minimum margin ratio Preserve-Price accepts
var DefaultPriceFloor = decimal.NewFromFloat(0.05)

// share of the percentage cost delta absorbed by the margin ratio
var marginAbsorption = decimal.NewFromFloat(0.4)

// Reconstructor applies strategies. It holds no per-budget state.
type Reconstructor struct {
	catalog    Catalog
	priceFloor decimal.Decimal
	now        func() time.Time
}

// NewReconstructor creates a reconstructor. catalog may be nil, in which case
// Best-Alternative never finds candidates. A non-positive floor selects the default.
func NewReconstructor(catalog Catalog, priceFloor decimal.Decimal) *Reconstructor {
	if !priceFloor.IsPositive() {
		priceFloor = DefaultPriceFloor
	}
	return &Reconstructor{
		catalog:    catalog,
		priceFloor: priceFloor,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PriceFloor returns the configured Preserve-Price margin floor
func (r *Reconstructor) PriceFloor() decimal.Decimal {
	return r.priceFloor
}

// Apply rewrites the items named in changes. The input slice is never modified.
func (r *Reconstructor) Apply(ctx context.Context, items []budget.Item, changes map[string]ProviderChange, strategy Strategy) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}
	ids := make([]string, 0, len(changes))
	for id := range changes {
		if _, ok := index[id]; !ok {
			return nil, fmt.Errorf("%w: item %s is not in the budget", errs.ErrNotFound, id)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		updated map[string]ItemChange
		err     error
	)
	switch strategy {
	case PreserveMargin:
		updated, err = r.each(ids, items, index, changes, preserveMargin)
	case PreservePrice:
		updated, err = r.each(ids, items, index, changes, r.preservePrice)
	case AdjustProportionally:
		updated, err = r.each(ids, items, index, changes, adjustProportionally)
	case BestAlternative:
		updated, err = r.bestAlternative(ctx, ids, items, index, changes)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", errs.ErrInvalidArgument, strategy)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Strategy: strategy,
		Items:    make([]budget.Item, len(items)),
		Ledger:   updated,
		Audit:    make([]AuditRecord, 0, len(ids)),
	}
	copy(res.Items, items)
	now := r.now()
	for _, id := range ids {
		ic := updated[id]
		res.Items[index[id]] = ic.After
		res.Audit = append(res.Audit, AuditRecord{
			Strategy:  strategy,
			ItemID:    id,
			Before:    auditValues(ic.Before),
			After:     auditValues(ic.After),
			Note:      ic.Note,
			Timestamp: now,
		})
	}
	return res, nil
}

type repriceFunc func(it budget.Item, pc ProviderChange) (budget.Item, error)

func (r *Reconstructor) each(ids []string, items []budget.Item, index map[string]int, changes map[string]ProviderChange, fn repriceFunc) (map[string]ItemChange, error) {
	out := make(map[string]ItemChange, len(ids))
	for _, id := range ids {
		before := items[index[id]]
		pc := changes[id]
		after, err := fn(before, pc)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		after.Price = money.Round(after.Price)
		after.Cost = money.Round(after.Cost)
		out[id] = ItemChange{
			ItemID:     id,
			Before:     before,
			After:      after,
			PriceDelta: after.Price.Sub(before.Price),
			CostDelta:  after.Cost.Sub(before.Cost),
			Note:       NoteRepriced,
		}
	}
	return out, nil
}

// preserveMargin moves price and cost together so price-cost stays constant
func preserveMargin(it budget.Item, pc ProviderChange) (budget.Item, error) {
	margin := it.Margin()
	it.Price = money.Round(it.Price.Add(pc.PriceDelta()))
	it.Cost = it.Price.Sub(margin)
	if !it.Price.IsPositive() || !it.Cost.IsPositive() {
		return budget.Item{}, fmt.Errorf("%w: price %s and cost %s must stay positive", errs.ErrInvariantViolation, money.String(it.Price), money.String(it.Cost))
	}
	return it, nil
}

// preservePrice keeps the customer price and absorbs the delta in the margin
func (r *Reconstructor) preservePrice(it budget.Item, pc ProviderChange) (budget.Item, error) {
	newCost := money.Round(it.Cost.Add(pc.CostDelta()))
	if !newCost.IsPositive() {
		return budget.Item{}, fmt.Errorf("%w: cost would become %s", errs.ErrInvariantViolation, money.String(newCost))
	}
	ratio := it.Price.Sub(newCost).Div(newCost)
	if ratio.LessThan(r.priceFloor) {
		return budget.Item{}, fmt.Errorf("%w: margin ratio %s below floor %s", errs.ErrInvariantViolation, ratio.StringFixed(4), r.priceFloor.String())
	}
	it.Cost = newCost
	return it, nil
}

// adjustProportionally passes the cost delta through and lets the margin ratio
// absorb 40% of its percentage
func adjustProportionally(it budget.Item, pc ProviderChange) (budget.Item, error) {
	delta := pc.CostDelta()
	if !it.Cost.IsPositive() {
		return budget.Item{}, fmt.Errorf("%w: cost must be positive", errs.ErrInvariantViolation)
	}
	p := delta.Div(it.Cost)
	m := it.Margin().Div(it.Cost)
	adjusted := decimal.Max(m.Sub(marginAbsorption.Mul(p)), decimal.Zero)

	newCost := it.Cost.Add(delta)
	if !newCost.IsPositive() {
		return budget.Item{}, fmt.Errorf("%w: cost would become %s", errs.ErrInvariantViolation, money.String(newCost))
	}
	it.Cost = newCost
	it.Price = newCost.Mul(decimal.NewFromInt(1).Add(adjusted))
	return it, nil
}

// bestAlternative fetches candidates for every item concurrently, then
// scores each item against its own candidates
func (r *Reconstructor) bestAlternative(ctx context.Context, ids []string, items []budget.Item, index map[string]int, changes map[string]ProviderChange) (map[string]ItemChange, error) {
	candidates := make([][]budget.Item, len(ids))
	if r.catalog != nil {
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range ids {
			it := items[index[id]]
			constraints := changes[id].Constraints
			g.Go(func() error {
				found, err := r.catalog.FindCandidates(gctx, it.Category, constraints)
				if err != nil {
					return fmt.Errorf("find candidates for %s: %w", it.ID, err)
				}
				candidates[i] = found
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := make(map[string]ItemChange, len(ids))
	for i, id := range ids {
		before := items[index[id]]
		pc := changes[id]
		ic := ItemChange{ItemID: id, Before: before, After: before}

		original := before
		original.Price = before.Price.Add(pc.PriceDelta())
		pool := usable(original, candidates[i])
		if len(pool) == 0 {
			ic.Note = NoteNoAlternativeFound
			out[id] = ic
			continue
		}

		minPrice := original.Price
		for _, c := range pool {
			if c.Price.LessThan(minPrice) || !minPrice.IsPositive() {
				minPrice = c.Price
			}
		}
		best, bestScore := pool[0], Score(pool[0], minPrice)
		for _, c := range pool[1:] {
			if s := Score(c, minPrice); s > bestScore {
				best, bestScore = c, s
			}
		}
		if bestScore <= Score(original, minPrice) {
			ic.Note = NoteFoundButNotBetter
			out[id] = ic
			continue
		}

		replacement := best
		replacement.ID = before.ID
		replacement.Quantity = before.Quantity
		replacement.Price = money.Round(replacement.Price)
		replacement.Cost = money.Round(replacement.Cost)
		ic.After = replacement
		ic.PriceDelta = replacement.Price.Sub(before.Price)
		ic.CostDelta = replacement.Cost.Sub(before.Cost)
		ic.Note = NoteBetterAlternative
		ic.ReplacementRef = best.ProviderRef
		out[id] = ic
	}
	return out, nil
}

// usable drops candidates that are the original itself or have no price
func usable(original budget.Item, candidates []budget.Item) []budget.Item {
	out := make([]budget.Item, 0, len(candidates))
	for _, c := range candidates {
		if !c.Price.IsPositive() {
			continue
		}
		if original.ProviderRef != "" && c.ProviderRef == original.ProviderRef {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Score rates an item as 0.4*(minPrice/price) + 0.4*(rating/5) + 0.2*availability
func Score(it budget.Item, minPrice decimal.Decimal) float64 {
	var priceScore float64
	if it.Price.IsPositive() && minPrice.IsPositive() {
		priceScore = minPrice.Div(it.Price).InexactFloat64()
	}
	return 0.4*priceScore + 0.4*(it.Rating/5) + 0.2*it.Availability
}

func auditValues(it budget.Item) AuditValues {
	return AuditValues{
		ProviderRef: it.ProviderRef,
		Price:       money.String(it.Price),
		Cost:        money.String(it.Cost),
		Margin:      money.String(it.Margin()),
	}
}
