package reconstruct

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/errs"
)

// MaxSuggestions caps SuggestAlternatives
const MaxSuggestions = 5

// similarity is computed in points out of 100
const minSimilarityPoints = 70

// Suggestion is a catalog item similar to a budget line
type Suggestion struct {
	Item            budget.Item     `json:"item"`
	Similarity      float64         `json:"similarity"`
	PriceDifference decimal.Decimal `json:"price_difference"`
}

// SuggestAlternatives lists up to limit catalog items similar to it, most
// similar first and, among equals, closest in price
func (r *Reconstructor) SuggestAlternatives(ctx context.Context, it budget.Item, limit int) ([]Suggestion, error) {
	if limit <= 0 || limit > MaxSuggestions {
		limit = MaxSuggestions
	}
	if !it.Price.IsPositive() {
		return nil, fmt.Errorf("%w: item %s has no price to compare against", errs.ErrInvalidArgument, it.ID)
	}
	if r.catalog == nil {
		return []Suggestion{}, nil
	}

	candidates, err := r.catalog.FindCandidates(ctx, it.Category, nil)
	if err != nil {
		return nil, fmt.Errorf("find candidates for %s: %w", it.ID, err)
	}

	out := []Suggestion{}
	for _, c := range usable(it, candidates) {
		points := similarityPoints(it, c)
		if points < minSimilarityPoints {
			continue
		}
		out = append(out, Suggestion{
			Item:            c,
			Similarity:      float64(points) / 100,
			PriceDifference: c.Price.Sub(it.Price),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].PriceDifference.Abs().LessThan(out[j].PriceDifference.Abs())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func similarityPoints(it, c budget.Item) int {
	points := 0
	if c.Category == it.Category {
		points += 30
	}

	diff := c.Price.Sub(it.Price).Abs().Div(it.Price)
	switch {
	case diff.LessThanOrEqual(decimal.NewFromFloat(0.05)):
		points += 30
	case diff.LessThanOrEqual(decimal.NewFromFloat(0.10)):
		points += 21
	case diff.LessThanOrEqual(decimal.NewFromFloat(0.15)):
		points += 12
	}

	if math.Abs(c.Rating-it.Rating) <= 0.5 {
		points += 20
	}
	if c.Availability >= it.Availability {
		points += 20
	}
	return points
}
