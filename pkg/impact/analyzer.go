// ABOUTME: Impact Analyzer: scores provider-side deltas and recommends a strategy
// ABOUTME: Advisory only; callers may override the recommendation

package impact

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Strategy names a reconstruction strategy; values match reconstruct.Strategy
type Strategy string

const (
	PreserveMargin       Strategy = "preserve_margin"
	PreservePrice        Strategy = "preserve_price"
	AdjustProportionally Strategy = "adjust_proportionally"
	BestAlternative      Strategy = "best_alternative"
)

// Component names used in AffectedComponents
const (
	ComponentPrice        = "price"
	ComponentAvailability = "availability"
	ComponentDates        = "dates"
	ComponentFeatures     = "features"
)

// Severity weights. They sum to 1.
const (
	weightPrice        = 0.6
	weightAvailability = 0.2
	weightDates        = 0.1
	weightFeatures     = 0.1

	// DefaultThreshold is the severity from which a strategy is recommended
	DefaultThreshold = 0.7
)

type PriceDelta struct {
	Percentage float64         `json:"percentage"`
	Difference decimal.Decimal `json:"difference"`
}

type AvailabilityDelta struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

type DatesDelta struct {
	DifferenceDays int `json:"difference_days"`
}

type FeaturesDelta struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Deltas are the provider-side changes detected for one item.
// A nil field means that category did not change.
type Deltas struct {
	Price        *PriceDelta        `json:"price,omitempty"`
	Availability *AvailabilityDelta `json:"availability,omitempty"`
	Dates        *DatesDelta        `json:"dates,omitempty"`
	Features     *FeaturesDelta     `json:"features,omitempty"`
}

// Empty reports whether no category changed
func (d Deltas) Empty() bool {
	return d.Price == nil && d.Availability == nil && d.Dates == nil && d.Features == nil
}

// AnalysisResult is the advisory outcome for one item
type AnalysisResult struct {
	Severity           float64  `json:"severity"`
	AffectedComponents []string `json:"affected_components"`
	PriceImpact        float64  `json:"price_impact"`
	Recommendation     Strategy `json:"recommendation,omitempty"`
	AlternativesNeeded bool     `json:"alternatives_needed"`
}

// Analyzer computes severities. It is stateless and safe for concurrent use.
type Analyzer struct {
	Threshold float64
}

// NewAnalyzer creates an analyzer; a non-positive threshold selects the default
func NewAnalyzer(threshold float64) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Analyzer{Threshold: threshold}
}

// Analyze scores one item's deltas
func (a *Analyzer) Analyze(d Deltas) AnalysisResult {
	res := AnalysisResult{
		Severity:           a.Severity(d),
		AffectedComponents: affected(d),
	}
	if d.Price != nil {
		res.PriceImpact = math.Abs(d.Price.Percentage) / 100
	}
	if res.Severity >= a.Threshold {
		res.Recommendation = recommend(d)
		res.AlternativesNeeded = res.Recommendation == BestAlternative
	}
	return res
}

// Severity returns the weighted score in [0,1]
func (a *Analyzer) Severity(d Deltas) float64 {
	var s float64
	if d.Price != nil {
		s += weightPrice * math.Min(math.Abs(d.Price.Percentage)/10, 1)
	}
	if d.Availability != nil {
		s += weightAvailability
	}
	if d.Dates != nil {
		s += weightDates * math.Min(math.Abs(float64(d.Dates.DifferenceDays))/7, 1)
	}
	if d.Features != nil {
		s += weightFeatures
	}
	return math.Max(0, math.Min(s, 1))
}

func recommend(d Deltas) Strategy {
	if d.Price == nil {
		if d.Empty() {
			return AdjustProportionally
		}
		return PreservePrice
	}
	pct := math.Abs(d.Price.Percentage)
	switch {
	case pct > 20:
		return BestAlternative
	case pct > 10:
		return PreserveMargin
	default:
		return AdjustProportionally
	}
}

func affected(d Deltas) []string {
	out := []string{}
	if d.Price != nil {
		out = append(out, ComponentPrice)
	}
	if d.Availability != nil {
		out = append(out, ComponentAvailability)
	}
	if d.Dates != nil {
		out = append(out, ComponentDates)
	}
	if d.Features != nil {
		out = append(out, ComponentFeatures)
	}
	return out
}

// MostSevere returns the id of the highest-severity result that carries a
// recommendation; ties go to the smallest id
func MostSevere(results map[string]AnalysisResult) (string, bool) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best, found := "", false
	for _, id := range ids {
		r := results[id]
		if r.Recommendation == "" {
			continue
		}
		if !found || r.Severity > results[best].Severity {
			best, found = id, true
		}
	}
	return best, found
}

// DeltasFromChange derives a price delta from a currency difference against the
// item's current price. Existing non-price deltas are kept.
func DeltasFromChange(price, difference decimal.Decimal, d Deltas) Deltas {
	if d.Price != nil || difference.IsZero() {
		return d
	}
	pd := &PriceDelta{Difference: difference}
	if !price.IsZero() {
		pd.Percentage = difference.Div(price).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	d.Price = pd
	return d
}
