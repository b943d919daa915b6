// ABOUTME: Types for budget reconstruction after provider-side changes
// ABOUTME: Strategies are a closed set dispatched by an exhaustive switch

package reconstruct

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/errs"
)

// Strategy selects which invariant a reconstruction preserves
type Strategy string

const (
	PreserveMargin       Strategy = "preserve_margin"
	PreservePrice        Strategy = "preserve_price"
	AdjustProportionally Strategy = "adjust_proportionally"
	BestAlternative      Strategy = "best_alternative"
)

// Strategies lists every strategy in a stable order
var Strategies = []Strategy{PreserveMargin, PreservePrice, AdjustProportionally, BestAlternative}

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown strategy %q", errs.ErrInvalidArgument, s)
}

// ProviderChange is what the provider feed reports for one item.
// A zero PriceChange falls back to CostChange and vice versa, so a feed that
// only knows "the provider price moved by X" drives every strategy.
type ProviderChange struct {
	PriceChange decimal.Decimal   `json:"price_change"`
	CostChange  decimal.Decimal   `json:"cost_change"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// PriceDelta is the price movement, falling back to CostChange
func (pc ProviderChange) PriceDelta() decimal.Decimal {
	if pc.PriceChange.IsZero() {
		return pc.CostChange
	}
	return pc.PriceChange
}

// CostDelta is the cost movement, falling back to PriceChange
func (pc ProviderChange) CostDelta() decimal.Decimal {
	if pc.CostChange.IsZero() {
		return pc.PriceChange
	}
	return pc.CostChange
}

// Catalog finds replacement candidates for Best-Alternative
type Catalog interface {
	FindCandidates(ctx context.Context, category string, constraints map[string]string) ([]budget.Item, error)
}

// Ledger notes for Best-Alternative
const (
	NoteBetterAlternative  = "better_alternative"
	NoteFoundButNotBetter  = "alternative_found_but_not_better"
	NoteNoAlternativeFound = "no_alternative_found"
	NoteRepriced           = "repriced"
)

// ItemChange is the ledger entry for one item
type ItemChange struct {
	ItemID         string          `json:"item_id"`
	Before         budget.Item     `json:"before"`
	After          budget.Item     `json:"after"`
	PriceDelta     decimal.Decimal `json:"price_delta"`
	CostDelta      decimal.Decimal `json:"cost_delta"`
	Note           string          `json:"note"`
	ReplacementRef string          `json:"replacement_ref,omitempty"`
}

// AuditValues are the money fields an audit record captures
type AuditValues struct {
	ProviderRef string `json:"provider_ref"`
	Price       string `json:"price"`
	Cost        string `json:"cost"`
	Margin      string `json:"margin"`
}

// AuditRecord is one entry of a budget's reconstruction metadata
type AuditRecord struct {
	Strategy  Strategy    `json:"strategy"`
	ItemID    string      `json:"item_id"`
	Before    AuditValues `json:"before"`
	After     AuditValues `json:"after"`
	Note      string      `json:"note,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Result is a successful reconstruction. Items is the complete new item set.
type Result struct {
	Strategy Strategy              `json:"strategy"`
	Items    []budget.Item         `json:"items"`
	Ledger   map[string]ItemChange `json:"ledger"`
	Audit    []AuditRecord         `json:"audit"`
}
