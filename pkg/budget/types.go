// ABOUTME: Budget aggregate and its package lines
// ABOUTME: Margin is always derived from price and cost, never stored

package budget

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/version"
)

// Status is the commercial state of a quote
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusPending, StatusExpired},
	StatusPending:  {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved: {StatusExpired},
	StatusRejected: {StatusDraft, StatusExpired},
}

// CanTransition reports whether a budget may move from one status to another
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Item is one package line of a quote
type Item struct {
	ID           string            `json:"id" validate:"required"`
	ProviderRef  string            `json:"provider_ref"`
	Category     string            `json:"category"`
	Name         string            `json:"name"`
	Price        decimal.Decimal   `json:"price"`
	Cost         decimal.Decimal   `json:"cost"`
	Quantity     int               `json:"quantity"`
	Rating       float64           `json:"rating"`
	Availability float64           `json:"availability"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Margin returns price minus cost
func (it Item) Margin() decimal.Decimal {
	return it.Price.Sub(it.Cost)
}

// MarginRatio returns (price-cost)/cost; ok is false for a zero cost
func (it Item) MarginRatio() (decimal.Decimal, bool) {
	if it.Cost.IsZero() {
		return decimal.Zero, false
	}
	return it.Margin().Div(it.Cost), true
}

// Budget is the aggregate root: a client quote tracked as a version history
type Budget struct {
	ID             string             `json:"id"`
	ClientID       string             `json:"client_id"`
	ClientName     string             `json:"client_name"`
	CurrentVersion int                `json:"current_version"`
	Versions       []*version.Version `json:"versions,omitempty"`
	Items          []Item             `json:"items"`
	ValidUntil     time.Time          `json:"valid_until"`
	Status         Status             `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Current returns the version current_version points at
func (b *Budget) Current() (*version.Version, error) {
	idx := b.CurrentVersion - 1
	if idx < 0 || idx >= len(b.Versions) {
		return nil, fmt.Errorf("%w: budget %s has no version %d", errs.ErrNotFound, b.ID, b.CurrentVersion)
	}
	v := b.Versions[idx]
	if v.Number != b.CurrentVersion {
		return nil, fmt.Errorf("%w: budget %s version list out of order at %d", errs.ErrInvariantViolation, b.ID, b.CurrentVersion)
	}
	if v.Status == version.StatusDeleted {
		return nil, fmt.Errorf("%w: current version %s is deleted", errs.ErrInvariantViolation, v.ID)
	}
	return v, nil
}

// Transition moves the budget to a new status
func (b *Budget) Transition(to Status, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", errs.ErrInvalidArgument, to)
	}
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: budget %s cannot go from %s to %s", errs.ErrInvariantViolation, b.ID, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// Expired reports whether the quote's validity window has passed
func (b *Budget) Expired(now time.Time) bool {
	return !b.ValidUntil.IsZero() && now.After(b.ValidUntil)
}

// Item looks up a package line by id
func (b *Budget) Item(id string) (Item, bool) {
	for _, it := range b.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// CheckComplete verifies every line can be repriced
func (b *Budget) CheckComplete() error {
	if len(b.Items) == 0 {
		return fmt.Errorf("%w: budget %s has no items", errs.ErrInvariantViolation, b.ID)
	}
	for _, it := range b.Items {
		if !it.Price.IsPositive() || !it.Cost.IsPositive() {
			return fmt.Errorf("%w: item %s needs a positive price and cost", errs.ErrInvariantViolation, it.ID)
		}
	}
	return nil
}
