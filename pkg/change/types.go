// ABOUTME: Change model shared by diffing, merging and reconstruction
// ABOUTME: A Change is one field edit addressed by a dotted path into a snapshot

package change

import (
	"fmt"
	"strings"
	"time"

	"github.com/nainya/budgetstore/pkg/errs"
)

// Type classifies what kind of budget data a change touches
type Type string

const (
	TypePrice      Type = "price"
	TypePackage    Type = "package"
	TypeMargin     Type = "margin"
	TypeDiscount   Type = "discount"
	TypeRule       Type = "rule"
	TypePreference Type = "preference"
	TypeMetadata   Type = "metadata"
)

// Status is the lifecycle state of a change
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusReverted Status = "reverted"
)

// Change is an immutable record of one field edit.
// NewValue == nil with OldValue != nil means the key was removed.
type Change struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Field     string            `json:"field"`
	OldValue  any               `json:"old_value"`
	NewValue  any               `json:"new_value"`
	Timestamp time.Time         `json:"timestamp"`
	Status    Status            `json:"status"`
	Author    string            `json:"author"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Key identifies the (type, field) slot a change writes to
type Key struct {
	Type  Type
	Field string
}

// Key returns the slot this change writes to
func (c Change) Key() Key {
	return Key{Type: c.Type, Field: c.Field}
}

// IsRemoval reports whether the change deletes its field
func (c Change) IsRemoval() bool {
	return c.NewValue == nil && c.OldValue != nil
}

// Transition returns a copy of the change in the new status.
// pending -> applied|rejected, applied -> reverted.
func (c Change) Transition(to Status) (Change, error) {
	ok := false
	switch c.Status {
	case StatusPending:
		ok = to == StatusApplied || to == StatusRejected
	case StatusApplied:
		ok = to == StatusReverted
	}
	if !ok {
		return c, fmt.Errorf("%w: change %s cannot go from %s to %s", errs.ErrInvariantViolation, c.ID, c.Status, to)
	}
	c.Status = to
	return c, nil
}

// Classify maps a field path to a change type by keyword.
// Order matters: "package.price" is a price change.
func Classify(field string) Type {
	f := strings.ToLower(field)
	switch {
	case strings.Contains(f, "price") || strings.Contains(f, "cost"):
		return TypePrice
	case strings.Contains(f, "package") || strings.Contains(f, "service"):
		return TypePackage
	case strings.Contains(f, "margin"):
		return TypeMargin
	case strings.Contains(f, "discount"):
		return TypeDiscount
	case strings.Contains(f, "rule"):
		return TypeRule
	case strings.Contains(f, "preference"):
		return TypePreference
	default:
		return TypeMetadata
	}
}

// Collapse keeps the last change per (type, field), in first-seen order
func Collapse(changes []Change) []Change {
	idx := make(map[Key]int, len(changes))
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if i, ok := idx[c.Key()]; ok {
			out[i] = c
			continue
		}
		idx[c.Key()] = len(out)
		out = append(out, c)
	}
	return out
}
