// ABOUTME: Diff calculator over nested budget snapshots
// ABOUTME: Emits one Change per differing leaf path, sorted by path, with significance scoring

package diff

import (
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/money"
)

// SystemAuthor is recorded on changes the calculator detects
const SystemAuthor = "system"

// DefaultSignificance is the relative move that makes a price or margin change significant
var DefaultSignificance = decimal.NewFromFloat(0.05)

// Calculator computes structural diffs between snapshots
type Calculator struct {
	Significance decimal.Decimal

	now   func() time.Time
	newID func() string
}

// NewCalculator creates a calculator with the default 5% significance threshold
func NewCalculator() *Calculator {
	return &Calculator{
		Significance: DefaultSignificance,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// Calculate diffs two snapshots and summarizes the result
func (c *Calculator) Calculate(baseID, targetID string, base, target change.Snapshot) *VersionDiff {
	changes := c.Changes(base, target)
	return &VersionDiff{
		BaseVersionID:   baseID,
		TargetVersionID: targetID,
		Changes:         changes,
		Summary:         c.Summarize(changes),
	}
}

// Changes returns the change list turning base into target, sorted by field
func (c *Calculator) Changes(base, target change.Snapshot) []change.Change {
	ts := c.now()
	var out []change.Change
	c.walk("", base, target, ts, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func (c *Calculator) walk(prefix string, base, target map[string]any, ts time.Time, out *[]change.Change) {
	for key, oldVal := range base {
		path := join(prefix, key)
		newVal, ok := target[key]
		if !ok {
			*out = append(*out, c.newChange(path, oldVal, nil, "Item removed", ts))
			continue
		}
		oldMap, oldIsMap := oldVal.(map[string]any)
		newMap, newIsMap := newVal.(map[string]any)
		if oldIsMap && newIsMap {
			c.walk(path, oldMap, newMap, ts, out)
			continue
		}
		if !EqualField(path, oldVal, newVal) {
			*out = append(*out, c.newChange(path, oldVal, newVal, "Automatic diff detection", ts))
		}
	}
	for key, newVal := range target {
		if _, ok := base[key]; !ok {
			*out = append(*out, c.newChange(join(prefix, key), nil, newVal, "Item added", ts))
		}
	}
}

func (c *Calculator) newChange(field string, oldVal, newVal any, reason string, ts time.Time) change.Change {
	return change.Change{
		ID:        c.newID(),
		Type:      change.Classify(field),
		Field:     field,
		OldValue:  oldVal,
		NewValue:  newVal,
		Timestamp: ts,
		Status:    change.StatusPending,
		Author:    SystemAuthor,
		Reason:    reason,
	}
}

// Summarize counts changes by type and significance
func (c *Calculator) Summarize(changes []change.Change) Summary {
	s := Summary{
		TotalChanges:   len(changes),
		ChangesByType:  make(map[change.Type]int),
		ModifiedFields: make([]string, 0, len(changes)),
	}
	seen := make(map[string]bool, len(changes))
	for _, ch := range changes {
		s.ChangesByType[ch.Type]++
		if c.IsSignificant(ch) {
			s.SignificantChanges++
		}
		if !seen[ch.Field] {
			seen[ch.Field] = true
			s.ModifiedFields = append(s.ModifiedFields, ch.Field)
		}
	}
	return s
}

// IsSignificant applies the per-type significance rule.
// Price and margin moves count when they exceed the threshold relative to
// the old value; package and rule changes always count.
func (c *Calculator) IsSignificant(ch change.Change) bool {
	switch ch.Type {
	case change.TypePackage, change.TypeRule:
		return true
	case change.TypePrice, change.TypeMargin:
	default:
		return false
	}

	if ch.OldValue == nil {
		return true
	}
	oldD, ok := money.Parse(ch.OldValue)
	if !ok {
		return false
	}
	if ch.NewValue == nil {
		return true
	}
	newD, ok := money.Parse(ch.NewValue)
	if !ok {
		return false
	}
	ratio, ok := money.RelativeChange(oldD, newD)
	if !ok {
		return !newD.IsZero()
	}
	return ratio.GreaterThan(c.Significance)
}

// Equal compares snapshot values. Non-string numbers compare by amount so
// a float64 and an int holding 3 are equal; strings compare exactly.
func Equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if _, ok := a.(string); ok {
		return false
	}
	if _, ok := b.(string); ok {
		return false
	}
	da, okA := money.Parse(a)
	db, okB := money.Parse(b)
	return okA && okB && da.Equal(db)
}

// EqualField compares two values of field. Price, cost and margin fields
// compare by amount whenever both sides parse as decimals, so "1000.0" and
// "1000.00" are the same price.
func EqualField(field string, a, b any) bool {
	if Equal(a, b) {
		return true
	}
	switch change.Classify(field) {
	case change.TypePrice, change.TypeMargin:
		da, okA := money.Parse(a)
		db, okB := money.Parse(b)
		return okA && okB && da.Equal(db)
	}
	return false
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
