// ABOUTME: Mapping between package lines and the folded snapshot versions carry
// ABOUTME: Money is stored as fixed two-place strings so folding never touches floats

package budget

import (
	"fmt"
	"sort"
	"time"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/money"
)

// Snapshot keys
const (
	KeyPackages   = "packages"
	KeyValidUntil = "valid_until"
)

// LinePath returns the dotted path of a package line
func LinePath(itemID string) string {
	return KeyPackages + "." + itemID
}

// FieldPath returns the dotted path of one field of a package line
func FieldPath(itemID, field string) string {
	return LinePath(itemID) + "." + field
}

// ItemValue renders a line the way it is stored in a snapshot
func ItemValue(it Item) map[string]any {
	attrs := make(map[string]any, len(it.Attributes))
	for k, v := range it.Attributes {
		attrs[k] = v
	}
	return map[string]any{
		"provider_ref": it.ProviderRef,
		"category":     it.Category,
		"name":         it.Name,
		"price":        money.String(money.Round(it.Price)),
		"cost":         money.String(money.Round(it.Cost)),
		"quantity":     float64(it.Quantity),
		"rating":       it.Rating,
		"availability": it.Availability,
		"attributes":   attrs,
	}
}

// ToSnapshot renders a full budget state
func ToSnapshot(items []Item, validUntil time.Time) change.Snapshot {
	packages := make(map[string]any, len(items))
	for _, it := range items {
		packages[it.ID] = ItemValue(it)
	}
	s := change.Snapshot{KeyPackages: packages}
	if !validUntil.IsZero() {
		s[KeyValidUntil] = validUntil.UTC().Format(time.RFC3339)
	}
	return s
}

// LineChanges builds the changes that create every line from scratch
func LineChanges(items []Item, validUntil time.Time) []change.Change {
	out := make([]change.Change, 0, len(items)+1)
	for _, it := range items {
		path := LinePath(it.ID)
		out = append(out, change.Change{
			Type:     change.Classify(path),
			Field:    path,
			NewValue: ItemValue(it),
			Reason:   "Item added",
		})
	}
	if !validUntil.IsZero() {
		out = append(out, change.Change{
			Type:     change.Classify(KeyValidUntil),
			Field:    KeyValidUntil,
			NewValue: validUntil.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// FromSnapshot materializes package lines ordered by id, plus the validity date
func FromSnapshot(s change.Snapshot) ([]Item, time.Time, error) {
	var validUntil time.Time
	if raw, ok := s[KeyValidUntil].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: valid_until %q: %v", errs.ErrInvalidArgument, raw, err)
		}
		validUntil = t
	}

	packages, _ := s[KeyPackages].(map[string]any)
	items := make([]Item, 0, len(packages))
	for id, raw := range packages {
		line, ok := raw.(map[string]any)
		if !ok {
			return nil, time.Time{}, fmt.Errorf("%w: package %s is not an object", errs.ErrInvalidArgument, id)
		}
		it, err := itemFromValue(id, line)
		if err != nil {
			return nil, time.Time{}, err
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, validUntil, nil
}

func itemFromValue(id string, line map[string]any) (Item, error) {
	it := Item{ID: id}
	it.ProviderRef, _ = line["provider_ref"].(string)
	it.Category, _ = line["category"].(string)
	it.Name, _ = line["name"].(string)

	var ok bool
	if it.Price, ok = money.Parse(line["price"]); !ok && line["price"] != nil {
		return Item{}, fmt.Errorf("%w: package %s price %v", errs.ErrInvalidArgument, id, line["price"])
	}
	if it.Cost, ok = money.Parse(line["cost"]); !ok && line["cost"] != nil {
		return Item{}, fmt.Errorf("%w: package %s cost %v", errs.ErrInvalidArgument, id, line["cost"])
	}
	if q, ok := money.Parse(line["quantity"]); ok {
		it.Quantity = int(q.IntPart())
	}
	if r, ok := money.Parse(line["rating"]); ok {
		it.Rating = r.InexactFloat64()
	}
	if a, ok := money.Parse(line["availability"]); ok {
		it.Availability = a.InexactFloat64()
	}
	if attrs, ok := line["attributes"].(map[string]any); ok && len(attrs) > 0 {
		it.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			it.Attributes[k] = fmt.Sprint(v)
		}
	}
	return it, nil
}
