package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/budgetstore/pkg/change"
)

func sampleSnapshot() change.Snapshot {
	return change.Snapshot{
		"packages": map[string]any{
			"hotel": map[string]any{
				"category": "hotel",
				"price":    "1000.00",
				"cost":     "800.00",
				"rating":   4.5,
			},
			"flight": map[string]any{
				"category": "flight",
				"price":    "400.00",
				"cost":     "350.00",
			},
		},
		"valid_until": "2026-12-01T00:00:00Z",
	}
}

func TestDiffOfIdenticalSnapshotsIsEmpty(t *testing.T) {
	c := NewCalculator()
	d := c.Calculate("b_v1", "b_v1", sampleSnapshot(), sampleSnapshot())

	assert.Empty(t, d.Changes)
	assert.Equal(t, 0, d.Summary.TotalChanges)
	assert.Equal(t, 0, d.Summary.SignificantChanges)
}

func TestDiffDetectsNestedEditsAdditionsAndRemovals(t *testing.T) {
	base := sampleSnapshot()
	target := change.Apply(base,
		change.Change{Field: "packages.hotel.price", OldValue: "1000.00", NewValue: "1100.00"},
		change.Change{Field: "packages.transfer", NewValue: map[string]any{"price": "50.00"}},
		change.Change{Field: "packages.flight", OldValue: map[string]any{}, NewValue: nil},
	)

	c := NewCalculator()
	changes := c.Changes(base, target)
	require.Len(t, changes, 3)

	// Sorted by path
	assert.Equal(t, "packages.flight", changes[0].Field)
	assert.Equal(t, "packages.hotel.price", changes[1].Field)
	assert.Equal(t, "packages.transfer", changes[2].Field)

	assert.Nil(t, changes[0].NewValue)
	assert.Equal(t, "Item removed", changes[0].Reason)
	assert.Equal(t, change.TypePackage, changes[0].Type)

	assert.Equal(t, "1000.00", changes[1].OldValue)
	assert.Equal(t, "1100.00", changes[1].NewValue)
	assert.Equal(t, change.TypePrice, changes[1].Type)

	assert.Nil(t, changes[2].OldValue)
	assert.Equal(t, "Item added", changes[2].Reason)

	for _, ch := range changes {
		assert.Equal(t, SystemAuthor, ch.Author)
		assert.Equal(t, change.StatusPending, ch.Status)
		assert.NotEmpty(t, ch.ID)
	}
}

func TestDiffRoundTrip(t *testing.T) {
	base := sampleSnapshot()
	target := change.Apply(base,
		change.Change{Field: "packages.hotel.cost", OldValue: "800.00", NewValue: "850.00"},
		change.Change{Field: "preferences.seat", NewValue: "window"},
	)

	c := NewCalculator()
	rebuilt := change.Apply(base, c.Changes(base, target)...)
	assert.Empty(t, c.Changes(rebuilt, target))
}

func TestSignificance(t *testing.T) {
	c := NewCalculator()

	cases := []struct {
		name string
		ch   change.Change
		want bool
	}{
		{"price +10%", change.Change{Type: change.TypePrice, OldValue: "1000.00", NewValue: "1100.00"}, true},
		{"price +5% exactly", change.Change{Type: change.TypePrice, OldValue: "1000.00", NewValue: "1050.00"}, false},
		{"price +3%", change.Change{Type: change.TypePrice, OldValue: "1000.00", NewValue: "1030.00"}, false},
		{"price from zero", change.Change{Type: change.TypePrice, OldValue: "0", NewValue: "10.00"}, true},
		{"price added", change.Change{Type: change.TypePrice, OldValue: nil, NewValue: "10.00"}, true},
		{"margin non numeric", change.Change{Type: change.TypeMargin, OldValue: "high", NewValue: "low"}, false},
		{"package always", change.Change{Type: change.TypePackage, OldValue: "a", NewValue: "b"}, true},
		{"rule always", change.Change{Type: change.TypeRule, OldValue: 1.0, NewValue: 2.0}, true},
		{"metadata never", change.Change{Type: change.TypeMetadata, OldValue: 1.0, NewValue: 100.0}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.IsSignificant(tc.ch), tc.name)
	}
}

func TestSummary(t *testing.T) {
	c := NewCalculator()
	changes := []change.Change{
		{Type: change.TypePrice, Field: "packages.hotel.price", OldValue: "1000.00", NewValue: "1200.00"},
		{Type: change.TypePrice, Field: "packages.hotel.cost", OldValue: "800.00", NewValue: "810.00"},
		{Type: change.TypeMetadata, Field: "valid_until", OldValue: "a", NewValue: "b"},
	}

	s := c.Summarize(changes)
	assert.Equal(t, 3, s.TotalChanges)
	assert.Equal(t, 2, s.ChangesByType[change.TypePrice])
	assert.Equal(t, 1, s.ChangesByType[change.TypeMetadata])
	assert.Equal(t, 1, s.SignificantChanges)
	assert.Equal(t, []string{"packages.hotel.price", "packages.hotel.cost", "valid_until"}, s.ModifiedFields)
}

func TestEqualFieldComparesMoneyByAmount(t *testing.T) {
	assert.True(t, EqualField("packages.hotel.price", "1000.00", "1000.0"))
	assert.True(t, EqualField("packages.hotel.cost", "800", 800.0))
	assert.True(t, EqualField("margin_target", "0.20", "0.2"))
	assert.False(t, EqualField("packages.hotel.price", "1000.00", "1000.01"))
	assert.False(t, EqualField("packages.hotel.provider_ref", "00123", "123"))
}

func TestDiffIgnoresMoneyFormatting(t *testing.T) {
	c := NewCalculator()
	target := sampleSnapshot()
	target["packages"].(map[string]any)["hotel"].(map[string]any)["price"] = "1000.0"
	target["packages"].(map[string]any)["flight"].(map[string]any)["cost"] = 350.0

	assert.Empty(t, c.Changes(sampleSnapshot(), target))
}

func TestEqualValues(t *testing.T) {
	assert.True(t, Equal(3.0, 3))
	assert.True(t, Equal("1000.00", "1000.00"))
	assert.False(t, Equal("1000.00", "1000.0"))
	assert.False(t, Equal("00123", "123"))
	assert.True(t, Equal([]any{"a", "b"}, []any{"a", "b"}))
}
