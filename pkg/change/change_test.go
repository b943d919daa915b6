package change

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/budgetstore/pkg/errs"
)

func TestClassify(t *testing.T) {
	cases := map[string]Type{
		"packages.hotel.price":  TypePrice,
		"packages.hotel.cost":   TypePrice,
		"packages.hotel":        TypePackage,
		"services.transfer":     TypePackage,
		"margin_target":         TypeMargin,
		"discount.early_bird":   TypeDiscount,
		"rules.min_nights":      TypeRule,
		"preferences.seat":      TypePreference,
		"valid_until":           TypeMetadata,
		"packages.hotel.name":   TypePackage,
		"packages.flight.Price": TypePrice,
	}
	for field, want := range cases {
		assert.Equal(t, want, Classify(field), field)
	}
}

func TestTransition(t *testing.T) {
	c := Change{ID: "c1", Status: StatusPending}

	applied, err := c.Transition(StatusApplied)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, applied.Status)
	assert.Equal(t, StatusPending, c.Status, "original must not change")

	reverted, err := applied.Transition(StatusReverted)
	require.NoError(t, err)
	assert.Equal(t, StatusReverted, reverted.Status)

	_, err = reverted.Transition(StatusApplied)
	assert.True(t, errors.Is(err, errs.ErrInvariantViolation))

	_, err = c.Transition(StatusReverted)
	assert.Error(t, err)
}

func TestCollapseKeepsLastPerKey(t *testing.T) {
	changes := []Change{
		{ID: "1", Type: TypePrice, Field: "packages.h.price", NewValue: "100.00"},
		{ID: "2", Type: TypeMetadata, Field: "valid_until", NewValue: "x"},
		{ID: "3", Type: TypePrice, Field: "packages.h.price", NewValue: "120.00"},
	}

	out := Collapse(changes)
	require.Len(t, out, 2)
	assert.Equal(t, "3", out[0].ID)
	assert.Equal(t, "2", out[1].ID)
}

func TestApplyFoldsPathsOnACopy(t *testing.T) {
	base := Snapshot{
		"packages": map[string]any{
			"hotel": map[string]any{"price": "1000.00", "cost": "800.00"},
		},
	}

	out := Apply(base,
		Change{Field: "packages.hotel.price", OldValue: "1000.00", NewValue: "1100.00"},
		Change{Field: "packages.flight.price", NewValue: "300.00"},
		Change{Field: "packages.hotel.cost", OldValue: "800.00", NewValue: nil},
	)

	v, ok := Lookup(out, "packages.hotel.price")
	require.True(t, ok)
	assert.Equal(t, "1100.00", v)

	v, ok = Lookup(out, "packages.flight.price")
	require.True(t, ok)
	assert.Equal(t, "300.00", v)

	_, ok = Lookup(out, "packages.hotel.cost")
	assert.False(t, ok, "removal should delete the key")

	v, _ = Lookup(base, "packages.hotel.price")
	assert.Equal(t, "1000.00", v, "base snapshot must be untouched")
	_, ok = Lookup(base, "packages.hotel.cost")
	assert.True(t, ok)
}
