package diff

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
)

func priceChange(id, field string, oldV, newV any) change.Change {
	return change.Change{ID: id, Type: change.TypePrice, Field: field, OldValue: oldV, NewValue: newV}
}

func TestDetectConflictOnSameField(t *testing.T) {
	r := NewConflictResolver()
	base := []change.Change{priceChange("a", "price", "1000.00", "1100.00")}
	branch := []change.Change{priceChange("b", "price", "1000.00", "1050.00")}

	conflicts := r.Detect(base, branch)
	require.Len(t, conflicts, 1)

	c := conflicts[0]
	assert.Equal(t, "price", c.Field)
	assert.Equal(t, "1100.00", c.BaseValue)
	assert.Equal(t, "1050.00", c.BranchValue)
	require.Len(t, c.Options, 3)
	assert.Equal(t, ResolveBase, c.Options[0].Strategy)
	assert.Equal(t, ResolveBranch, c.Options[1].Strategy)
	assert.Equal(t, ResolveAverage, c.Options[2].Strategy)
	assert.Equal(t, "1075.00", c.Options[2].Value)
}

func TestDetectUsesLatestChangePerKey(t *testing.T) {
	r := NewConflictResolver()
	base := []change.Change{
		priceChange("a1", "price", "1000.00", "1100.00"),
		priceChange("a2", "price", "1100.00", "1050.00"),
	}
	branch := []change.Change{priceChange("b", "price", "1000.00", "1050.00")}

	assert.Empty(t, r.Detect(base, branch), "same final value is not a conflict")
}

func TestDetectComparesPricesByAmount(t *testing.T) {
	r := NewConflictResolver()
	base := []change.Change{priceChange("a", "packages.hotel.price", "1000.00", "1100.00")}
	branch := []change.Change{priceChange("b", "packages.hotel.price", "1000.00", "1100.0")}

	assert.Empty(t, r.Detect(base, branch))
}

func TestDetectIgnoresDisjointFields(t *testing.T) {
	r := NewConflictResolver()
	base := []change.Change{priceChange("a", "packages.hotel.price", "1", "2")}
	branch := []change.Change{priceChange("b", "packages.flight.price", "1", "3")}

	assert.Empty(t, r.Detect(base, branch))
}

func TestNoAverageForNonNumericValues(t *testing.T) {
	r := NewConflictResolver()
	base := []change.Change{{ID: "a", Type: change.TypePreference, Field: "preferences.seat", NewValue: "window"}}
	branch := []change.Change{{ID: "b", Type: change.TypePreference, Field: "preferences.seat", NewValue: "aisle"}}

	conflicts := r.Detect(base, branch)
	require.Len(t, conflicts, 1)
	assert.Len(t, conflicts[0].Options, 2)

	_, err := r.Resolve(conflicts[0], ResolveAverage)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestResolve(t *testing.T) {
	r := NewConflictResolver()
	conflicts := r.Detect(
		[]change.Change{priceChange("a", "price", 1000.0, 1100.0)},
		[]change.Change{priceChange("b", "price", 1000.0, 1000.5)},
	)
	require.Len(t, conflicts, 1)

	got, err := r.Resolve(conflicts[0], ResolveBase)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	got, err = r.Resolve(conflicts[0], ResolveBranch)
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	got, err = r.Resolve(conflicts[0], ResolveAverage)
	require.NoError(t, err)
	assert.Equal(t, 1050.25, got.NewValue)
}
