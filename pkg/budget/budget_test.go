package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/money"
	"github.com/nainya/budgetstore/pkg/storage"
	"github.com/nainya/budgetstore/pkg/version"
)

func hotel() Item {
	return Item{
		ID:           "hotel",
		ProviderRef:  "prov-42",
		Category:     "hotel",
		Name:         "Sea View",
		Price:        money.MustParse("1000"),
		Cost:         money.MustParse("800"),
		Quantity:     2,
		Rating:       4.5,
		Availability: 0.9,
		Attributes:   map[string]string{"city": "Lisbon"},
	}
}

func TestItemMargin(t *testing.T) {
	it := hotel()
	assert.True(t, it.Margin().Equal(money.MustParse("200")))

	ratio, ok := it.MarginRatio()
	require.True(t, ok)
	assert.True(t, ratio.Equal(money.MustParse("0.25")))

	it.Cost = money.MustParse("0")
	_, ok = it.MarginRatio()
	assert.False(t, ok)
}

func TestStatusTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := &Budget{ID: "B1", Status: StatusDraft}

	require.NoError(t, b.Transition(StatusPending, now))
	require.NoError(t, b.Transition(StatusRejected, now))
	require.NoError(t, b.Transition(StatusDraft, now))
	assert.Equal(t, now, b.UpdatedAt)

	err := b.Transition(StatusApproved, now)
	assert.ErrorIs(t, err, errs.ErrInvariantViolation)
	assert.Equal(t, StatusDraft, b.Status)

	require.NoError(t, b.Transition(StatusExpired, now))
	assert.ErrorIs(t, b.Transition(StatusDraft, now), errs.ErrInvariantViolation)
	assert.ErrorIs(t, b.Transition("archived", now), errs.ErrInvalidArgument)
}

func TestCurrent(t *testing.T) {
	b := &Budget{
		ID:             "B1",
		CurrentVersion: 2,
		Versions: []*version.Version{
			{ID: "B1_v1", Number: 1, Status: version.StatusActive},
			{ID: "B1_v2", Number: 2, Status: version.StatusActive},
		},
	}
	v, err := b.Current()
	require.NoError(t, err)
	assert.Equal(t, "B1_v2", v.ID)

	b.CurrentVersion = 3
	_, err = b.Current()
	assert.ErrorIs(t, err, errs.ErrNotFound)

	b.CurrentVersion = 2
	b.Versions[1].Status = version.StatusDeleted
	_, err = b.Current()
	assert.ErrorIs(t, err, errs.ErrInvariantViolation)
}

func TestCheckComplete(t *testing.T) {
	b := &Budget{ID: "B1"}
	assert.ErrorIs(t, b.CheckComplete(), errs.ErrInvariantViolation)

	b.Items = []Item{hotel()}
	assert.NoError(t, b.CheckComplete())

	b.Items[0].Cost = money.MustParse("0")
	assert.ErrorIs(t, b.CheckComplete(), errs.ErrInvariantViolation)
}

func TestSnapshotRoundTrip(t *testing.T) {
	validUntil := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	flight := Item{ID: "flight", Category: "flight", Price: money.MustParse("300.5"), Cost: money.MustParse("250"), Quantity: 1}

	snap := ToSnapshot([]Item{hotel(), flight}, validUntil)
	price, ok := change.Lookup(snap, FieldPath("hotel", "price"))
	require.True(t, ok)
	assert.Equal(t, "1000.00", price)

	items, vu, err := FromSnapshot(snap)
	require.NoError(t, err)
	assert.True(t, vu.Equal(validUntil))
	require.Len(t, items, 2)
	assert.Equal(t, "flight", items[0].ID)
	assert.True(t, items[0].Price.Equal(money.MustParse("300.50")))
	assert.Equal(t, hotel().Attributes, items[1].Attributes)
	assert.Equal(t, 2, items[1].Quantity)
	assert.Equal(t, 4.5, items[1].Rating)
}

func TestLineChangesFoldIntoSnapshot(t *testing.T) {
	validUntil := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	changes := LineChanges([]Item{hotel()}, validUntil)
	require.Len(t, changes, 2)
	assert.Equal(t, change.TypePackage, changes[0].Type)

	folded := change.Apply(change.Snapshot{}, changes...)
	assert.Equal(t, ToSnapshot([]Item{hotel()}, validUntil), folded)

	// Field-level edits land inside the line
	folded = change.Apply(folded, change.Change{Field: FieldPath("hotel", "price"), NewValue: "1100.00"})
	items, _, err := FromSnapshot(folded)
	require.NoError(t, err)
	assert.True(t, items[0].Price.Equal(money.MustParse("1100")))
}

func TestFromSnapshotRejectsBadMoney(t *testing.T) {
	snap := change.Snapshot{KeyPackages: map[string]any{
		"hotel": map[string]any{"price": "a lot"},
	}}
	_, _, err := FromSnapshot(snap)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func setupTestRepository(t *testing.T) *Repository {
	kv := &storage.KV{InMemory: true}
	require.NoError(t, kv.Open())
	t.Cleanup(func() { kv.Close() })
	return NewRepository(kv)
}

func TestRepositorySaveGet(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	b := &Budget{
		ID:             "B1",
		ClientID:       "C1",
		ClientName:     "Ana",
		CurrentVersion: 1,
		Items:          []Item{hotel()},
		Status:         StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repo.Save(ctx, b))

	got, err := repo.Get(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.ClientName)
	assert.Equal(t, 1, got.CurrentVersion)
	assert.True(t, got.CreatedAt.Equal(now))
	assert.Empty(t, got.Items, "items are materialized from versions, not stored")

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRepositoryClientIndex(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	for _, id := range []string{"B2", "B1", "B3"} {
		require.NoError(t, repo.Save(ctx, &Budget{ID: id, ClientID: "C1", Status: StatusDraft}))
	}
	require.NoError(t, repo.Save(ctx, &Budget{ID: "B9", ClientID: "C10", Status: StatusDraft}))

	list, err := repo.ListByClient(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "B1", list[0].ID)
	assert.Equal(t, "B3", list[2].ID)

	// Moving a budget to another client drops the old index entry
	require.NoError(t, repo.Save(ctx, &Budget{ID: "B2", ClientID: "C2", Status: StatusDraft}))
	list, err = repo.ListByClient(ctx, "C1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
