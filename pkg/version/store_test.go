// ABOUTME: Tests for version persistence
// ABOUTME: Runs the same storage contract against the KV and in-memory stores

package version

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/storage"
)

func setupTestVersionStore(t *testing.T) (*KVStore, *storage.KV, string) {
	path := "/tmp/test_versionstore_" + t.Name()
	os.RemoveAll(path)
	kv := &storage.KV{Path: path}
	if err := kv.Open(); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	return NewKVStore(kv), kv, path
}

func testStores(t *testing.T) map[string]Store {
	vs, kv, path := setupTestVersionStore(t)
	t.Cleanup(func() {
		kv.Close()
		os.RemoveAll(path)
	})
	return map[string]Store{
		"kv":     vs,
		"memory": NewMemoryStore(),
	}
}

func TestSaveAndGetVersion(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		v := &Version{
			ID:        VersionID("budget1", 1),
			BudgetID:  "budget1",
			Number:    1,
			Name:      "Initial",
			CreatedAt: time.Now().UTC(),
			CreatedBy: "seller1",
			Status:    StatusActive,
			IsBase:    true,
			Changes: []change.Change{
				{ID: "c1", Type: change.TypePrice, Field: "packages.hotel.price", NewValue: "1000.00"},
			},
			Metadata: map[string]string{"source": "import"},
		}

		if err := store.SaveVersion(ctx, v); err != nil {
			t.Fatalf("%s: Failed to save version: %v", name, err)
		}

		got, err := store.GetVersion(ctx, "budget1_v1")
		if err != nil {
			t.Fatalf("%s: Failed to get version: %v", name, err)
		}
		if got.Name != "Initial" {
			t.Errorf("%s: Expected Initial, got %s", name, got.Name)
		}
		if len(got.Changes) != 1 || got.Changes[0].NewValue != "1000.00" {
			t.Errorf("%s: Expected one price change, got %+v", name, got.Changes)
		}
		if got.Metadata["source"] != "import" {
			t.Errorf("%s: Expected metadata source=import, got %s", name, got.Metadata["source"])
		}
		if !got.IsBase {
			t.Errorf("%s: Expected base version", name)
		}
	}
}

func TestGetVersionNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		_, err := store.GetVersion(ctx, "nope_v1")
		if !errors.Is(err, errs.ErrNotFound) {
			t.Errorf("%s: Expected ErrNotFound, got %v", name, err)
		}
		_, err = store.GetBranch(ctx, "nope_b_x")
		if !errors.Is(err, errs.ErrNotFound) {
			t.Errorf("%s: Expected ErrNotFound for branch, got %v", name, err)
		}
	}
}

func TestGetBudgetVersionsOrderedByNumber(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		// Saved out of order, and a neighbouring budget whose id shares a prefix
		for _, n := range []int{3, 1, 10, 2} {
			v := &Version{ID: VersionID("b1", n), BudgetID: "b1", Number: n, Status: StatusActive}
			if err := store.SaveVersion(ctx, v); err != nil {
				t.Fatalf("%s: Failed to save: %v", name, err)
			}
		}
		if err := store.SaveVersion(ctx, &Version{ID: VersionID("b10", 1), BudgetID: "b10", Number: 1}); err != nil {
			t.Fatalf("%s: Failed to save: %v", name, err)
		}

		versions, err := store.GetBudgetVersions(ctx, "b1")
		if err != nil {
			t.Fatalf("%s: Failed to list: %v", name, err)
		}
		expected := []int{1, 2, 3, 10}
		if len(versions) != len(expected) {
			t.Fatalf("%s: Expected %d versions, got %d", name, len(expected), len(versions))
		}
		for i, n := range expected {
			if versions[i].Number != n {
				t.Errorf("%s: Position %d: expected %d, got %d", name, i, n, versions[i].Number)
			}
		}
	}
}

func TestGetLatestVersion(t *testing.T) {
	vs, kv, path := setupTestVersionStore(t)
	defer os.RemoveAll(path)
	defer kv.Close()
	ctx := context.Background()

	for _, n := range []int{1, 3, 2} {
		if err := vs.SaveVersion(ctx, &Version{ID: VersionID("b1", n), BudgetID: "b1", Number: n}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	latest, err := vs.GetLatestVersion(ctx, "b1")
	if err != nil {
		t.Fatalf("Failed to get latest: %v", err)
	}
	if latest.Number != 3 {
		t.Errorf("Expected latest number 3, got %d", latest.Number)
	}

	if _, err := vs.GetLatestVersion(ctx, "other"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown budget, got %v", err)
	}
}

func TestBranchesPerBudget(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		for _, bn := range []string{"summer", "autumn"} {
			b := &Branch{ID: BranchID("b1", bn), BudgetID: "b1", Name: bn, BaseVersionID: "b1_v1", Status: BranchActive}
			if err := store.SaveBranch(ctx, b); err != nil {
				t.Fatalf("%s: Failed to save branch: %v", name, err)
			}
		}

		branches, err := store.GetBudgetBranches(ctx, "b1")
		if err != nil {
			t.Fatalf("%s: Failed to list branches: %v", name, err)
		}
		if len(branches) != 2 {
			t.Fatalf("%s: Expected 2 branches, got %d", name, len(branches))
		}
		if branches[0].Name != "autumn" {
			t.Errorf("%s: Expected autumn first, got %s", name, branches[0].Name)
		}
	}
}

func TestSaveVersionInBranchIsAtomic(t *testing.T) {
	vs, kv, path := setupTestVersionStore(t)
	defer os.RemoveAll(path)
	defer kv.Close()
	ctx := context.Background()

	b := &Branch{ID: "b1_b_x", BudgetID: "b1", Name: "x", BaseVersionID: "b1_v1", VersionIDs: []string{"b1_v2"}}
	v := &Version{ID: "b1_v2", BudgetID: "b1", Number: 2, ParentID: "b1_v1"}
	if err := vs.SaveVersionInBranch(ctx, v, b); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := vs.GetBranch(ctx, "b1_b_x")
	if err != nil {
		t.Fatalf("Failed to get branch: %v", err)
	}
	if got.Head() != "b1_v2" {
		t.Errorf("Expected head b1_v2, got %s", got.Head())
	}
	if _, err := vs.GetVersion(ctx, "b1_v2"); err != nil {
		t.Errorf("Expected version saved with branch: %v", err)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, store := range testStores(t) {
		if err := store.SaveVersion(ctx, &Version{ID: "x_v1", BudgetID: "x", Number: 1}); !errors.Is(err, context.Canceled) {
			t.Errorf("%s: Expected context.Canceled, got %v", name, err)
		}
	}
}

func removeAll(path string) {
	os.RemoveAll(path)
}
