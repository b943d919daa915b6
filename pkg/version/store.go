// ABOUTME: Version storage port and its KV implementation
// ABOUTME: Versions are keyed by id with a (budget, number) index and a latest pointer per budget

package version

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/storage"
)

// Store is the persistence port the manager depends on
type Store interface {
	SaveVersion(ctx context.Context, v *Version) error
	GetVersion(ctx context.Context, id string) (*Version, error)
	// GetBudgetVersions returns versions ordered by number
	GetBudgetVersions(ctx context.Context, budgetID string) ([]*Version, error)
	SaveBranch(ctx context.Context, b *Branch) error
	GetBranch(ctx context.Context, id string) (*Branch, error)
	GetBudgetBranches(ctx context.Context, budgetID string) ([]*Branch, error)
}

// BranchAppender is implemented by stores that can save a version and the
// branch it extends in one atomic write
type BranchAppender interface {
	SaveVersionInBranch(ctx context.Context, v *Version, b *Branch) error
}

// Prefixes for version storage
const (
	PREFIX_VERSION        = uint32(6000) // (versionID) -> version
	PREFIX_VERSION_NUMBER = uint32(6100) // Index by (budgetID, number, versionID)
	PREFIX_LATEST_VERSION = uint32(6200) // Track latest version per budget
	PREFIX_BRANCH         = uint32(6300) // (branchID) -> branch
	PREFIX_BRANCH_BUDGET  = uint32(6400) // Index by (budgetID, name, branchID)
)

// KVStore persists versions and branches in the ordered KV store
type KVStore struct {
	kv *storage.KV
}

// NewKVStore creates a new version store
func NewKVStore(kv *storage.KV) *KVStore {
	return &KVStore{kv: kv}
}

// SaveVersion stores a new version
func (vs *KVStore) SaveVersion(ctx context.Context, v *Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := vs.kv.Begin()
	if err := vs.putVersion(tx, v); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// SaveVersionInBranch stores a version and the updated branch atomically
func (vs *KVStore) SaveVersionInBranch(ctx context.Context, v *Version, b *Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := vs.kv.Begin()
	if err := vs.putVersion(tx, v); err != nil {
		tx.Abort()
		return err
	}
	if err := vs.putBranch(tx, b); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

func (vs *KVStore) putVersion(tx *storage.KVTX, v *Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version %s: %w", v.ID, err)
	}

	tx.Set(versionKey(v.ID), data)

	// Number index: (budgetID, number, versionID)
	tx.Set(storage.EncodeKey(PREFIX_VERSION_NUMBER, []storage.Value{
		storage.NewStringValue(v.BudgetID),
		storage.NewInt64Value(int64(v.Number)),
		storage.NewStringValue(v.ID),
	}), []byte{})

	// Latest pointer only moves forward
	latestKey := storage.EncodeKey(PREFIX_LATEST_VERSION, []storage.Value{
		storage.NewStringValue(v.BudgetID),
	})
	if cur, ok := tx.Get(latestKey); ok {
		latest, err := vs.decodeVersionIn(tx, string(cur))
		if err == nil && latest.Number > v.Number {
			return nil
		}
	}
	tx.Set(latestKey, []byte(v.ID))
	return nil
}

func (vs *KVStore) decodeVersionIn(tx *storage.KVTX, id string) (*Version, error) {
	val, ok := tx.Get(versionKey(id))
	if !ok {
		return nil, fmt.Errorf("%w: version %s", errs.ErrNotFound, id)
	}
	var v Version
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVersion retrieves a specific version
func (vs *KVStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok, err := vs.kv.Get(versionKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: version %s", errs.ErrNotFound, id)
	}

	var v Version
	if err := json.Unmarshal(val, &v); err != nil {
		return nil, fmt.Errorf("decode version %s: %w", id, err)
	}
	return &v, nil
}

// GetLatestVersion returns the highest-numbered version of a budget
func (vs *KVStore) GetLatestVersion(ctx context.Context, budgetID string) (*Version, error) {
	latestKey := storage.EncodeKey(PREFIX_LATEST_VERSION, []storage.Value{
		storage.NewStringValue(budgetID),
	})

	id, ok, err := vs.kv.Get(latestKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no versions for budget %s", errs.ErrNotFound, budgetID)
	}
	return vs.GetVersion(ctx, string(id))
}

// GetBudgetVersions returns all versions for a budget, ordered by number
func (vs *KVStore) GetBudgetVersions(ctx context.Context, budgetID string) ([]*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_VERSION_NUMBER, []storage.Value{
		storage.NewStringValue(budgetID),
	})

	var ids []string
	err := vs.kv.ScanPrefix(prefix, func(key, val []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 3 {
			return true
		}
		ids = append(ids, vals[2].String())
		return true
	})
	if err != nil {
		return nil, err
	}

	versions := make([]*Version, 0, len(ids))
	for _, id := range ids {
		v, err := vs.GetVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// SaveBranch stores or replaces a branch
func (vs *KVStore) SaveBranch(ctx context.Context, b *Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := vs.kv.Begin()
	if err := vs.putBranch(tx, b); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

func (vs *KVStore) putBranch(tx *storage.KVTX, b *Branch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode branch %s: %w", b.ID, err)
	}
	tx.Set(branchKey(b.ID), data)

	// Budget index: (budgetID, name, branchID)
	tx.Set(storage.EncodeKey(PREFIX_BRANCH_BUDGET, []storage.Value{
		storage.NewStringValue(b.BudgetID),
		storage.NewStringValue(b.Name),
		storage.NewStringValue(b.ID),
	}), []byte{})
	return nil
}

// GetBranch retrieves a branch by id
func (vs *KVStore) GetBranch(ctx context.Context, id string) (*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok, err := vs.kv.Get(branchKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", errs.ErrNotFound, id)
	}

	var b Branch
	if err := json.Unmarshal(val, &b); err != nil {
		return nil, fmt.Errorf("decode branch %s: %w", id, err)
	}
	return &b, nil
}

// GetBudgetBranches returns a budget's branches ordered by name
func (vs *KVStore) GetBudgetBranches(ctx context.Context, budgetID string) ([]*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_BRANCH_BUDGET, []storage.Value{
		storage.NewStringValue(budgetID),
	})

	var ids []string
	err := vs.kv.ScanPrefix(prefix, func(key, val []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 3 {
			return true
		}
		ids = append(ids, vals[2].String())
		return true
	})
	if err != nil {
		return nil, err
	}

	branches := make([]*Branch, 0, len(ids))
	for _, id := range ids {
		b, err := vs.GetBranch(ctx, id)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, nil
}

func versionKey(id string) []byte {
	return storage.EncodeKey(PREFIX_VERSION, []storage.Value{storage.NewStringValue(id)})
}

func branchKey(id string) []byte {
	return storage.EncodeKey(PREFIX_BRANCH, []storage.Value{storage.NewStringValue(id)})
}
