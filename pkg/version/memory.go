// ABOUTME: In-memory implementation of the version storage port
// ABOUTME: Used by tests and embedders that do not need durability

package version

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/nainya/budgetstore/pkg/errs"
)

// MemoryStore keeps versions and branches in maps
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string]*Version
	branches map[string]*Branch
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string]*Version),
		branches: make(map[string]*Branch),
	}
}

func (m *MemoryStore) SaveVersion(ctx context.Context, v *Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[v.ID] = copyVersion(v)
	return nil
}

func (m *MemoryStore) SaveVersionInBranch(ctx context.Context, v *Version, b *Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[v.ID] = copyVersion(v)
	m.branches[b.ID] = copyBranch(b)
	return nil
}

func (m *MemoryStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: version %s", errs.ErrNotFound, id)
	}
	return copyVersion(v), nil
}

func (m *MemoryStore) GetBudgetVersions(ctx context.Context, budgetID string) ([]*Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Version
	for _, v := range m.versions {
		if v.BudgetID == budgetID {
			out = append(out, copyVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryStore) SaveBranch(ctx context.Context, b *Branch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.ID] = copyBranch(b)
	return nil
}

func (m *MemoryStore) GetBranch(ctx context.Context, id string) (*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branches[id]
	if !ok {
		return nil, fmt.Errorf("%w: branch %s", errs.ErrNotFound, id)
	}
	return copyBranch(b), nil
}

func (m *MemoryStore) GetBudgetBranches(ctx context.Context, budgetID string) ([]*Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Branch
	for _, b := range m.branches {
		if b.BudgetID == budgetID {
			out = append(out, copyBranch(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func copyVersion(v *Version) *Version {
	c := *v
	c.Changes = slices.Clone(v.Changes)
	return &c
}

func copyBranch(b *Branch) *Branch {
	c := *b
	c.VersionIDs = slices.Clone(b.VersionIDs)
	return &c
}
