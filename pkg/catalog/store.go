// ABOUTME: Candidate catalog over the KV store, indexed by category and attributes
// ABOUTME: Serves Best-Alternative searches and alternative suggestions

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/storage"
)

// Prefixes for catalog storage
const (
	PREFIX_CATALOG_ITEM      = uint32(7000) // (itemID) -> entry
	PREFIX_CATALOG_CATEGORY  = uint32(7100) // Index by (category, itemID)
	PREFIX_CATALOG_ATTRIBUTE = uint32(7200) // Index by (key, value, category, itemID)
)

// Entry is a catalog item plus bookkeeping
type Entry struct {
	Item      budget.Item `json:"item"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store manages offerable items
type Store struct {
	kv  *storage.KV
	now func() time.Time
}

// NewStore creates a new catalog store
func NewStore(kv *storage.KV) *Store {
	return &Store{kv: kv, now: func() time.Time { return time.Now().UTC() }}
}

// Put stores or replaces an item and rewrites its index entries
func (s *Store) Put(ctx context.Context, it budget.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.ID == "" || it.Category == "" {
		return fmt.Errorf("%w: catalog item needs an id and a category", errs.ErrInvalidArgument)
	}

	tx := s.kv.Begin()
	now := s.now()
	entry := Entry{Item: it, CreatedAt: now, UpdatedAt: now}

	// Drop indexes of the previous revision
	if prev, ok := tx.Get(itemKey(it.ID)); ok {
		var old Entry
		if err := json.Unmarshal(prev, &old); err == nil {
			deleteIndexes(tx, old.Item)
			entry.CreatedAt = old.CreatedAt
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		tx.Abort()
		return fmt.Errorf("encode catalog item %s: %w", it.ID, err)
	}
	tx.Set(itemKey(it.ID), data)
	tx.Set(categoryKey(it.Category, it.ID), []byte{})
	for k, v := range it.Attributes {
		tx.Set(attributeKey(k, v, it.Category, it.ID), []byte{})
	}
	return tx.Commit()
}

// Get retrieves a catalog item
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok, err := s.kv.Get(itemKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: catalog item %s", errs.ErrNotFound, id)
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("decode catalog item %s: %w", id, err)
	}
	return &e, nil
}

// Delete removes an item and its index entries
func (s *Store) Delete(ctx context.Context, id string) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	tx := s.kv.Begin()
	tx.Del(itemKey(id))
	deleteIndexes(tx, e.Item)
	return tx.Commit()
}

// ListCategory returns the ids in a category ordered by id
func (s *Store) ListCategory(ctx context.Context, category string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_CATALOG_CATEGORY, []storage.Value{
		storage.NewStringValue(category),
	})

	ids := []string{}
	err := s.kv.ScanPrefix(prefix, func(key, val []byte) bool {
		if limit > 0 && len(ids) >= limit {
			return false
		}
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 2 {
			return true
		}
		ids = append(ids, vals[1].String())
		return true
	})
	return ids, err
}

// QueryByAttribute returns ids in a category carrying key=value, ordered by id
func (s *Store) QueryByAttribute(ctx context.Context, key, value, category string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_CATALOG_ATTRIBUTE, []storage.Value{
		storage.NewStringValue(key),
		storage.NewStringValue(value),
		storage.NewStringValue(category),
	})

	ids := []string{}
	err := s.kv.ScanPrefix(prefix, func(k, val []byte) bool {
		vals, err := storage.ExtractValues(k)
		if err != nil || len(vals) < 4 {
			return true
		}
		ids = append(ids, vals[3].String())
		return true
	})
	return ids, err
}

// FindCandidates returns the items of a category whose attributes match every
// constraint. The most selective lookup is the index scan on the first
// constraint key; the rest are checked on the loaded items.
func (s *Store) FindCandidates(ctx context.Context, category string, constraints map[string]string) ([]budget.Item, error) {
	var (
		ids []string
		err error
	)
	if len(constraints) == 0 {
		ids, err = s.ListCategory(ctx, category, 0)
	} else {
		keys := make([]string, 0, len(constraints))
		for k := range constraints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ids, err = s.QueryByAttribute(ctx, keys[0], constraints[keys[0]], category)
	}
	if err != nil {
		return nil, err
	}

	items := make([]budget.Item, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if matches(e.Item, constraints) {
			items = append(items, e.Item)
		}
	}
	return items, nil
}

func matches(it budget.Item, constraints map[string]string) bool {
	for k, v := range constraints {
		if it.Attributes[k] != v {
			return false
		}
	}
	return true
}

func deleteIndexes(tx *storage.KVTX, it budget.Item) {
	tx.Del(categoryKey(it.Category, it.ID))
	for k, v := range it.Attributes {
		tx.Del(attributeKey(k, v, it.Category, it.ID))
	}
}

func itemKey(id string) []byte {
	return storage.EncodeKey(PREFIX_CATALOG_ITEM, []storage.Value{storage.NewStringValue(id)})
}

func categoryKey(category, id string) []byte {
	return storage.EncodeKey(PREFIX_CATALOG_CATEGORY, []storage.Value{
		storage.NewStringValue(category),
		storage.NewStringValue(id),
	})
}

func attributeKey(key, value, category, id string) []byte {
	return storage.EncodeKey(PREFIX_CATALOG_ATTRIBUTE, []storage.Value{
		storage.NewStringValue(key),
		storage.NewStringValue(value),
		storage.NewStringValue(category),
		storage.NewStringValue(id),
	})
}
