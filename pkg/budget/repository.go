// ABOUTME: KV repository for budget headers
// ABOUTME: Versions and items are not stored here; they come from the version graph

package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/storage"
)

// Prefixes for budget storage
const (
	PREFIX_BUDGET        = uint32(5000) // (budgetID) -> header
	PREFIX_BUDGET_CLIENT = uint32(5100) // Index by (clientID, budgetID)
)

// header is the persisted part of a Budget
type header struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id"`
	ClientName     string    `json:"client_name"`
	CurrentVersion int       `json:"current_version"`
	ValidUntil     time.Time `json:"valid_until"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Repository persists budget headers
type Repository struct {
	kv *storage.KV
}

// NewRepository creates a repository over the KV store
func NewRepository(kv *storage.KV) *Repository {
	return &Repository{kv: kv}
}

// Save creates or replaces a budget header and keeps the client index in step
func (r *Repository) Save(ctx context.Context, b *Budget) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.ID == "" {
		return fmt.Errorf("%w: budget id is required", errs.ErrInvalidArgument)
	}

	h := header{
		ID:             b.ID,
		ClientID:       b.ClientID,
		ClientName:     b.ClientName,
		CurrentVersion: b.CurrentVersion,
		ValidUntil:     b.ValidUntil,
		Status:         b.Status,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode budget %s: %w", b.ID, err)
	}

	tx := r.kv.Begin()
	if prev, ok := tx.Get(budgetKey(b.ID)); ok {
		var old header
		if err := json.Unmarshal(prev, &old); err == nil && old.ClientID != h.ClientID {
			tx.Del(clientKey(old.ClientID, b.ID))
		}
	}
	tx.Set(budgetKey(b.ID), data)
	tx.Set(clientKey(h.ClientID, b.ID), []byte{})
	return tx.Commit()
}

// Get loads a budget header; Versions and Items are left empty
func (r *Repository) Get(ctx context.Context, id string) (*Budget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, ok, err := r.kv.Get(budgetKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: budget %s", errs.ErrNotFound, id)
	}

	var h header
	if err := json.Unmarshal(val, &h); err != nil {
		return nil, fmt.Errorf("decode budget %s: %w", id, err)
	}
	return &Budget{
		ID:             h.ID,
		ClientID:       h.ClientID,
		ClientName:     h.ClientName,
		CurrentVersion: h.CurrentVersion,
		ValidUntil:     h.ValidUntil,
		Status:         h.Status,
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
	}, nil
}

// ListByClient returns a client's budgets ordered by id
func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]*Budget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := storage.EncodeKey(PREFIX_BUDGET_CLIENT, []storage.Value{
		storage.NewStringValue(clientID),
	})

	var ids []string
	err := r.kv.ScanPrefix(prefix, func(key, val []byte) bool {
		vals, err := storage.ExtractValues(key)
		if err != nil || len(vals) < 2 {
			return true
		}
		ids = append(ids, vals[1].String())
		return true
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Budget, 0, len(ids))
	for _, id := range ids {
		b, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func budgetKey(id string) []byte {
	return storage.EncodeKey(PREFIX_BUDGET, []storage.Value{storage.NewStringValue(id)})
}

func clientKey(clientID, budgetID string) []byte {
	return storage.EncodeKey(PREFIX_BUDGET_CLIENT, []storage.Value{
		storage.NewStringValue(clientID),
		storage.NewStringValue(budgetID),
	})
}
