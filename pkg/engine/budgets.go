package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/version"
)

// CreateBudgetRequest opens a new quote. An empty ID gets a generated one.
type CreateBudgetRequest struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"client_id" validate:"required"`
	ClientName string        `json:"client_name"`
	Items      []budget.Item `json:"items" validate:"dive"`
	ValidUntil time.Time     `json:"valid_until"`
	Author     string        `json:"author" validate:"required"`
}

// ApplyChangesRequest records direct edits on top of the current version
type ApplyChangesRequest struct {
	BudgetID string          `json:"budget_id" validate:"required"`
	Name     string          `json:"name"`
	Changes  []change.Change `json:"changes" validate:"required,min=1"`
	Author   string          `json:"author" validate:"required"`
}

// TransitionRequest moves a budget through its commercial lifecycle
type TransitionRequest struct {
	BudgetID string        `json:"budget_id" validate:"required"`
	Status   budget.Status `json:"status" validate:"required"`
	Author   string        `json:"author" validate:"required"`
}

type versionEntry struct {
	VersionID string `json:"version_id"`
	Number    int    `json:"number"`
	ParentID  string `json:"parent_id,omitempty"`
	Name      string `json:"name"`
	Author    string `json:"author"`
	Changes   int    `json:"changes"`
}

type transitionEntry struct {
	From   budget.Status `json:"from"`
	To     budget.Status `json:"to"`
	Author string        `json:"author"`
}

func newVersionEntry(v *version.Version) versionEntry {
	return versionEntry{
		VersionID: v.ID,
		Number:    v.Number,
		ParentID:  v.ParentID,
		Name:      v.Name,
		Author:    v.CreatedBy,
		Changes:   len(v.Changes),
	}
}

// CreateBudget stores a new draft budget whose base version adds every line
func (e *Engine) CreateBudget(ctx context.Context, req CreateBudgetRequest) (*budget.Budget, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	if err := checkItems(req.Items); err != nil {
		return nil, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	if _, err := e.budgets.Get(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: budget %s already exists", errs.ErrInvalidArgument, id)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	start := time.Now()
	base, err := e.versions.CreateVersion(ctx, version.CreateVersionRequest{
		BudgetID: id,
		Name:     "Initial version",
		Changes:  budget.LineChanges(req.Items, req.ValidUntil),
		Author:   req.Author,
	})
	e.metrics.RecordVersionOperation("create", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	now := e.now()
	b := &budget.Budget{
		ID:             id,
		ClientID:       req.ClientID,
		ClientName:     req.ClientName,
		CurrentVersion: base.Number,
		ValidUntil:     req.ValidUntil,
		Status:         budget.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.budgets.Save(ctx, b); err != nil {
		return nil, err
	}
	e.record(journal.KindVersion, id, newVersionEntry(base))
	e.log.VersionLogger(id).Info("Budget created").
		Str("client_id", req.ClientID).
		Int("items", len(req.Items)).
		Send()

	return e.load(ctx, id)
}

// GetBudget returns the budget with its version list and current items
func (e *Engine) GetBudget(ctx context.Context, id string) (*budget.Budget, error) {
	return e.load(ctx, id)
}

// ListClientBudgets returns the headers of a client's budgets
func (e *Engine) ListClientBudgets(ctx context.Context, clientID string) ([]*budget.Budget, error) {
	return e.budgets.ListByClient(ctx, clientID)
}

// ApplyChanges records seller edits as a new version on top of the current one
// and makes it current. Missing old values are filled from the current state.
func (e *Engine) ApplyChanges(ctx context.Context, req ApplyChangesRequest) (*version.Version, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	for _, c := range req.Changes {
		if c.Field == "" {
			return nil, fmt.Errorf("%w: change without a field", errs.ErrInvalidArgument)
		}
	}

	unlock := e.locks.Lock(req.BudgetID)
	defer unlock()

	b, err := e.load(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}
	current, err := b.Current()
	if err != nil {
		return nil, err
	}
	state, err := e.versions.Snapshot(ctx, current.ID)
	if err != nil {
		return nil, err
	}

	changes := make([]change.Change, len(req.Changes))
	for i, c := range req.Changes {
		if c.OldValue == nil {
			c.OldValue, _ = change.Lookup(state, c.Field)
		}
		changes[i] = c
	}
	// the edited state must still materialize into valid lines
	if _, _, err := budget.FromSnapshot(change.Apply(state, changes...)); err != nil {
		return nil, err
	}

	start := time.Now()
	v, err := e.versions.CreateVersion(ctx, version.CreateVersionRequest{
		BudgetID: b.ID,
		Name:     req.Name,
		Changes:  changes,
		ParentID: current.ID,
		Author:   req.Author,
	})
	e.metrics.RecordVersionOperation("create", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if err := e.advance(ctx, b, v); err != nil {
		return nil, err
	}
	e.record(journal.KindVersion, b.ID, newVersionEntry(v))
	return v, nil
}

// TransitionBudget changes a budget's status
func (e *Engine) TransitionBudget(ctx context.Context, req TransitionRequest) (*budget.Budget, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(req.BudgetID)
	defer unlock()

	b, err := e.budgets.Get(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}
	from := b.Status
	if err := b.Transition(req.Status, e.now()); err != nil {
		return nil, err
	}
	if err := e.budgets.Save(ctx, b); err != nil {
		return nil, err
	}
	e.record(journal.KindTransition, b.ID, transitionEntry{From: from, To: req.Status, Author: req.Author})
	e.log.VersionLogger(b.ID).Info("Budget status changed").
		Str("from", string(from)).
		Str("to", string(req.Status)).
		Send()

	return e.load(ctx, b.ID)
}

func checkItems(items []budget.Item) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.ID] {
			return fmt.Errorf("%w: duplicate item %s", errs.ErrInvalidArgument, it.ID)
		}
		seen[it.ID] = true
		if it.Price.IsNegative() || it.Cost.IsNegative() {
			return fmt.Errorf("%w: item %s has a negative amount", errs.ErrInvalidArgument, it.ID)
		}
	}
	return nil
}
