// ABOUTME: Version Manager: version and branch lifecycle, ancestor search and merging
// ABOUTME: All writes for one budget are serialized; merges create exactly one version or none

package version

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/diff"
	"github.com/nainya/budgetstore/pkg/errs"
)

// Manager owns the version graph of every budget
type Manager struct {
	store    Store
	differ   *diff.Calculator
	resolver *diff.ConflictResolver
	locks    KeyedMutex
	now      func() time.Time
}

// NewManager creates a manager over a storage port
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		differ:   diff.NewCalculator(),
		resolver: diff.NewConflictResolver(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Store exposes the storage port for read-only callers
func (m *Manager) Store() Store {
	return m.store
}

// CreateVersionRequest describes a new version.
// An empty ParentID means "on top of the branch head" when BranchID is set,
// otherwise "on top of the latest version"; only a budget's first version
// has no parent.
type CreateVersionRequest struct {
	BudgetID    string            `json:"budget_id" validate:"required"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Changes     []change.Change   `json:"changes"`
	ParentID    string            `json:"parent_id"`
	BranchID    string            `json:"branch_id"`
	Author      string            `json:"author" validate:"required"`
	Metadata    map[string]string `json:"metadata"`
}

// CreateVersion allocates the next number for the budget and persists the version
func (m *Manager) CreateVersion(ctx context.Context, req CreateVersionRequest) (*Version, error) {
	if req.BudgetID == "" {
		return nil, fmt.Errorf("%w: budget id is required", errs.ErrInvalidArgument)
	}
	unlock := m.locks.Lock(req.BudgetID)
	defer unlock()

	v, branch, err := m.prepareVersion(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx, v, branch); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Manager) prepareVersion(ctx context.Context, req CreateVersionRequest) (*Version, *Branch, error) {
	versions, err := m.store.GetBudgetVersions(ctx, req.BudgetID)
	if err != nil {
		return nil, nil, err
	}
	number := 1
	for _, v := range versions {
		if v.Number >= number {
			number = v.Number + 1
		}
	}

	parentID := req.ParentID
	var branch *Branch
	if req.BranchID != "" {
		branch, err = m.store.GetBranch(ctx, req.BranchID)
		if err != nil {
			return nil, nil, err
		}
		if branch.BudgetID != req.BudgetID {
			return nil, nil, fmt.Errorf("%w: branch %s belongs to budget %s", errs.ErrInvalidArgument, branch.ID, branch.BudgetID)
		}
		if branch.Status != BranchActive {
			return nil, nil, fmt.Errorf("%w: branch %s is %s", errs.ErrInvariantViolation, branch.ID, branch.Status)
		}
		if parentID == "" {
			parentID = branch.Head()
		}
		branch.VersionIDs = append(branch.VersionIDs, VersionID(req.BudgetID, number))
	}
	if parentID == "" && len(versions) > 0 {
		parentID = versions[len(versions)-1].ID
	}

	if parentID != "" {
		parent, err := m.store.GetVersion(ctx, parentID)
		if err != nil {
			return nil, nil, err
		}
		if parent.BudgetID != req.BudgetID {
			return nil, nil, fmt.Errorf("%w: parent %s belongs to budget %s", errs.ErrInvalidArgument, parentID, parent.BudgetID)
		}
		if parent.Status == StatusDeleted {
			return nil, nil, fmt.Errorf("%w: parent %s is deleted", errs.ErrInvariantViolation, parentID)
		}
	}

	now := m.now()
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Version %d", number)
	}
	v := &Version{
		ID:          VersionID(req.BudgetID, number),
		BudgetID:    req.BudgetID,
		Number:      number,
		ParentID:    parentID,
		Name:        name,
		Description: req.Description,
		Changes:     m.stampChanges(req.Changes, req.Author, now),
		CreatedAt:   now,
		CreatedBy:   req.Author,
		Status:      StatusActive,
		IsBase:      parentID == "",
		Metadata:    req.Metadata,
	}
	return v, branch, nil
}

// stampChanges fills defaults and marks pending changes applied
func (m *Manager) stampChanges(changes []change.Change, author string, now time.Time) []change.Change {
	out := make([]change.Change, len(changes))
	for i, c := range changes {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Type == "" {
			c.Type = change.Classify(c.Field)
		}
		if c.Author == "" {
			c.Author = author
		}
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		if c.Status == "" {
			c.Status = change.StatusPending
		}
		if c.Status == change.StatusPending {
			c, _ = c.Transition(change.StatusApplied)
		}
		out[i] = c
	}
	return out
}

func (m *Manager) persist(ctx context.Context, v *Version, b *Branch) error {
	if b == nil {
		return m.store.SaveVersion(ctx, v)
	}
	if appender, ok := m.store.(BranchAppender); ok {
		return appender.SaveVersionInBranch(ctx, v, b)
	}
	if err := m.store.SaveVersion(ctx, v); err != nil {
		return err
	}
	return m.store.SaveBranch(ctx, b)
}

// CreateBranch records a named branch rooted at an existing version
func (m *Manager) CreateBranch(ctx context.Context, budgetID, name, baseVersionID, author string) (*Branch, error) {
	id := BranchID(budgetID, name)
	if budgetID == "" || id == BranchID(budgetID, "") {
		return nil, fmt.Errorf("%w: budget id and a branch name are required", errs.ErrInvalidArgument)
	}

	unlock := m.locks.Lock(budgetID)
	defer unlock()

	base, err := m.store.GetVersion(ctx, baseVersionID)
	if err != nil {
		return nil, err
	}
	if base.BudgetID != budgetID {
		return nil, fmt.Errorf("%w: version %s belongs to budget %s", errs.ErrInvalidArgument, base.ID, base.BudgetID)
	}
	if _, err := m.store.GetBranch(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: branch %q already exists", errs.ErrInvalidArgument, name)
	}

	b := &Branch{
		ID:            id,
		BudgetID:      budgetID,
		Name:          name,
		BaseVersionID: baseVersionID,
		VersionIDs:    []string{},
		CreatedAt:     m.now(),
		CreatedBy:     author,
		Status:        BranchActive,
	}
	if err := m.store.SaveBranch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// lineage returns the path from id up to its root, id first
func (m *Manager) lineage(ctx context.Context, id string) ([]*Version, error) {
	var path []*Version
	seen := make(map[string]bool)
	for cur := id; cur != ""; {
		if seen[cur] {
			return nil, fmt.Errorf("%w: cycle at version %s", errs.ErrInvariantViolation, cur)
		}
		seen[cur] = true
		v, err := m.store.GetVersion(ctx, cur)
		if err != nil {
			return nil, err
		}
		path = append(path, v)
		cur = v.ParentID
	}
	return path, nil
}

// CommonAncestor returns the highest-numbered version that is an ancestor of
// both a and b (each version counts as its own ancestor)
func (m *Manager) CommonAncestor(ctx context.Context, a, b string) (*Version, error) {
	la, err := m.lineage(ctx, a)
	if err != nil {
		return nil, err
	}
	lb, err := m.lineage(ctx, b)
	if err != nil {
		return nil, err
	}
	if la[0].BudgetID != lb[0].BudgetID {
		return nil, fmt.Errorf("%w: versions %s and %s belong to different budgets", errs.ErrInvalidArgument, a, b)
	}

	inA := make(map[string]bool, len(la))
	for _, v := range la {
		inA[v.ID] = true
	}
	var best *Version
	for _, v := range lb {
		if inA[v.ID] && (best == nil || v.Number > best.Number) {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s and %s", errs.ErrNoCommonAncestor, a, b)
	}
	return best, nil
}

// changesSince collapses the changes made after ancestorID on the way to id
func (m *Manager) changesSince(ctx context.Context, ancestorID, id string) ([]change.Change, error) {
	path, err := m.lineage(ctx, id)
	if err != nil {
		return nil, err
	}
	var collected []change.Change
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].ID == ancestorID {
			collected = collected[:0]
			continue
		}
		collected = append(collected, path[i].Changes...)
	}
	return change.Collapse(collected), nil
}

// Snapshot materializes a version by folding every change from the root
func (m *Manager) Snapshot(ctx context.Context, id string) (change.Snapshot, error) {
	path, err := m.lineage(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := change.Snapshot{}
	for i := len(path) - 1; i >= 0; i-- {
		snap = change.Apply(snap, path[i].Changes...)
	}
	return snap, nil
}

// MergeVersions merges source into target.
// Ours keeps the source's value on conflicts, Theirs the target's; Manual
// aborts on the first conflict without writing anything.
func (m *Manager) MergeVersions(ctx context.Context, sourceID, targetID string, strategy MergeStrategy, author string) (*MergeResult, error) {
	return m.merge(ctx, sourceID, targetID, strategy, author, "")
}

// MergeBranch merges a branch head into target and marks the branch merged
// in the same write
func (m *Manager) MergeBranch(ctx context.Context, branchID, targetID string, strategy MergeStrategy, author string) (*MergeResult, error) {
	return m.merge(ctx, "", targetID, strategy, author, branchID)
}

// merge merges sourceID, or the head of branchID when set, into targetID.
// The branch is read and checked under the budget lock.
func (m *Manager) merge(ctx context.Context, sourceID, targetID string, strategy MergeStrategy, author, branchID string) (*MergeResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown merge strategy %q", errs.ErrInvalidArgument, strategy)
	}
	target, err := m.store.GetVersion(ctx, targetID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(target.BudgetID)
	defer unlock()

	var branch *Branch
	if branchID != "" {
		if branch, err = m.store.GetBranch(ctx, branchID); err != nil {
			return nil, err
		}
		if branch.Status != BranchActive {
			return nil, fmt.Errorf("%w: branch %s is %s", errs.ErrInvariantViolation, branch.ID, branch.Status)
		}
		sourceID = branch.Head()
	}

	ancestor, err := m.CommonAncestor(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	srcChanges, err := m.changesSince(ctx, ancestor.ID, sourceID)
	if err != nil {
		return nil, err
	}
	tgtChanges, err := m.changesSince(ctx, ancestor.ID, targetID)
	if err != nil {
		return nil, err
	}

	srcChanges, tgtChanges = dropSuperseded(srcChanges), dropSuperseded(tgtChanges)
	if err := checkOrphanedEdits(tgtChanges, srcChanges); err != nil {
		return nil, err
	}
	if err := checkOrphanedEdits(srcChanges, tgtChanges); err != nil {
		return nil, err
	}

	// "base" in the resolver's vocabulary is the side being merged into
	conflicts := m.resolver.Detect(tgtChanges, srcChanges)
	result := &MergeResult{
		AncestorID:      ancestor.ID,
		Conflicts:       conflicts,
		ChangesApplied:  []change.Change{},
		ChangesRejected: []change.Change{},
	}
	if len(conflicts) > 0 && strategy == MergeManual {
		return result, nil
	}

	conflicting := make(map[change.Key]bool, len(conflicts))
	for _, c := range conflicts {
		conflicting[change.Key{Type: c.Type, Field: c.Field}] = true
	}

	seen := make(map[change.Key]bool)
	take := func(c change.Change, winner bool) {
		if !conflicting[c.Key()] {
			if seen[c.Key()] {
				return
			}
			seen[c.Key()] = true
			result.ChangesApplied = append(result.ChangesApplied, c)
			return
		}
		if winner {
			result.ChangesApplied = append(result.ChangesApplied, c)
		} else {
			result.ChangesRejected = append(result.ChangesRejected, c)
		}
	}
	for _, c := range tgtChanges {
		take(c, strategy == MergeTheirs)
	}
	for _, c := range srcChanges {
		take(c, strategy == MergeOurs)
	}

	meta := map[string]string{
		MetaMergeSource:   sourceID,
		MetaMergeTarget:   targetID,
		MetaMergeStrategy: string(strategy),
		MetaMergeAncestor: ancestor.ID,
	}
	v, _, err := m.prepareVersion(ctx, CreateVersionRequest{
		BudgetID: target.BudgetID,
		Name:     fmt.Sprintf("Merge %s into %s", sourceID, targetID),
		Changes:  result.ChangesApplied,
		ParentID: targetID,
		Author:   author,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}
	if branch != nil {
		branch.Status = BranchMerged
		if branch.Metadata == nil {
			branch.Metadata = map[string]string{}
		}
		branch.Metadata["merged_into"] = v.ID
	}
	if err := m.persist(ctx, v, branch); err != nil {
		return nil, err
	}

	result.Success = true
	result.MergedVersionID = v.ID
	result.Metadata = meta
	return result, nil
}

// finalRemovals returns the paths a change list ends up removing
func finalRemovals(changes []change.Change) []string {
	var out []string
	for _, c := range change.Collapse(changes) {
		if c.IsRemoval() {
			out = append(out, c.Field)
		}
	}
	return out
}

func under(field, path string) bool {
	return strings.HasPrefix(field, path+".")
}

// dropSuperseded removes edits below a path the same side removes in the end
func dropSuperseded(changes []change.Change) []change.Change {
	removed := finalRemovals(changes)
	if len(removed) == 0 {
		return changes
	}
	out := make([]change.Change, 0, len(changes))
	for _, c := range changes {
		dead := false
		for _, r := range removed {
			if under(c.Field, r) {
				dead = true
				break
			}
		}
		if !dead {
			out = append(out, c)
		}
	}
	return out
}

// checkOrphanedEdits rejects a merge where one side removes a path the other
// side edits below, which would fold back a partial line
func checkOrphanedEdits(removing, editing []change.Change) error {
	for _, r := range finalRemovals(removing) {
		for _, c := range editing {
			if !c.IsRemoval() && under(c.Field, r) {
				return fmt.Errorf("%w: %s is removed on one side and %s is edited on the other",
					errs.ErrInvariantViolation, r, c.Field)
			}
		}
	}
	return nil
}

// CompareVersions diffs two versions through their common ancestor without
// writing anything
func (m *Manager) CompareVersions(ctx context.Context, baseID, targetID string) (*diff.VersionDiff, error) {
	ancestor, err := m.CommonAncestor(ctx, baseID, targetID)
	if err != nil {
		return nil, err
	}
	ancestorState, err := m.Snapshot(ctx, ancestor.ID)
	if err != nil {
		return nil, err
	}
	baseChanges, err := m.changesSince(ctx, ancestor.ID, baseID)
	if err != nil {
		return nil, err
	}
	targetChanges, err := m.changesSince(ctx, ancestor.ID, targetID)
	if err != nil {
		return nil, err
	}

	baseState := change.Apply(ancestorState, baseChanges...)
	targetState := change.Apply(ancestorState, targetChanges...)
	return m.differ.Calculate(baseID, targetID, baseState, targetState), nil
}

// GetVersionGraph returns every version (without changes) and branch of a budget
func (m *Manager) GetVersionGraph(ctx context.Context, budgetID string) (*VersionGraph, error) {
	versions, err := m.store.GetBudgetVersions(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: no versions for budget %s", errs.ErrNotFound, budgetID)
	}
	branches, err := m.store.GetBudgetBranches(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	g := &VersionGraph{
		BudgetID: budgetID,
		Nodes:    make([]GraphNode, 0, len(versions)),
		Edges:    []GraphEdge{},
		Branches: branches,
	}
	for _, v := range versions {
		g.Nodes = append(g.Nodes, GraphNode{
			ID:          v.ID,
			Number:      v.Number,
			Name:        v.Name,
			ParentID:    v.ParentID,
			IsBase:      v.IsBase,
			Status:      v.Status,
			CreatedAt:   v.CreatedAt,
			CreatedBy:   v.CreatedBy,
			ChangeCount: len(v.Changes),
			Metadata:    v.Metadata,
		})
		if v.ParentID != "" {
			g.Edges = append(g.Edges, GraphEdge{Source: v.ParentID, Target: v.ID})
		}
	}
	return g, nil
}
