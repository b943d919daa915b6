package engine

import (
	"context"
	"time"

	"github.com/nainya/budgetstore/pkg/diff"
	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/version"
)

// MergeRequest merges one version (or branch head) into a target version
type MergeRequest struct {
	SourceID string                `json:"source_id" validate:"required_without=BranchID"`
	BranchID string                `json:"branch_id"`
	TargetID string                `json:"target_id" validate:"required"`
	Strategy version.MergeStrategy `json:"strategy" validate:"required"`
	Author   string                `json:"author" validate:"required"`
}

type mergeEntry struct {
	SourceID        string                `json:"source_id"`
	BranchID        string                `json:"branch_id,omitempty"`
	TargetID        string                `json:"target_id"`
	Strategy        version.MergeStrategy `json:"strategy"`
	MergedVersionID string                `json:"merged_version_id"`
	AncestorID      string                `json:"ancestor_id"`
	Conflicts       int                   `json:"conflicts"`
	Applied         int                   `json:"applied"`
	Rejected        int                   `json:"rejected"`
}

// CreateVersion records a raw version. A version outside any branch becomes
// the budget's current version.
func (e *Engine) CreateVersion(ctx context.Context, req version.CreateVersionRequest) (*version.Version, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(req.BudgetID)
	defer unlock()

	b, err := e.budgets.Get(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	v, err := e.versions.CreateVersion(ctx, req)
	e.metrics.RecordVersionOperation("create", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if req.BranchID == "" {
		if err := e.advance(ctx, b, v); err != nil {
			return nil, err
		}
	}
	e.record(journal.KindVersion, b.ID, newVersionEntry(v))
	return v, nil
}

// CreateBranch starts a named branch of an existing budget
func (e *Engine) CreateBranch(ctx context.Context, budgetID, name, baseVersionID, author string) (*version.Branch, error) {
	if _, err := e.budgets.Get(ctx, budgetID); err != nil {
		return nil, err
	}
	start := time.Now()
	br, err := e.versions.CreateBranch(ctx, budgetID, name, baseVersionID, author)
	e.metrics.RecordVersionOperation("branch", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	e.log.VersionLogger(budgetID).Info("Branch created").
		Str("branch_id", br.ID).
		Str("base_version_id", br.BaseVersionID).
		Send()
	return br, nil
}

// MergeVersions merges SourceID (or the head of BranchID) into TargetID.
// When the target was the current version the merged version becomes current.
func (e *Engine) MergeVersions(ctx context.Context, req MergeRequest) (*version.MergeResult, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	target, err := e.versions.Store().GetVersion(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(target.BudgetID)
	defer unlock()

	b, err := e.budgets.Get(ctx, target.BudgetID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var res *version.MergeResult
	if req.BranchID != "" {
		res, err = e.versions.MergeBranch(ctx, req.BranchID, req.TargetID, req.Strategy, req.Author)
	} else {
		res, err = e.versions.MergeVersions(ctx, req.SourceID, req.TargetID, req.Strategy, req.Author)
	}
	e.metrics.RecordVersionOperation("merge", err, time.Since(start))
	source := req.SourceID
	if source == "" {
		source = req.BranchID
	}
	if err != nil {
		e.log.LogMerge(source, req.TargetID, string(req.Strategy), 0, "", err)
		return nil, err
	}
	e.metrics.MergeConflictsTotal.Add(float64(len(res.Conflicts)))
	e.log.LogMerge(source, req.TargetID, string(req.Strategy), len(res.Conflicts), res.MergedVersionID, nil)

	if !res.Success {
		return res, nil
	}
	merged, err := e.versions.Store().GetVersion(ctx, res.MergedVersionID)
	if err != nil {
		return nil, err
	}
	if version.VersionID(b.ID, b.CurrentVersion) == req.TargetID {
		if err := e.advance(ctx, b, merged); err != nil {
			return nil, err
		}
	}
	e.record(journal.KindMerge, b.ID, mergeEntry{
		SourceID:        req.SourceID,
		BranchID:        req.BranchID,
		TargetID:        req.TargetID,
		Strategy:        req.Strategy,
		MergedVersionID: res.MergedVersionID,
		AncestorID:      res.AncestorID,
		Conflicts:       len(res.Conflicts),
		Applied:         len(res.ChangesApplied),
		Rejected:        len(res.ChangesRejected),
	})
	return res, nil
}

// MergeBranch merges a branch head into target
func (e *Engine) MergeBranch(ctx context.Context, branchID, targetID string, strategy version.MergeStrategy, author string) (*version.MergeResult, error) {
	return e.MergeVersions(ctx, MergeRequest{
		BranchID: branchID,
		TargetID: targetID,
		Strategy: strategy,
		Author:   author,
	})
}

// CompareVersions diffs two versions of the same budget
func (e *Engine) CompareVersions(ctx context.Context, baseID, targetID string) (*diff.VersionDiff, error) {
	start := time.Now()
	d, err := e.versions.CompareVersions(ctx, baseID, targetID)
	e.metrics.RecordVersionOperation("compare", err, time.Since(start))
	return d, err
}

// GetVersionGraph returns the budget's version graph
func (e *Engine) GetVersionGraph(ctx context.Context, budgetID string) (*version.VersionGraph, error) {
	start := time.Now()
	g, err := e.versions.GetVersionGraph(ctx, budgetID)
	e.metrics.RecordVersionOperation("graph", err, time.Since(start))
	return g, err
}
