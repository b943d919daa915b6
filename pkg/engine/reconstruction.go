package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/impact"
	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/money"
	"github.com/nainya/budgetstore/pkg/reconstruct"
	"github.com/nainya/budgetstore/pkg/version"
)

// Version metadata written by reconstructions
const (
	MetaStrategy    = "reconstruction_strategy"
	MetaSeverity    = "severity"
	MetaAudit       = "reconstruction_audit"
	MetaHeldChanges = "held_changes"
)

// AnalyzeRequest carries provider-side changes for some items of a budget.
// Deltas add the non-price categories; a price delta is derived from Changes
// when Deltas has none.
type AnalyzeRequest struct {
	BudgetID string                                `json:"budget_id" validate:"required"`
	Changes  map[string]reconstruct.ProviderChange `json:"changes"`
	Deltas   map[string]impact.Deltas              `json:"deltas"`
}

// ReconstructRequest rebuilds a budget after provider changes.
// An empty Strategy follows the analyzer's recommendation.
type ReconstructRequest struct {
	BudgetID string                                `json:"budget_id" validate:"required"`
	Changes  map[string]reconstruct.ProviderChange `json:"changes" validate:"required,min=1"`
	Deltas   map[string]impact.Deltas              `json:"deltas"`
	Strategy string                                `json:"strategy"`
	Author   string                                `json:"author" validate:"required"`
}

// ReconstructResponse reports a reconstruction. Version is nil when every
// change was held or nothing changed.
type ReconstructResponse struct {
	BudgetID string                            `json:"budget_id"`
	Strategy reconstruct.Strategy              `json:"strategy"`
	Severity float64                           `json:"severity"`
	Analysis map[string]impact.AnalysisResult  `json:"analysis"`
	Version  *version.Version                  `json:"version,omitempty"`
	Applied  []change.Change                   `json:"applied"`
	Held     []change.Change                   `json:"held"`
	Ledger   map[string]reconstruct.ItemChange `json:"ledger"`
	Audit    []reconstruct.AuditRecord         `json:"audit"`
}

// ReconstructionEntry is one reconstruction as kept in the journal
type ReconstructionEntry struct {
	Seq       uint64                    `json:"seq"`
	Timestamp time.Time                 `json:"timestamp"`
	VersionID string                    `json:"version_id,omitempty"`
	Strategy  reconstruct.Strategy      `json:"strategy"`
	Severity  float64                   `json:"severity"`
	Author    string                    `json:"author"`
	Audit     []reconstruct.AuditRecord `json:"audit"`
	Held      []string                  `json:"held,omitempty"`
}

// AnalyzeImpact scores each affected item without changing anything
func (e *Engine) AnalyzeImpact(ctx context.Context, req AnalyzeRequest) (map[string]impact.AnalysisResult, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	b, err := e.load(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}
	return e.analyze(b, req.Changes, req.Deltas)
}

func (e *Engine) analyze(b *budget.Budget, changes map[string]reconstruct.ProviderChange, deltas map[string]impact.Deltas) (map[string]impact.AnalysisResult, error) {
	ids := make(map[string]bool, len(changes)+len(deltas))
	for id := range changes {
		ids[id] = true
	}
	for id := range deltas {
		ids[id] = true
	}

	out := make(map[string]impact.AnalysisResult, len(ids))
	for id := range ids {
		it, ok := b.Item(id)
		if !ok {
			return nil, fmt.Errorf("%w: item %s in budget %s", errs.ErrNotFound, id, b.ID)
		}
		d := impact.DeltasFromChange(it.Price, changes[id].PriceDelta(), deltas[id])
		out[id] = e.analyzer.Analyze(d)
	}
	return out, nil
}

// pickStrategy resolves the strategy: explicit, else the most severe item's
// recommendation, else Adjust-Proportionally
func pickStrategy(explicit string, analysis map[string]impact.AnalysisResult) (reconstruct.Strategy, error) {
	if explicit != "" {
		return reconstruct.ParseStrategy(explicit)
	}
	if id, ok := impact.MostSevere(analysis); ok {
		return reconstruct.ParseStrategy(string(analysis[id].Recommendation))
	}
	return reconstruct.AdjustProportionally, nil
}

// ReconstructBudget rewrites the affected lines under one strategy and
// records the result as a new current version. Lines locked by an active
// seller session are held back. On error nothing is written.
func (e *Engine) ReconstructBudget(ctx context.Context, req ReconstructRequest) (*ReconstructResponse, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	start := time.Now()
	unlock := e.locks.Lock(req.BudgetID)
	defer unlock()

	resp, err := e.reconstruct(ctx, req)

	strategy, versionID, items, held := req.Strategy, "", 0, 0
	if resp != nil {
		strategy = string(resp.Strategy)
		items, held = len(resp.Ledger), len(resp.Held)
		if resp.Version != nil {
			versionID = resp.Version.ID
		}
	}
	e.metrics.RecordReconstruction(strategy, held, err, time.Since(start))
	e.log.LogReconstruction(req.BudgetID, strategy, versionID, items, held, time.Since(start), err)
	return resp, err
}

func (e *Engine) reconstruct(ctx context.Context, req ReconstructRequest) (*ReconstructResponse, error) {
	b, err := e.load(ctx, req.BudgetID)
	if err != nil {
		return nil, err
	}
	if b.Status == budget.StatusExpired || b.Expired(e.now()) {
		return nil, fmt.Errorf("%w: budget %s has expired", errs.ErrInvariantViolation, b.ID)
	}
	if err := b.CheckComplete(); err != nil {
		return nil, err
	}
	current, err := b.Current()
	if err != nil {
		return nil, err
	}

	analysis, err := e.analyze(b, req.Changes, req.Deltas)
	if err != nil {
		return nil, err
	}
	strategy, err := pickStrategy(req.Strategy, analysis)
	if err != nil {
		return nil, err
	}
	severity := 0.0
	for _, r := range analysis {
		if r.Severity > severity {
			severity = r.Severity
		}
	}
	e.log.ReconstructionLogger(b.ID, string(strategy)).Debug("Strategy selected").
		Float64("severity", severity).
		Bool("explicit", req.Strategy != "").
		Send()

	res, err := e.rebuilder.Apply(ctx, b.Items, req.Changes, strategy)
	if err != nil {
		return nil, err
	}

	before, err := e.versions.Snapshot(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	after := rebuilt(before, res.Ledger)
	allowed, held := e.sessions.Filter(b.ID, e.differ.Changes(before, after))

	resp := &ReconstructResponse{
		BudgetID: b.ID,
		Strategy: strategy,
		Severity: severity,
		Analysis: analysis,
		Applied:  allowed,
		Held:     held,
		Ledger:   res.Ledger,
		Audit:    appliedAudit(res.Audit, held),
	}
	if held == nil {
		resp.Held = []change.Change{}
	}
	if allowed == nil {
		resp.Applied = []change.Change{}
	}

	entry := ReconstructionEntry{
		Strategy: strategy,
		Severity: severity,
		Author:   req.Author,
		Audit:    resp.Audit,
		Held:     heldFields(held),
	}
	if len(allowed) == 0 {
		e.record(journal.KindReconstruction, b.ID, entry)
		return resp, nil
	}

	audit, err := json.Marshal(resp.Audit)
	if err != nil {
		return nil, fmt.Errorf("encode reconstruction audit: %w", err)
	}
	v, err := e.versions.CreateVersion(ctx, version.CreateVersionRequest{
		BudgetID:    b.ID,
		Name:        fmt.Sprintf("Reconstruction (%s)", strategy),
		Description: fmt.Sprintf("%d item(s) rebuilt after provider changes", len(res.Ledger)),
		Changes:     allowed,
		ParentID:    current.ID,
		Author:      req.Author,
		Metadata: map[string]string{
			MetaStrategy:    string(strategy),
			MetaSeverity:    fmt.Sprintf("%.2f", severity),
			MetaAudit:       string(audit),
			MetaHeldChanges: fmt.Sprintf("%d", len(held)),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := e.advance(ctx, b, v); err != nil {
		return nil, err
	}
	resp.Version = v

	entry.VersionID = v.ID
	e.record(journal.KindReconstruction, b.ID, entry)
	return resp, nil
}

// rebuilt applies the ledger to the lines it names. Repriced lines only get
// their new price and cost; a line replaced by an alternative is written whole.
// Everything else in before, including fields Item does not model, is kept.
func rebuilt(before change.Snapshot, ledger map[string]reconstruct.ItemChange) change.Snapshot {
	var edits []change.Change
	for id, ic := range ledger {
		if ic.Note == reconstruct.NoteBetterAlternative {
			edits = append(edits, change.Change{Field: budget.LinePath(id), NewValue: budget.ItemValue(ic.After)})
			continue
		}
		if !ic.After.Price.Equal(ic.Before.Price) {
			edits = append(edits, change.Change{Field: budget.FieldPath(id, "price"), NewValue: money.String(money.Round(ic.After.Price))})
		}
		if !ic.After.Cost.Equal(ic.Before.Cost) {
			edits = append(edits, change.Change{Field: budget.FieldPath(id, "cost"), NewValue: money.String(money.Round(ic.After.Cost))})
		}
	}
	return change.Apply(before, edits...)
}

// appliedAudit drops audit records of lines that were held back
func appliedAudit(records []reconstruct.AuditRecord, held []change.Change) []reconstruct.AuditRecord {
	heldItems := make(map[string]bool)
	for _, c := range held {
		heldItems[itemOf(c.Field)] = true
	}
	out := make([]reconstruct.AuditRecord, 0, len(records))
	for _, r := range records {
		if !heldItems[r.ItemID] {
			out = append(out, r)
		}
	}
	return out
}

func heldFields(held []change.Change) []string {
	if len(held) == 0 {
		return nil
	}
	out := make([]string, len(held))
	for i, c := range held {
		out[i] = c.Field
	}
	sort.Strings(out)
	return out
}

// itemOf returns the line id of a "packages.<id>[.field]" path
func itemOf(field string) string {
	rest, ok := strings.CutPrefix(field, budget.KeyPackages+".")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, ".")
	return id
}

// SuggestAlternatives lists catalog items similar to one line of a budget
func (e *Engine) SuggestAlternatives(ctx context.Context, budgetID, itemID string, limit int) ([]reconstruct.Suggestion, error) {
	b, err := e.load(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	it, ok := b.Item(itemID)
	if !ok {
		return nil, fmt.Errorf("%w: item %s in budget %s", errs.ErrNotFound, itemID, budgetID)
	}
	return e.rebuilder.SuggestAlternatives(ctx, it, limit)
}

// ReconstructionHistory returns a budget's reconstructions, oldest first
func (e *Engine) ReconstructionHistory(ctx context.Context, budgetID string) ([]ReconstructionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := e.journal.History(budgetID, journal.KindReconstruction)
	if err != nil {
		return nil, err
	}
	out := make([]ReconstructionEntry, 0, len(records))
	for _, rec := range records {
		var entry ReconstructionEntry
		if err := rec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode journal record %d: %w", rec.Seq, err)
		}
		entry.Seq = rec.Seq
		entry.Timestamp = rec.Timestamp
		out = append(out, entry)
	}
	return out, nil
}
