// ABOUTME: Diff and conflict data model
// ABOUTME: VersionDiff carries the ordered changes plus a summary for display

package diff

import "github.com/nainya/budgetstore/pkg/change"

// VersionDiff is the change set that turns one snapshot into another
type VersionDiff struct {
	BaseVersionID   string          `json:"base_version_id"`
	TargetVersionID string          `json:"target_version_id"`
	Changes         []change.Change `json:"changes"`
	Summary         Summary         `json:"summary"`
}

// Summary aggregates a change list
type Summary struct {
	TotalChanges       int                 `json:"total_changes"`
	ChangesByType      map[change.Type]int `json:"changes_by_type"`
	SignificantChanges int                 `json:"significant_changes"`
	ModifiedFields     []string            `json:"modified_fields"`
}

// Resolution strategies offered for a conflict
const (
	ResolveBase    = "base"
	ResolveBranch  = "branch"
	ResolveAverage = "average"
)

// ResolutionOption is one way to settle a conflict
type ResolutionOption struct {
	Strategy    string `json:"strategy"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// Conflict is a field both sides changed to different values
type Conflict struct {
	Field        string             `json:"field"`
	Type         change.Type        `json:"type"`
	BaseValue    any                `json:"base_value"`
	BranchValue  any                `json:"branch_value"`
	BaseChange   change.Change      `json:"base_change"`
	BranchChange change.Change      `json:"branch_change"`
	Options      []ResolutionOption `json:"resolution_options"`
}
