// ABOUTME: Version graph data model
// ABOUTME: Versions are append-only delta nodes linked by parent id; branches are named pointers

package version

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/diff"
)

// Status of a version
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Version is one immutable delta node in a budget's history
type Version struct {
	ID          string            `json:"id"`
	BudgetID    string            `json:"budget_id"`
	Number      int               `json:"number"`
	ParentID    string            `json:"parent_id,omitempty"` // empty for the base version
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Changes     []change.Change   `json:"changes"`
	CreatedAt   time.Time         `json:"created_at"`
	CreatedBy   string            `json:"created_by"`
	Status      Status            `json:"status"`
	IsBase      bool              `json:"is_base"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BranchStatus of a branch
type BranchStatus string

const (
	BranchActive   BranchStatus = "active"
	BranchArchived BranchStatus = "archived"
	BranchMerged   BranchStatus = "merged"
)

// Branch is a named line of versions diverging from a base version
type Branch struct {
	ID            string            `json:"id"`
	BudgetID      string            `json:"budget_id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	BaseVersionID string            `json:"base_version_id"`
	VersionIDs    []string          `json:"version_ids"`
	CreatedAt     time.Time         `json:"created_at"`
	CreatedBy     string            `json:"created_by"`
	Status        BranchStatus      `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Head returns the newest version on the branch, or its base when empty
func (b *Branch) Head() string {
	if len(b.VersionIDs) == 0 {
		return b.BaseVersionID
	}
	return b.VersionIDs[len(b.VersionIDs)-1]
}

// MergeStrategy decides how conflicts are settled
type MergeStrategy string

const (
	MergeOurs   MergeStrategy = "ours"   // source wins
	MergeTheirs MergeStrategy = "theirs" // target wins
	MergeManual MergeStrategy = "manual" // conflicts abort the merge
)

// Valid reports whether s is a known strategy
func (s MergeStrategy) Valid() bool {
	return s == MergeOurs || s == MergeTheirs || s == MergeManual
}

// MergeResult reports the outcome of a merge
type MergeResult struct {
	Success         bool              `json:"success"`
	MergedVersionID string            `json:"merged_version_id,omitempty"`
	AncestorID      string            `json:"ancestor_id,omitempty"`
	Conflicts       []diff.Conflict   `json:"conflicts"`
	ChangesApplied  []change.Change   `json:"changes_applied"`
	ChangesRejected []change.Change   `json:"changes_rejected"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// GraphNode is a version without its change payload
type GraphNode struct {
	ID          string            `json:"id"`
	Number      int               `json:"number"`
	Name        string            `json:"name"`
	ParentID    string            `json:"parent_id,omitempty"`
	IsBase      bool              `json:"is_base"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CreatedBy   string            `json:"created_by"`
	ChangeCount int               `json:"change_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// GraphEdge links a parent to a child
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// VersionGraph is the audit view of a budget's history
type VersionGraph struct {
	BudgetID string      `json:"budget_id"`
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	Branches []*Branch   `json:"branches"`
}

// Merge provenance metadata keys
const (
	MetaMergeSource   = "merge_source"
	MetaMergeTarget   = "merge_target"
	MetaMergeStrategy = "merge_strategy"
	MetaMergeAncestor = "merge_ancestor"
)

// VersionID formats the id of a budget's n-th version
func VersionID(budgetID string, number int) string {
	return fmt.Sprintf("%s_v%d", budgetID, number)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// BranchID formats the id of a named branch
func BranchID(budgetID, name string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	return fmt.Sprintf("%s_b_%s", budgetID, slug)
}
