// ABOUTME: Conflict detection between two change lists diverging from a common ancestor
// ABOUTME: A conflict is a (type, field) both sides wrote with different values

package diff

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nainya/budgetstore/pkg/change"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/money"
)

// ConflictResolver detects and settles merge conflicts
type ConflictResolver struct{}

// NewConflictResolver creates a resolver
func NewConflictResolver() *ConflictResolver {
	return &ConflictResolver{}
}

// Detect compares the latest change per key on each side and reports
// every key whose new values differ, sorted by field
func (r *ConflictResolver) Detect(base, branch []change.Change) []Conflict {
	baseByKey := latestByKey(base)
	branchByKey := latestByKey(branch)

	var conflicts []Conflict
	for key, bc := range baseByKey {
		oc, ok := branchByKey[key]
		if !ok || EqualField(key.Field, bc.NewValue, oc.NewValue) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Field:        key.Field,
			Type:         key.Type,
			BaseValue:    bc.NewValue,
			BranchValue:  oc.NewValue,
			BaseChange:   bc,
			BranchChange: oc,
			Options:      resolutionOptions(bc.NewValue, oc.NewValue),
		})
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Field != conflicts[j].Field {
			return conflicts[i].Field < conflicts[j].Field
		}
		return conflicts[i].Type < conflicts[j].Type
	})
	return conflicts
}

// Resolve returns the change that settles a conflict with the chosen option
func (r *ConflictResolver) Resolve(c Conflict, strategy string) (change.Change, error) {
	for _, opt := range c.Options {
		if opt.Strategy != strategy {
			continue
		}
		switch strategy {
		case ResolveBase:
			return c.BaseChange, nil
		case ResolveBranch:
			return c.BranchChange, nil
		default:
			resolved := c.BranchChange
			resolved.NewValue = opt.Value
			resolved.Reason = opt.Description
			return resolved, nil
		}
	}
	return change.Change{}, fmt.Errorf("%w: option %q not offered for %s", errs.ErrInvalidArgument, strategy, c.Field)
}

func latestByKey(changes []change.Change) map[change.Key]change.Change {
	out := make(map[change.Key]change.Change, len(changes))
	for _, c := range changes {
		out[c.Key()] = c
	}
	return out
}

func resolutionOptions(baseVal, branchVal any) []ResolutionOption {
	opts := []ResolutionOption{
		{Strategy: ResolveBase, Value: baseVal, Description: "Keep base version value"},
		{Strategy: ResolveBranch, Value: branchVal, Description: "Use branch version value"},
	}
	if avg, ok := average(baseVal, branchVal); ok {
		opts = append(opts, ResolutionOption{
			Strategy:    ResolveAverage,
			Value:       avg,
			Description: "Use average of both values",
		})
	}
	return opts
}

// average keeps the representation of its inputs: decimal strings stay
// strings rounded to cents, plain numbers stay float64
func average(a, b any) (any, bool) {
	da, okA := money.Parse(a)
	db, okB := money.Parse(b)
	if !okA || !okB {
		return nil, false
	}
	avg := da.Add(db).Div(decimal.NewFromInt(2))

	_, aStr := a.(string)
	_, bStr := b.(string)
	if aStr || bStr {
		return money.String(money.Round(avg)), true
	}
	return avg.InexactFloat64(), true
}
