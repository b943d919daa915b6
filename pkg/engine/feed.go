package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nainya/budgetstore/pkg/impact"
	"github.com/nainya/budgetstore/pkg/reconstruct"
)

// FeedAuthor is recorded on versions produced from the provider feed
const FeedAuthor = "provider-feed"

// FeedUpdate is one batch of provider changes for a budget
type FeedUpdate struct {
	BudgetID string                                `json:"budget_id"`
	Changes  map[string]reconstruct.ProviderChange `json:"changes"`
	Deltas   map[string]impact.Deltas              `json:"deltas,omitempty"`
	Strategy string                                `json:"strategy,omitempty"`
}

// FeedResult is the outcome of one FeedUpdate
type FeedResult struct {
	BudgetID  string               `json:"budget_id"`
	VersionID string               `json:"version_id,omitempty"`
	Strategy  reconstruct.Strategy `json:"strategy,omitempty"`
	Held      int                  `json:"held"`
	Error     string               `json:"error,omitempty"`
}

// ProcessFeed reconstructs every budget named in updates. Different budgets
// run concurrently; updates for the same budget run in input order. A failed
// update is reported in its result and does not stop the others. Results
// follow the order of updates.
func (e *Engine) ProcessFeed(ctx context.Context, updates []FeedUpdate) ([]FeedResult, error) {
	results := make([]FeedResult, len(updates))
	order := make(map[string][]int)
	var budgets []string
	for i, u := range updates {
		if _, ok := order[u.BudgetID]; !ok {
			budgets = append(budgets, u.BudgetID)
		}
		order[u.BudgetID] = append(order[u.BudgetID], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, id := range budgets {
		idx := order[id]
		g.Go(func() error {
			for _, i := range idx {
				if err := e.limiter.Wait(gctx); err != nil {
					return err
				}
				results[i] = e.feedOne(gctx, updates[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) feedOne(ctx context.Context, u FeedUpdate) FeedResult {
	res := FeedResult{BudgetID: u.BudgetID}
	resp, err := e.ReconstructBudget(ctx, ReconstructRequest{
		BudgetID: u.BudgetID,
		Changes:  u.Changes,
		Deltas:   u.Deltas,
		Strategy: u.Strategy,
		Author:   FeedAuthor,
	})
	e.metrics.RecordFeedUpdate(err)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Strategy = resp.Strategy
	res.Held = len(resp.Held)
	if resp.Version != nil {
		res.VersionID = resp.Version.ID
	}
	return res
}

// RunMaintenance sweeps closed sessions every sweepEvery and, when gcEvery is
// positive, runs gc on its own schedule. It returns when ctx ends.
func (e *Engine) RunMaintenance(ctx context.Context, sweepEvery, gcEvery time.Duration, gc func() error) {
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()

	var gcTick <-chan time.Time
	if gcEvery > 0 && gc != nil {
		t := time.NewTicker(gcEvery)
		defer t.Stop()
		gcTick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if n := e.sessions.Sweep(); n > 0 {
				e.log.Debug("Swept sessions").Int("removed", n).Send()
				e.metrics.SessionsExpired.Add(float64(n))
			}
			e.metrics.SessionsActive.Set(float64(e.sessions.Active()))
		case <-gcTick:
			if err := gc(); err != nil {
				e.log.Warn("Value log GC failed").Err(err).Send()
			}
		}
	}
}
