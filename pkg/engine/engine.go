// ABOUTME: Engine composes budgets, the version graph, reconstruction and sessions
// ABOUTME: One Engine per process; every budget mutation runs under a per-budget lock

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/nainya/budgetstore/internal/logger"
	"github.com/nainya/budgetstore/internal/metrics"
	"github.com/nainya/budgetstore/pkg/budget"
	"github.com/nainya/budgetstore/pkg/catalog"
	"github.com/nainya/budgetstore/pkg/diff"
	"github.com/nainya/budgetstore/pkg/errs"
	"github.com/nainya/budgetstore/pkg/impact"
	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/reconstruct"
	"github.com/nainya/budgetstore/pkg/session"
	"github.com/nainya/budgetstore/pkg/storage"
	"github.com/nainya/budgetstore/pkg/version"
)

// Options tune the engine. Zero values select the defaults.
type Options struct {
	SeverityThreshold float64
	PriceFloorRatio   float64
	SessionTimeout    time.Duration
	FeedConcurrency   int
	FeedRatePerSecond float64 // 0 means unlimited
	FeedBurst         int
}

// Deps are the collaborators the engine is built from.
// KV and Journal must already be open; the engine never closes them.
type Deps struct {
	KV      *storage.KV
	Journal *journal.Journal
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Options Options
}

// Engine is the budget versioning and reconstruction service
type Engine struct {
	budgets   *budget.Repository
	versions  *version.Manager
	catalog   *catalog.Store
	rebuilder *reconstruct.Reconstructor
	analyzer  *impact.Analyzer
	sessions  *session.Guard
	differ    *diff.Calculator
	journal   *journal.Journal
	log       *logger.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate
	limiter   *rate.Limiter
	workers   int
	locks     version.KeyedMutex
	now       func() time.Time
}

// New builds an engine
func New(d Deps) (*Engine, error) {
	if d.KV == nil {
		return nil, errors.New("engine: KV store is required")
	}
	if d.Journal == nil {
		return nil, errors.New("engine: journal is required")
	}
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}

	opts := d.Options
	floor := reconstruct.DefaultPriceFloor
	if opts.PriceFloorRatio > 0 {
		floor = decimal.NewFromFloat(opts.PriceFloorRatio)
	}
	workers := opts.FeedConcurrency
	if workers <= 0 {
		workers = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.FeedRatePerSecond > 0 {
		burst := opts.FeedBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.FeedRatePerSecond), burst)
	}

	cat := catalog.NewStore(d.KV)
	return &Engine{
		budgets:   budget.NewRepository(d.KV),
		versions:  version.NewManager(version.NewKVStore(d.KV)),
		catalog:   cat,
		rebuilder: reconstruct.NewReconstructor(cat, floor),
		analyzer:  impact.NewAnalyzer(opts.SeverityThreshold),
		sessions:  session.NewGuard(opts.SessionTimeout),
		differ:    diff.NewCalculator(),
		journal:   d.Journal,
		log:       log,
		metrics:   m,
		validate:  validator.New(),
		limiter:   limiter,
		workers:   workers,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Catalog exposes the candidate catalog so hosts can load offerable items
func (e *Engine) Catalog() *catalog.Store {
	return e.catalog
}

// Versions exposes the version manager for read-only tooling
func (e *Engine) Versions() *version.Manager {
	return e.versions
}

// check validates a request's struct tags
func (e *Engine) check(req any) error {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %q", errs.ErrInvalidArgument, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return nil
}

// record appends a journal entry; failures are logged, not returned, since
// the version graph already holds the authoritative change
func (e *Engine) record(kind journal.Kind, budgetID string, payload any) {
	if _, err := e.journal.Append(kind, budgetID, payload); err != nil {
		e.log.Error("Failed to append journal record").
			Err(err).
			Str("kind", kind.String()).
			Str("budget_id", budgetID).
			Send()
	}
}

// load returns the budget header with its versions and the items folded
// from the current version
func (e *Engine) load(ctx context.Context, id string) (*budget.Budget, error) {
	b, err := e.budgets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	versions, err := e.versions.Store().GetBudgetVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Versions = versions

	current, err := b.Current()
	if err != nil {
		return nil, err
	}
	snap, err := e.versions.Snapshot(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	items, validUntil, err := budget.FromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	b.Items = items
	if !validUntil.IsZero() {
		b.ValidUntil = validUntil
	}
	return b, nil
}

// advance points the budget at a new current version and persists the header
func (e *Engine) advance(ctx context.Context, b *budget.Budget, v *version.Version) error {
	b.CurrentVersion = v.Number
	b.UpdatedAt = e.now()
	if err := e.budgets.Save(ctx, b); err != nil {
		return fmt.Errorf("advance budget %s to %s: %w", b.ID, v.ID, err)
	}
	return nil
}
