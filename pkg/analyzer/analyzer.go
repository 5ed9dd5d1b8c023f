package analyzer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/johnsaigle/zombie-detector/pkg/cache"
	"github.com/johnsaigle/zombie-detector/pkg/health"
	"github.com/johnsaigle/zombie-detector/pkg/logging"
	"github.com/johnsaigle/zombie-detector/pkg/metadata"
	"github.com/johnsaigle/zombie-detector/pkg/providers"
	"github.com/johnsaigle/zombie-detector/pkg/resolver"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultWorkers is the number of dependencies evaluated concurrently.
const DefaultWorkers = 4

// Fetcher retrieves the activity record of one repository.
type Fetcher interface {
	Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error)
}

// QuotaFunc reports how many upstream requests may still be made.
type QuotaFunc func(ctx context.Context) (int, error)

// Result represents the analysis result for a single dependency
type Result struct {
	Dependency types.Dependency
	Verdict    health.Verdict
	// Repo is nil when no repository could be resolved.
	Repo *types.RepoID
	// Record is the record the verdict was computed from.
	Record       *types.ActivityRecord
	FromCache    bool
	UsedLastGood bool
	Details      string
}

// Analyzer performs the resolve, cache, fetch and classify pipeline for a
// list of dependencies.
type Analyzer struct {
	meta       metadata.Source
	resolver   *resolver.Resolver
	cache      *cache.Cache
	fetcher    Fetcher
	classifier health.Classifier
	workers    int
	quota      QuotaFunc
	now        func() time.Time
	logger     *log.Logger

	flights singleflight.Group
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithClassifier replaces the default 730-day classifier.
func WithClassifier(c health.Classifier) Option {
	return func(a *Analyzer) { a.classifier = c }
}

// WithClock injects the time source. Every verdict in one Evaluate call uses
// the instant read at its start.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithQuota lets the analyzer shrink its pool to the remaining API budget.
func WithQuota(q QuotaFunc) Option {
	return func(a *Analyzer) { a.quota = q }
}

// New creates a new analyzer instance
func New(meta metadata.Source, res *resolver.Resolver, c *cache.Cache, f Fetcher, opts ...Option) *Analyzer {
	a := &Analyzer{
		meta:       meta,
		resolver:   res,
		cache:      c,
		fetcher:    f,
		classifier: health.New(health.DefaultThresholdDays),
		workers:    DefaultWorkers,
		now:        time.Now,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// run holds the per-Evaluate state shared by workers.
type run struct {
	now       time.Time
	writeWarn sync.Once
}

// Evaluate produces one Result per dependency, in input order. The only
// error it returns is the context's; in that case rows that were not
// finished are UNKNOWN.
func (a *Analyzer) Evaluate(ctx context.Context, deps []types.Dependency) ([]Result, error) {
	r := &run{now: a.now()}
	results := make([]Result, len(deps))

	var g errgroup.Group
	g.SetLimit(a.poolSize(ctx, len(deps)))
	for i, dep := range deps {
		g.Go(func() error {
			results[i] = a.evaluateOne(ctx, r, dep)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (a *Analyzer) poolSize(ctx context.Context, n int) int {
	workers := a.workers
	if a.quota == nil || n == 0 {
		return workers
	}
	remaining, err := a.quota(ctx)
	if err != nil {
		a.logger.Debug("could not read API quota", "err", err)
		return workers
	}
	if remaining < n {
		a.logger.Warn("API quota may not cover every dependency", "remaining", remaining, "dependencies", n)
	}
	return max(1, min(workers, remaining))
}

func (a *Analyzer) evaluateOne(ctx context.Context, r *run, dep types.Dependency) Result {
	res := Result{Dependency: dep}
	if ctx.Err() != nil {
		return a.unknown(res, "cancelled")
	}

	cands, err := a.meta.Candidates(ctx, dep)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return a.unknown(res, "cancelled")
		case failure.Is(err, metadata.ErrPackageNotFound):
			return a.unknown(res, "package not found in registry")
		default:
			a.logger.Debug("metadata lookup failed", "dependency", dep.Name, "err", err)
			return a.unknown(res, "package metadata unavailable")
		}
	}

	id, ok := a.resolver.Resolve(cands)
	if !ok {
		return a.unknown(res, "no supported repository URL")
	}
	res.Repo = &id

	if e, ok := a.cache.Lookup(id); ok && !a.cache.IsStale(e, r.now) {
		a.logger.Debug("cache hit", "repo", id.String())
		res.FromCache = true
		return a.classify(res, r, e)
	}

	v, err, _ := a.flights.Do(id.String(), func() (any, error) {
		return a.refresh(ctx, r, id)
	})
	if err != nil {
		switch {
		case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return a.unknown(res, "cancelled")
		case failure.Is(err, providers.ErrUnsupportedHost):
			return a.unknown(res, "no fetcher for "+id.Host)
		default:
			a.logger.Debug("fetch failed", "repo", id.String(), "err", err)
			return a.unknown(res, "fetch failed")
		}
	}
	f := v.(flight)
	res.FromCache = f.fromCache
	return a.classify(res, r, f.entry)
}

type flight struct {
	entry     cache.Entry
	fromCache bool
}

// refresh fetches id and stores the outcome. A concurrent flight for the same
// id may have completed since the caller's lookup, so the cache is checked
// again first.
func (a *Analyzer) refresh(ctx context.Context, r *run, id types.RepoID) (flight, error) {
	if e, ok := a.cache.Lookup(id); ok && !a.cache.IsStale(e, r.now) {
		return flight{entry: e, fromCache: true}, nil
	}

	rec, err := a.fetcher.Fetch(ctx, id)
	if err != nil {
		return flight{}, err
	}
	a.logger.Debug("fetched", "repo", id.String(), "status", rec.Status)

	if err := a.cache.Store(id, rec, r.now); err != nil {
		r.writeWarn.Do(func() {
			a.logger.Warn("cache could not be saved; continuing without persistence", "err", err)
		})
	}
	e, ok := a.cache.Lookup(id)
	if !ok {
		rec.ID = id
		e = cache.Entry{Record: rec, StoredAt: r.now}
	}
	return flight{entry: e}, nil
}

func (a *Analyzer) classify(res Result, r *run, e cache.Entry) Result {
	rec := e.Effective()
	res.Record = &rec
	res.UsedLastGood = e.UsesLastGood()
	res.Verdict = a.classifier.Classify(&rec, r.now)
	res.Details = res.Verdict.Detail
	if res.UsedLastGood {
		res.Details += " (last successful fetch, latest attempt: " + string(e.Record.Status) + ")"
	}
	return res
}

func (a *Analyzer) unknown(res Result, detail string) Result {
	res.Verdict = health.Verdict{Status: health.StatusUnknown, Detail: detail}
	res.Details = detail
	return res
}

// SummaryStats holds summary statistics
type SummaryStats struct {
	Total     int `json:"total"`
	Safe      int `json:"safe"`
	Warning   int `json:"warning"`
	Unknown   int `json:"unknown"`
	FromCache int `json:"from_cache"`
	Fetched   int `json:"fetched"`
}

// Summarize returns summary statistics from results
func Summarize(results []Result) SummaryStats {
	byStatus := lo.CountValuesBy(results, func(r Result) health.Status { return r.Verdict.Status })
	return SummaryStats{
		Total:     len(results),
		Safe:      byStatus[health.StatusSafe],
		Warning:   byStatus[health.StatusWarning],
		Unknown:   byStatus[health.StatusUnknown],
		FromCache: lo.CountBy(results, func(r Result) bool { return r.FromCache }),
		Fetched:   lo.CountBy(results, func(r Result) bool { return r.Repo != nil && r.Record != nil && !r.FromCache }),
	}
}
