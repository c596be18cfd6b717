// Package fetch runs the ingestion pipeline for a batch of repository
// URLs. Each repository is cloned and fetched from the API concurrently,
// then analyzed, reconciled into the store and cleaned up. Repositories
// are isolated from each other: one failing, or panicking, never affects
// the rest of the batch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/quickgrade/internal/analysis"
	"github.com/jacklau/quickgrade/internal/clone"
	"github.com/jacklau/quickgrade/internal/pubsub"
	"github.com/jacklau/quickgrade/internal/reconcile"
	"github.com/jacklau/quickgrade/internal/store"
	"github.com/jacklau/quickgrade/internal/tracker"
)

// DefaultWorkers is how many repositories are processed at once.
const DefaultWorkers = 4

// Cloner creates, clones and reads temporary checkouts.
type Cloner interface {
	TempDir(t clone.Target) (string, error)
	Clone(ctx context.Context, t clone.Target, dir string) error
	Extract(ctx context.Context, dir string) (*clone.Result, error)
}

// Analyzer measures a checkout.
type Analyzer interface {
	Analyze(ctx context.Context, root string) (*analysis.Result, error)
}

var (
	_ Cloner   = (*clone.Worker)(nil)
	_ Analyzer = (*analysis.Runner)(nil)
)

// Deps holds the dependencies of an Orchestrator.
type Deps struct {
	Store    store.RepoStore
	Tracker  *tracker.Tracker
	Cloner   Cloner
	API      API
	Analyzer Analyzer

	// Broker and OnProgress, when set, receive every progress event.
	Broker     *pubsub.Broker[Event]
	OnProgress ProgressFunc

	User    string
	Workers int
	Logger  *slog.Logger
}

// Result is the outcome for one URL.
type Result struct {
	URL          string          `json:"url"`
	FullName     string          `json:"full_name,omitempty"`
	RepositoryID int64           `json:"repository_id,omitempty"`
	Success      bool            `json:"success"`
	Stats        reconcile.Stats `json:"stats"`
	Warnings     []string        `json:"warnings,omitempty"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"duration"`

	Err error `json:"-"`
}

// Orchestrator runs the per-repository pipeline.
type Orchestrator struct {
	deps   Deps
	engine *reconcile.Engine
	now    func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Workers <= 0 {
		deps.Workers = DefaultWorkers
	}
	return &Orchestrator{
		deps:   deps,
		engine: reconcile.NewEngine(deps.Store, deps.Logger),
		now:    time.Now,
	}
}

// Run processes every URL with at most Workers repositories in flight and
// returns one Result per URL, in input order.
func (o *Orchestrator) Run(ctx context.Context, urls []string) []Result {
	start := o.now()
	results := make([]Result, len(urls))

	var g errgroup.Group
	g.SetLimit(o.deps.Workers)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = o.Process(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(results)
	o.deps.Logger.Info("batch complete",
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"duration", o.now().Sub(start).String(),
	)
	return results
}

// Process runs the pipeline for one URL. Failures, including panics, are
// reported in the Result; Process itself never returns an error.
func (o *Orchestrator) Process(ctx context.Context, url string) (out Result) {
	start := o.now()
	rep := &reporter{url: url, broker: o.deps.Broker, fn: o.deps.OnProgress, now: o.now}
	res := &Result{URL: url}

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			if pe, ok := r.(*panicError); ok {
				r, stack = pe.value, pe.stack
			}
			o.deps.Logger.Error("panic while processing repository",
				"url", url,
				"panic", r,
				"stack", string(stack),
			)
			err := fmt.Errorf("internal error: %v", r)
			rep.emit(StageFailed, err.Error())
			res.Success = false
			res.Err = err
			res.Error = err.Error()
			res.Duration = o.now().Sub(start)
			out = *res
		}
	}()

	return o.process(ctx, url, rep, start, res)
}

// process fills res as it goes so a recovered panic still reports what was
// learned before it.
func (o *Orchestrator) process(ctx context.Context, url string, rep *reporter, start time.Time, res *Result) Result {
	fail := func(err error) Result {
		rep.emit(StageFailed, err.Error())
		res.Success = false
		res.Err = err
		res.Error = err.Error()
		res.Duration = o.now().Sub(start)
		return *res
	}

	rep.emit(StageInitializing, "parsing repository URL")
	target, err := clone.ParseURL(url)
	if err != nil {
		return fail(err)
	}
	res.FullName = target.FullName()
	logger := o.deps.Logger.With("repo", res.FullName)

	repoID, err := o.deps.Store.BeginFetch(ctx, o.deps.User, target.Owner, target.Name, target.URL)
	if err != nil {
		return fail(err)
	}
	res.RepositoryID = repoID

	// Bookkeeping after a failure must outlive a cancelled batch.
	bg := context.WithoutCancel(ctx)
	markFailed := func(err error) Result {
		if merr := o.deps.Store.MarkFetchFailed(bg, repoID, err.Error()); merr != nil {
			logger.Error("recording fetch failure", "error", merr)
		}
		return fail(err)
	}
	defer func() {
		if r := recover(); r != nil {
			if merr := o.deps.Store.MarkFetchFailed(bg, repoID, fmt.Sprintf("internal error: %v", r)); merr != nil {
				logger.Error("recording fetch failure", "error", merr)
			}
			panic(r)
		}
	}()

	cp := &clonePath{}
	defer func() {
		if rec := cp.rec; rec != nil && !tracker.IsTerminal(rec.Status) {
			if err := o.deps.Tracker.Fail(bg, rec, errors.New("fetch aborted")); err != nil {
				logger.Error("failing clone tracker", "tracker", rec.ID, "error", err)
			}
		}
	}()

	warn := &warnings{}
	var (
		api    *reconcile.APIResult
		apiErr error
	)

	var g errgroup.Group
	goGuarded(&g, func() {
		o.cloneAndExtract(ctx, target, rep, logger, cp)
	})
	goGuarded(&g, func() {
		api, apiErr = fetchAPI(ctx, o.deps.API, target, warn, logger)
	})
	waitGuarded(&g)

	cloned, rec := cp.result, cp.rec
	if cloned.Err != nil {
		logger.Warn("clone unavailable", "error", cloned.Err)
		warn.add("clone failed: %v", cloned.Err)
	}
	if apiErr != nil {
		logger.Warn("api unavailable", "error", apiErr)
		warn.add("api fetch failed: %v", apiErr)
	}
	res.Warnings = warn.list()

	if !cloned.Success && api == nil {
		return markFailed(fmt.Errorf("clone and api fetch both failed: %w", errors.Join(cloned.Err, apiErr)))
	}

	var analyzed *analysis.Result
	if cloned.Success {
		o.advance(bg, rec, tracker.StatusAnalyzing, logger)
		rep.emit(StageAnalyzing, "measuring source files")
		analyzed, err = o.deps.Analyzer.Analyze(ctx, cloned.TempPath)
		if err != nil {
			logger.Warn("analysis unavailable", "error", err)
			warn.add("analysis failed: %v", err)
			analyzed = nil
		}
	} else {
		rep.emit(StageAnalyzing, "skipped: no checkout")
	}

	rep.emit(StageFetchingAPI, apiDetail(api))

	rep.emit(StageReconciling, "writing records")
	out, err := o.engine.Reconcile(ctx, reconcile.Input{
		User:     o.deps.User,
		Target:   target,
		Clone:    cloned,
		API:      api,
		Analysis: analyzed,
	})
	if err != nil {
		res.Warnings = warn.list()
		return markFailed(err)
	}
	res.RepositoryID = out.RepositoryID
	res.Stats = out.Stats

	rep.emit(StageCleanup, "removing temporary clone")
	if rec != nil {
		o.advance(bg, rec, tracker.StatusPendingCleanup, logger)
		if err := o.deps.Tracker.Release(bg, rec); err != nil {
			logger.Warn("releasing clone tracker", "tracker", rec.ID, "error", err)
		}
	}

	res.Warnings = warn.list()
	res.Success = true
	res.Duration = o.now().Sub(start)
	rep.emit(StageDone, fmt.Sprintf("%d commits, %d pull requests, %d issues",
		res.Stats.Commits, res.Stats.PullRequests, res.Stats.Issues))
	logger.Info("repository ingested",
		"commits", res.Stats.Commits,
		"pull_requests", res.Stats.PullRequests,
		"issues", res.Stats.Issues,
		"files", res.Stats.FilesAnalyzed,
		"warnings", len(res.Warnings),
		"duration", res.Duration.String(),
	)
	return *res
}

// clonePath holds the outcome of the clone side of a repository. rec is
// set as soon as the tracker exists so a panic further down can still be
// cleaned up.
type clonePath struct {
	rec    *store.CloneTracker
	result *clone.Result
}

// cloneAndExtract runs the clone path into cp. cp.result is never nil on
// return; cp.rec is nil only when no directory was tracked.
func (o *Orchestrator) cloneAndExtract(ctx context.Context, t clone.Target, rep *reporter, logger *slog.Logger, cp *clonePath) {
	dir, err := o.deps.Cloner.TempDir(t)
	if err != nil {
		cp.result = &clone.Result{Err: err}
		return
	}

	rec, err := o.deps.Tracker.Start(ctx, o.deps.User, t.URL, dir)
	if err != nil {
		if rerr := os.RemoveAll(dir); rerr != nil {
			logger.Warn("removing untracked clone directory", "path", dir, "error", rerr)
		}
		cp.result = &clone.Result{Err: err}
		return
	}
	cp.rec = rec

	rep.emit(StageCloning, "cloning "+t.CloneURL())
	if err := o.deps.Cloner.Clone(ctx, t, dir); err != nil {
		if clone.IsEmptyRepository(err) {
			o.advance(context.WithoutCancel(ctx), rec, tracker.StatusExtracting, logger)
			rep.emit(StageExtracting, "empty repository")
			cp.result = &clone.Result{Success: true, TempPath: dir}
			return
		}
		o.failTracker(rec, err, logger)
		cp.result = &clone.Result{TempPath: dir, Err: err}
		return
	}

	o.advance(context.WithoutCancel(ctx), rec, tracker.StatusExtracting, logger)
	rep.emit(StageExtracting, "reading commit history")
	cloned, err := o.deps.Cloner.Extract(ctx, dir)
	if err != nil {
		o.failTracker(rec, err, logger)
		cp.result = &clone.Result{TempPath: dir, Err: err}
		return
	}
	cp.result = cloned
}

func (o *Orchestrator) failTracker(rec *store.CloneTracker, cause error, logger *slog.Logger) {
	if err := o.deps.Tracker.Fail(context.Background(), rec, cause); err != nil {
		logger.Error("failing clone tracker", "tracker", rec.ID, "error", err)
	}
}

func (o *Orchestrator) advance(ctx context.Context, rec *store.CloneTracker, status string, logger *slog.Logger) {
	if rec == nil || tracker.IsTerminal(rec.Status) {
		return
	}
	if err := o.deps.Tracker.Advance(ctx, rec, status); err != nil {
		logger.Warn("advancing clone tracker", "tracker", rec.ID, "status", status, "error", err)
	}
}

func apiDetail(api *reconcile.APIResult) string {
	if api == nil {
		return "unavailable"
	}
	return fmt.Sprintf("%d collaborators, %d pull requests, %d issues",
		len(api.Collaborators), len(api.PullRequests), len(api.Issues))
}

// Summary aggregates a batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Warnings  int
	Stats     reconcile.Stats
}

// Summarize totals results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.Warnings += len(r.Warnings)
		s.Stats.Commits += r.Stats.Commits
		s.Stats.Branches += r.Stats.Branches
		s.Stats.Collaborators += r.Stats.Collaborators
		s.Stats.PullRequests += r.Stats.PullRequests
		s.Stats.Reviews += r.Stats.Reviews
		s.Stats.Issues += r.Stats.Issues
		s.Stats.Comments += r.Stats.Comments
		s.Stats.FilesAnalyzed += r.Stats.FilesAnalyzed
		s.Stats.FunctionsAnalyzed += r.Stats.FunctionsAnalyzed
	}
	return s
}
