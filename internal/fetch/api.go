package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/quickgrade/internal/clone"
	"github.com/jacklau/quickgrade/internal/github"
	"github.com/jacklau/quickgrade/internal/reconcile"
)

// subFetchConcurrency bounds the per-repository review and comment
// fan-out. The client's own limiter still applies across the batch.
const subFetchConcurrency = 8

// API is the subset of the GitHub client the orchestrator uses.
type API interface {
	GetRepository(ctx context.Context, owner, repo string) (*github.Repository, error)
	ListCollaborators(ctx context.Context, owner, repo string) ([]github.Collaborator, error)
	ListBranches(ctx context.Context, owner, repo string) ([]github.Branch, error)
	ListPullRequests(ctx context.Context, owner, repo string) ([]github.PullRequest, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]github.Review, error)
	ListIssues(ctx context.Context, owner, repo string) ([]github.Issue, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, error)
	Quota() *github.Quota
}

var _ API = (*github.Client)(nil)

// warnings collects partial-failure messages from concurrent fetches.
type warnings struct {
	mu   sync.Mutex
	msgs []string
}

func (w *warnings) add(format string, args ...any) {
	w.mu.Lock()
	w.msgs = append(w.msgs, fmt.Sprintf(format, args...))
	w.mu.Unlock()
}

func (w *warnings) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.msgs...)
}

// fetchAPI gathers everything the API knows about t. Repository metadata
// comes first and its failure aborts the fetch. Every later call degrades
// to an empty result and a warning.
func fetchAPI(ctx context.Context, api API, t clone.Target, warn *warnings, logger *slog.Logger) (*reconcile.APIResult, error) {
	meta, err := api.GetRepository(ctx, t.Owner, t.Name)
	if err != nil {
		return nil, err
	}

	res := &reconcile.APIResult{
		Repository: meta,
		Reviews:    make(map[int][]github.Review),
		Comments:   make(map[int][]github.Comment),
	}

	var g errgroup.Group
	goGuarded(&g, func() {
		collabs, err := api.ListCollaborators(ctx, t.Owner, t.Name)
		if err != nil {
			logger.Warn("collaborators unavailable", "error", err)
			warn.add("collaborators unavailable: %v", err)
			return
		}
		res.Collaborators = collabs
	})
	goGuarded(&g, func() {
		branches, err := api.ListBranches(ctx, t.Owner, t.Name)
		if err != nil {
			logger.Warn("branches unavailable", "error", err)
			warn.add("branches unavailable: %v", err)
			return
		}
		res.Branches = branches
	})
	waitGuarded(&g)

	g = errgroup.Group{}
	goGuarded(&g, func() {
		prs, err := api.ListPullRequests(ctx, t.Owner, t.Name)
		if err != nil {
			logger.Warn("pull requests unavailable", "error", err)
			warn.add("pull requests unavailable: %v", err)
			return
		}
		res.PullRequests = prs
	})
	goGuarded(&g, func() {
		issues, err := api.ListIssues(ctx, t.Owner, t.Name)
		if err != nil {
			logger.Warn("issues unavailable", "error", err)
			warn.add("issues unavailable: %v", err)
			return
		}
		res.Issues = issues
	})
	waitGuarded(&g)

	var (
		mu              sync.Mutex
		reviewFailures  int
		commentFailures int
	)
	g = errgroup.Group{}
	g.SetLimit(subFetchConcurrency)
	for _, pr := range res.PullRequests {
		goGuarded(&g, func() {
			reviews, err := api.ListReviews(ctx, t.Owner, t.Name, pr.Number)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Debug("reviews unavailable", "pull_request", pr.Number, "error", err)
				reviewFailures++
				reviews = []github.Review{}
			}
			res.Reviews[pr.Number] = reviews
		})
	}
	for _, is := range res.Issues {
		if is.CommentCount == 0 {
			continue
		}
		goGuarded(&g, func() {
			comments, err := api.ListIssueComments(ctx, t.Owner, t.Name, is.Number)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Debug("comments unavailable", "issue", is.Number, "error", err)
				commentFailures++
				comments = []github.Comment{}
			}
			res.Comments[is.Number] = comments
		})
	}
	waitGuarded(&g)

	if reviewFailures > 0 {
		logger.Warn("reviews unavailable for some pull requests", "count", reviewFailures)
		warn.add("reviews unavailable for %d pull requests", reviewFailures)
	}
	if commentFailures > 0 {
		logger.Warn("comments unavailable for some issues", "count", commentFailures)
		warn.add("comments unavailable for %d issues", commentFailures)
	}

	if q := api.Quota(); q != nil {
		res.QuotaRemaining = q.Remaining()
	}
	return res, nil
}
