package reconcile

import (
	"context"
	"fmt"
	"log/slog"
)

// Writer persists a batch atomically and returns the stored repository ID.
type Writer interface {
	SaveBatch(ctx context.Context, b *Batch) (int64, error)
}

// Outcome is the result of reconciling one repository.
type Outcome struct {
	RepositoryID int64
	Stats        Stats
	Batch        *Batch
}

// Engine builds batches and hands them to a Writer.
type Engine struct {
	w      Writer
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(w Writer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{w: w, logger: logger}
}

// Reconcile merges in and writes the result in one transaction.
func (e *Engine) Reconcile(ctx context.Context, in Input) (*Outcome, error) {
	b := Build(in)
	if b.DroppedReviews > 0 || b.DroppedComments > 0 {
		e.logger.Warn("dropped orphaned records",
			"repo", b.Repository.FullName,
			"reviews", b.DroppedReviews,
			"comments", b.DroppedComments,
		)
	}

	id, err := e.w.SaveBatch(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("saving %s: %w", b.Repository.FullName, err)
	}

	stats := b.Stats()
	e.logger.Debug("reconciled",
		"repo", b.Repository.FullName,
		"repository_id", id,
		"commits", stats.Commits,
		"pull_requests", stats.PullRequests,
		"issues", stats.Issues,
	)
	return &Outcome{RepositoryID: id, Stats: stats, Batch: b}, nil
}
