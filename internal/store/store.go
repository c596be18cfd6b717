package store

import (
	"context"

	"github.com/jacklau/quickgrade/internal/reconcile"
)

// RepoStore is the repository bookkeeping used by the fetch orchestrator.
type RepoStore interface {
	reconcile.Writer

	// BeginFetch creates or resets a repository row as being fetched.
	BeginFetch(ctx context.Context, user, owner, name, url string) (int64, error)

	// MarkFetchFailed records the reason a fetch failed.
	MarkFetchFailed(ctx context.Context, id int64, reason string) error
}

// TrackerStore persists clone trackers.
type TrackerStore interface {
	CreateTracker(ctx context.Context, t *CloneTracker) error
	UpdateTracker(ctx context.Context, t *CloneTracker) error
	GetTracker(ctx context.Context, id string) (*CloneTracker, error)
	ListTrackers(ctx context.Context, f TrackerFilter) ([]CloneTracker, error)
}

// Compile-time checks that *DB satisfies the store interfaces.
var (
	_ RepoStore    = (*DB)(nil)
	_ TrackerStore = (*DB)(nil)
)
