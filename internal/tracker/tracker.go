// Package tracker keeps a durable record for every temporary clone
// directory so that directories left behind by crashes or aborted fetches
// can be found and removed.
//
// A tracker moves forward through
//
//	cloning → extracting → analyzing → pending_cleanup → cleaned
//
// and may jump to failed from any non-terminal state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jacklau/quickgrade/internal/store"
)

// Tracker statuses.
const (
	StatusCloning        = "cloning"
	StatusExtracting     = "extracting"
	StatusAnalyzing      = "analyzing"
	StatusPendingCleanup = "pending_cleanup"
	StatusCleaned        = "cleaned"
	StatusFailed         = "failed"
)

// DefaultStaleAfter is how long a non-terminal tracker may go without an
// update before a sweep treats its directory as orphaned.
const DefaultStaleAfter = time.Hour

// ErrInvalidTransition is returned when a status change would move a
// tracker backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid tracker transition")

var rank = map[string]int{
	StatusCloning:        0,
	StatusExtracting:     1,
	StatusAnalyzing:      2,
	StatusPendingCleanup: 3,
	StatusCleaned:        4,
}

// activeStatuses are the states in which work may still be touching the
// directory.
var activeStatuses = []string{StatusCloning, StatusExtracting, StatusAnalyzing}

// IsTerminal reports whether status is cleaned or failed.
func IsTerminal(status string) bool {
	return status == StatusCleaned || status == StatusFailed
}

// Options configures a Tracker.
type Options struct {
	Logger     *slog.Logger
	StaleAfter time.Duration

	// Now and RemoveAll default to time.Now and os.RemoveAll.
	Now       func() time.Time
	RemoveAll func(path string) error
}

// Tracker drives clone trackers through their lifecycle.
type Tracker struct {
	store      store.TrackerStore
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
	removeAll  func(string) error
}

// New creates a Tracker backed by s.
func New(s store.TrackerStore, opts Options) *Tracker {
	t := &Tracker{
		store:      s,
		logger:     opts.Logger,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
		removeAll:  opts.RemoveAll,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.staleAfter <= 0 {
		t.staleAfter = DefaultStaleAfter
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.removeAll == nil {
		t.removeAll = os.RemoveAll
	}
	return t
}

// Start records a new clone directory in the cloning state.
func (t *Tracker) Start(ctx context.Context, user, repoURL, tempPath string) (*store.CloneTracker, error) {
	now := t.now().UTC()
	rec := &store.CloneTracker{
		ID:        uuid.NewString(),
		User:      user,
		RepoURL:   repoURL,
		TempPath:  tempPath,
		Status:    StatusCloning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.CreateTracker(ctx, rec); err != nil {
		return nil, fmt.Errorf("starting tracker for %s: %w", repoURL, err)
	}
	return rec, nil
}

// Advance moves rec forward to status. Moving backwards, staying put,
// leaving a terminal state or entering one through Advance all fail with
// ErrInvalidTransition; use Fail and Release for terminal states.
func (t *Tracker) Advance(ctx context.Context, rec *store.CloneTracker, status string) error {
	to, ok := rank[status]
	if !ok || IsTerminal(status) || IsTerminal(rec.Status) || to <= rank[rec.Status] {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, rec.Status, status)
	}
	return t.save(ctx, rec, status, "")
}

// Fail removes rec's directory and marks it failed with cause.
func (t *Tracker) Fail(ctx context.Context, rec *store.CloneTracker, cause error) error {
	if IsTerminal(rec.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, rec.Status, StatusFailed)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	t.remove(rec)
	return t.save(ctx, rec, StatusFailed, msg)
}

// Release removes rec's directory and marks it cleaned.
func (t *Tracker) Release(ctx context.Context, rec *store.CloneTracker) error {
	if IsTerminal(rec.Status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, rec.Status, StatusCleaned)
	}
	t.remove(rec)
	return t.save(ctx, rec, StatusCleaned, rec.ErrorMessage)
}

// RecoverUser cleans up after a previous session of user: every tracker
// still cloning, extracting or analyzing, and every pending_cleanup
// tracker not updated within the stale threshold. It returns the number of
// trackers cleaned.
func (t *Tracker) RecoverUser(ctx context.Context, user string) (int, error) {
	active, err := t.store.ListTrackers(ctx, store.TrackerFilter{User: user, Statuses: activeStatuses})
	if err != nil {
		return 0, fmt.Errorf("listing active trackers: %w", err)
	}
	pending, err := t.store.ListTrackers(ctx, store.TrackerFilter{
		User:          user,
		Statuses:      []string{StatusPendingCleanup},
		UpdatedBefore: t.now().Add(-t.staleAfter),
	})
	if err != nil {
		return 0, fmt.Errorf("listing pending trackers: %w", err)
	}
	return t.sweep(ctx, append(active, pending...), "recovered at login")
}

// SweepStale cleans every non-terminal tracker not updated within maxAge.
// A non-positive maxAge uses the configured stale threshold.
func (t *Tracker) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = t.staleAfter
	}
	stale, err := t.store.ListTrackers(ctx, store.TrackerFilter{
		Statuses:      append(activeStatuses[:len(activeStatuses):len(activeStatuses)], StatusPendingCleanup),
		UpdatedBefore: t.now().Add(-maxAge),
	})
	if err != nil {
		return 0, fmt.Errorf("listing stale trackers: %w", err)
	}
	return t.sweep(ctx, stale, "stale clone swept")
}

// Run sweeps stale trackers immediately and then every interval until ctx
// is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	t.logger.Info("starting cleanup loop", "interval", interval.String(), "stale_after", t.staleAfter.String())

	if _, err := t.SweepStale(ctx, 0); err != nil {
		t.logger.Error("initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("cleanup loop stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.SweepStale(ctx, 0); err != nil {
				t.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

func (t *Tracker) sweep(ctx context.Context, recs []store.CloneTracker, reason string) (int, error) {
	cleaned := 0
	for i := range recs {
		rec := &recs[i]
		t.remove(rec)
		if err := t.save(ctx, rec, StatusCleaned, reason); err != nil {
			return cleaned, err
		}
		cleaned++
		t.logger.Info("cleaned orphaned clone", "tracker", rec.ID, "repo_url", rec.RepoURL, "reason", reason)
	}
	return cleaned, nil
}

// remove deletes rec's directory. Failures are logged and the path is
// kept on the record so it can be inspected.
func (t *Tracker) remove(rec *store.CloneTracker) {
	if rec.TempPath == "" {
		return
	}
	if err := t.removeAll(rec.TempPath); err != nil {
		t.logger.Warn("removing clone directory", "tracker", rec.ID, "path", rec.TempPath, "error", err)
		return
	}
	rec.TempPath = ""
}

func (t *Tracker) save(ctx context.Context, rec *store.CloneTracker, status, msg string) error {
	prev := *rec
	rec.Status = status
	rec.ErrorMessage = msg
	rec.UpdatedAt = t.now().UTC()
	if err := t.store.UpdateTracker(ctx, rec); err != nil {
		rec.Status, rec.ErrorMessage, rec.UpdatedAt = prev.Status, prev.ErrorMessage, prev.UpdatedAt
		return fmt.Errorf("updating tracker %s to %s: %w", rec.ID, status, err)
	}
	return nil
}
