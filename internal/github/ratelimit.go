package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultThrottleThreshold is the remaining request count below which
	// requests wait for the quota reset.
	DefaultThrottleThreshold = 100

	// maxQuotaWait caps a single wait for the quota reset.
	maxQuotaWait = 60 * time.Second
)

// RateLimitInfo holds parsed rate limit information from GitHub API response headers.
type RateLimitInfo struct {
	Remaining int
	Reset     time.Time
	Observed  time.Time
}

// ParseRateLimit extracts rate limit information from a GitHub API HTTP response.
// Returns nil if the relevant headers are not present.
func ParseRateLimit(resp *http.Response) *RateLimitInfo {
	if resp == nil {
		return nil
	}

	remainingStr := resp.Header.Get("X-RateLimit-Remaining")
	resetStr := resp.Header.Get("X-RateLimit-Reset")

	if remainingStr == "" && resetStr == "" {
		return nil
	}

	info := &RateLimitInfo{
		Observed: time.Now(),
	}

	if remainingStr != "" {
		remaining, err := strconv.Atoi(remainingStr)
		if err == nil {
			info.Remaining = remaining
		}
	}

	if resetStr != "" {
		resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
		if err == nil {
			info.Reset = time.Unix(resetUnix, 0)
		}
	}

	return info
}

// ShouldThrottle returns true when the remaining rate limit is below threshold.
func (r *RateLimitInfo) ShouldThrottle(threshold int) bool {
	if r == nil {
		return false
	}
	return r.Remaining < threshold
}

// WaitDuration returns how long to wait for the quota reset as seen from now,
// including one second of slack and capped at 60 seconds. Returns zero if
// the reset time has already passed.
func (r *RateLimitInfo) WaitDuration(now time.Time) time.Duration {
	if r == nil || r.Reset.IsZero() {
		return 0
	}
	d := r.Reset.Sub(now) + time.Second
	if d <= 0 {
		return 0
	}
	if d > maxQuotaWait {
		return maxQuotaWait
	}
	return d
}

// QuotaExceededError is returned when the API rejects a request because the
// quota is exhausted. Callers should skip the affected data rather than retry
// before Reset.
type QuotaExceededError struct {
	Reset time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("API quota exceeded, resets at %s", e.Reset.UTC().Format(time.RFC3339))
}

// Quota is the rate limit state shared by every request a Client issues.
// It is written only from the response path; readers take a Snapshot and
// tolerate it being slightly stale.
type Quota struct {
	mu    sync.Mutex
	known bool
	info  RateLimitInfo
}

// NewQuota returns an empty quota. Until the first response is observed no
// request is throttled.
func NewQuota() *Quota {
	return &Quota{}
}

// Update records the rate limit reported by a response. Nil info is ignored.
func (q *Quota) Update(info *RateLimitInfo) {
	if info == nil {
		return
	}
	q.mu.Lock()
	q.info = *info
	q.known = true
	q.mu.Unlock()
}

// Snapshot returns a copy of the last observed rate limit, or nil if no
// response carrying rate limit headers has been seen yet.
func (q *Quota) Snapshot() *RateLimitInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.known {
		return nil
	}
	info := q.info
	return &info
}

// Remaining returns the last observed remaining count, or -1 when unknown.
func (q *Quota) Remaining() int {
	snap := q.Snapshot()
	if snap == nil {
		return -1
	}
	return snap.Remaining
}

// Wait blocks until the quota is expected to have reset when fewer than
// threshold requests remain. The wait is capped at 60 seconds and returns
// early with the context error if ctx is cancelled.
func (q *Quota) Wait(ctx context.Context, threshold int, sleep func(context.Context, time.Duration) error) (time.Duration, error) {
	snap := q.Snapshot()
	if !snap.ShouldThrottle(threshold) {
		return 0, nil
	}
	wait := snap.WaitDuration(time.Now())
	if wait <= 0 {
		return 0, nil
	}
	return wait, sleep(ctx, wait)
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsServerError returns true if the response has a 5xx status code.
func IsServerError(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 500 && resp.StatusCode < 600
}
