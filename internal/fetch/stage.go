package fetch

import (
	"sync"
	"time"

	"github.com/jacklau/quickgrade/internal/pubsub"
)

// Stage names a step of the per-repository pipeline.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageCloning      Stage = "cloning"
	StageExtracting   Stage = "extracting_commits"
	StageAnalyzing    Stage = "analyzing_code"
	StageFetchingAPI  Stage = "fetching_api"
	StageReconciling  Stage = "reconciling"
	StageCleanup      Stage = "cleanup"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Range is the progress span, in percent, that a stage covers.
type Range struct {
	Min int
	Max int
}

var stageRanges = map[Stage]Range{
	StageInitializing: {0, 5},
	StageCloning:      {5, 25},
	StageExtracting:   {25, 40},
	StageAnalyzing:    {40, 55},
	StageFetchingAPI:  {55, 80},
	StageReconciling:  {80, 95},
	StageCleanup:      {95, 100},
	StageDone:         {100, 100},
	StageFailed:       {0, 100},
}

// Range returns the progress span of s.
func (s Stage) Range() Range {
	return stageRanges[s]
}

// Stages returns the pipeline stages in order, failed excluded.
func Stages() []Stage {
	return []Stage{
		StageInitializing, StageCloning, StageExtracting, StageAnalyzing,
		StageFetchingAPI, StageReconciling, StageCleanup, StageDone,
	}
}

// Event is one progress report for a repository.
type Event struct {
	URL         string    `json:"url"`
	Stage       Stage     `json:"stage"`
	Detail      string    `json:"detail"`
	ProgressMin int       `json:"progress_min"`
	ProgressMax int       `json:"progress_max"`
	Time        time.Time `json:"time"`
}

// ProgressFunc receives progress events. It may be called from several
// goroutines at once.
type ProgressFunc func(Event)

// reporter emits the events of one repository. A stage whose range starts
// below the last emitted one is dropped, so observers only ever see
// progress move forward. Failed is always emitted unless the repository
// already finished. Events are delivered under the lock to keep them
// ordered.
type reporter struct {
	url    string
	broker *pubsub.Broker[Event]
	fn     ProgressFunc
	now    func() time.Time

	mu       sync.Mutex
	last     int
	finished bool
}

func (r *reporter) emit(stage Stage, detail string) {
	rng := stage.Range()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || (stage != StageFailed && rng.Min < r.last) {
		return
	}

	typ := pubsub.Progress
	if stage == StageFailed || stage == StageDone {
		r.finished = true
		typ = pubsub.Completed
	} else {
		r.last = rng.Min
	}

	evt := Event{
		URL:         r.url,
		Stage:       stage,
		Detail:      detail,
		ProgressMin: rng.Min,
		ProgressMax: rng.Max,
		Time:        r.now(),
	}
	if r.broker != nil {
		r.broker.Publish(typ, evt)
	}
	if r.fn != nil {
		r.fn(evt)
	}
}
