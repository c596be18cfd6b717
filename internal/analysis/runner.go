// Package analysis measures source files of a cloned repository: size and
// cyclomatic complexity for every supported language, plus cognitive
// complexity for Python through an external tool.
package analysis

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the analysis of one repository.
type Result struct {
	Files []FileMetrics `json:"files"`
}

// FunctionCount returns the number of functions across all files.
func (r *Result) FunctionCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, f := range r.Files {
		n += len(f.Functions)
	}
	return n
}

// Runner runs both analyzers over a checkout and merges their output.
type Runner struct {
	structural *StructuralAnalyzer
	cognitive  *CognitiveAnalyzer
	logger     *slog.Logger
}

// NewRunner creates a Runner. A nil cognitive analyzer disables cognitive
// scores.
func NewRunner(structural *StructuralAnalyzer, cognitive *CognitiveAnalyzer, logger *slog.Logger) *Runner {
	if structural == nil {
		structural = NewStructuralAnalyzer(StructuralOptions{Logger: logger})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{structural: structural, cognitive: cognitive, logger: logger}
}

// Analyze runs the structural and cognitive analyzers concurrently over
// root. Structural records are primary; Python files receive the cognitive
// score for their path when one exists. Only a structural failure is
// returned as an error.
func (r *Runner) Analyze(ctx context.Context, root string) (*Result, error) {
	start := time.Now()

	var (
		files  []FileMetrics
		scores map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = r.structural.Analyze(gctx, root)
		return err
	})
	if r.cognitive != nil {
		g.Go(func() error {
			scores = r.cognitive.Analyze(gctx, root)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := 0
	for i := range files {
		if files[i].Language != LangPython {
			continue
		}
		if score, ok := scores[files[i].Path]; ok {
			files[i].CognitiveComplexity = &score
			merged++
		}
	}

	res := &Result{Files: files}
	r.logger.Info("analysis complete",
		"files", len(files),
		"functions", res.FunctionCount(),
		"cognitive_scored", merged,
		"duration", time.Since(start),
	)
	return res, nil
}
