package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultCognitiveCommand is the external cognitive-complexity tool.
	DefaultCognitiveCommand = "complexipy"

	// DefaultCognitiveTimeout bounds one run of the external tool.
	DefaultCognitiveTimeout = 2 * time.Minute

	// DefaultExcludeFlag is passed once per denylisted directory.
	DefaultExcludeFlag = "--exclude"

	// cognitiveOutputFile is where the tool writes JSON when it does not
	// print it.
	cognitiveOutputFile = "complexipy.json"
)

// runFunc runs name with args in dir and returns its standard output.
type runFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// CognitiveOptions configures a CognitiveAnalyzer.
type CognitiveOptions struct {
	Command     string
	ExcludeFlag string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// CognitiveAnalyzer scores Python files with an external cognitive
// complexity tool. Every failure degrades to no scores.
type CognitiveAnalyzer struct {
	command     string
	excludeFlag string
	timeout     time.Duration
	logger      *slog.Logger
	run         runFunc
}

// NewCognitiveAnalyzer creates a CognitiveAnalyzer.
func NewCognitiveAnalyzer(opts CognitiveOptions) *CognitiveAnalyzer {
	if opts.Command == "" {
		opts.Command = DefaultCognitiveCommand
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCognitiveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &CognitiveAnalyzer{
		command:     opts.Command,
		excludeFlag: opts.ExcludeFlag,
		timeout:     opts.Timeout,
		logger:      opts.Logger,
		run:         execRun,
	}
}

// Analyze returns cognitive complexity per repository-relative Python
// path. It returns nil when root has no Python files or the tool fails.
func (c *CognitiveAnalyzer) Analyze(ctx context.Context, root string) map[string]int {
	if !hasPython(root) {
		return nil
	}

	workdir, err := os.MkdirTemp("", "qg_cognitive_*")
	if err != nil {
		c.logger.Warn("cognitive analysis skipped", "error", err)
		return nil
	}
	defer os.RemoveAll(workdir)

	args := []string{root, "-j"}
	if c.excludeFlag != "" {
		for _, d := range SkippedDirs() {
			args = append(args, c.excludeFlag, d)
		}
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.run(tctx, workdir, c.command, args...)
	if err != nil {
		switch {
		case errors.Is(tctx.Err(), context.DeadlineExceeded):
			c.logger.Warn("cognitive analysis timed out", "timeout", c.timeout)
		case errors.Is(err, exec.ErrNotFound):
			c.logger.Warn("cognitive analyzer not installed", "command", c.command)
		default:
			c.logger.Warn("cognitive analysis failed", "error", err)
		}
		return nil
	}

	data := bytes.TrimSpace(out)
	if !gjson.ValidBytes(data) {
		data, err = os.ReadFile(filepath.Join(workdir, cognitiveOutputFile))
		if err != nil || !gjson.ValidBytes(data) {
			c.logger.Warn("cognitive analysis produced no JSON output")
			return nil
		}
	}

	scores := ParseCognitive(data, root)
	c.logger.Debug("cognitive analysis complete", "files", len(scores), "duration", time.Since(start))
	return scores
}

// ParseCognitive normalizes the tool's JSON into per-file scores keyed by
// slash-separated paths relative to root. It accepts a list of
// {path|file|file_path, complexity|cognitive_complexity} entries, which are
// summed per file, or an object mapping path to a score or to
// {complexity}. Paths outside root or inside the denylist are dropped.
func ParseCognitive(data []byte, root string) map[string]int {
	doc := gjson.ParseBytes(data)
	out := make(map[string]int)

	add := func(path string, score int64) {
		rel, ok := relativeTo(root, path)
		if !ok {
			return
		}
		out[rel] += int(score)
	}

	switch {
	case doc.IsArray():
		doc.ForEach(func(_, item gjson.Result) bool {
			path := firstOf(item, "path", "file", "file_path")
			score := firstOf(item, "complexity", "cognitive_complexity")
			if path.String() != "" && score.Exists() {
				add(path.String(), score.Int())
			}
			return true
		})
	case doc.IsObject():
		doc.ForEach(func(key, value gjson.Result) bool {
			switch {
			case value.IsObject():
				if score := firstOf(value, "complexity", "cognitive_complexity"); score.Exists() {
					add(key.String(), score.Int())
				}
			case value.Type == gjson.Number:
				add(key.String(), value.Int())
			}
			return true
		})
	}
	return out
}

func firstOf(item gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := item.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func relativeTo(root, path string) (string, bool) {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(root, path)
		if err != nil {
			return "", false
		}
		rel = r
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if SkipDir(part) {
			return "", false
		}
	}
	return rel, true
}

func hasPython(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".py") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func execRun(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return out, fmt.Errorf("%s: %s: %w", name, strings.TrimSpace(string(ee.Stderr)), err)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
