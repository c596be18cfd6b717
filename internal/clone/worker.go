// Package clone clones repositories into private temporary directories and
// reads commit and branch history from the local object database.
package clone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultBaseDir is where temporary clones are created.
const DefaultBaseDir = "/tmp/quickgrade_clones"

// TokenSource yields the credential used to authenticate clones.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Commit is one commit read from the local repository.
type Commit struct {
	SHA            string
	Message        string
	AuthorName     string
	AuthorEmail    string
	AuthoredAt     time.Time
	CommitterName  string
	CommitterEmail string
	CommittedAt    time.Time
	ParentSHAs     []string
	Additions      int
	Deletions      int
	FilesChanged   int
}

// Branch is a branch read from the local repository. Protection is unknown
// locally and left to the API.
type Branch struct {
	Name      string
	SHA       string
	IsDefault bool
}

// Result is the output of one clone and extraction.
type Result struct {
	Success  bool
	TempPath string
	Commits  []Commit
	Branches []Branch
	Err      error
}

// Options configures a Worker.
type Options struct {
	BaseDir string
	Token   TokenSource
	Logger  *slog.Logger
}

// Worker clones repositories and extracts their history.
type Worker struct {
	baseDir string
	token   TokenSource
	logger  *slog.Logger
}

// NewWorker creates a Worker. A nil Token clones anonymously.
func NewWorker(opts Options) *Worker {
	if opts.BaseDir == "" {
		opts.BaseDir = DefaultBaseDir
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{baseDir: opts.BaseDir, token: opts.Token, logger: opts.Logger}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TempDir creates a fresh, uniquely named directory for the target.
func (w *Worker) TempDir(t Target) (string, error) {
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("creating clone base dir: %w", err)
	}
	prefix := fmt.Sprintf("qg_%s_%s_", unsafeChars.ReplaceAllString(t.Owner, "-"), unsafeChars.ReplaceAllString(t.Name, "-"))
	dir, err := os.MkdirTemp(w.baseDir, prefix)
	if err != nil {
		return "", fmt.Errorf("creating clone dir: %w", err)
	}
	return dir, nil
}

// Clone clones every branch of the target into dir, which must be empty.
func (w *Worker) Clone(ctx context.Context, t Target, dir string) error {
	opts := &git.CloneOptions{
		URL:  t.CloneURL(),
		Tags: git.NoTags,
	}
	if w.token != nil {
		tok, err := w.token.Token(ctx)
		if err != nil {
			return fmt.Errorf("resolving clone token: %w", err)
		}
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: tok}
	}

	start := time.Now()
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return fmt.Errorf("cloning %s: %w", t.FullName(), err)
	}
	w.logger.Debug("clone complete", "repo", t.FullName(), "dir", dir, "duration", time.Since(start))
	return nil
}

// Extract reads branches and commits from the repository at dir.
func (w *Worker) Extract(ctx context.Context, dir string) (*Result, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	branches, err := ExtractBranches(repo)
	if err != nil {
		return nil, err
	}

	commits, err := ExtractCommits(ctx, repo, branches, w.logger)
	if err != nil {
		return nil, err
	}

	return &Result{
		Success:  true,
		TempPath: dir,
		Commits:  commits,
		Branches: branches,
	}, nil
}

// Run clones the target into dir and extracts it. Failures are reported in
// the Result rather than returned.
func (w *Worker) Run(ctx context.Context, t Target, dir string) *Result {
	if err := w.Clone(ctx, t, dir); err != nil {
		if IsEmptyRepository(err) {
			return &Result{Success: true, TempPath: dir}
		}
		return &Result{TempPath: dir, Err: err}
	}
	res, err := w.Extract(ctx, dir)
	if err != nil {
		return &Result{TempPath: dir, Err: err}
	}
	return res
}

// IsEmptyRepository reports whether err means the remote has no commits.
// Such a clone is a success with no history to read.
func IsEmptyRepository(err error) bool {
	return errors.Is(err, transport.ErrEmptyRemoteRepository)
}
