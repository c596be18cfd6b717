package clone

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

type fixture struct {
	dir      string
	repo     *git.Repository
	mainName string
	first    plumbing.Hash
	feature  plumbing.Hash
	main     plumbing.Hash
}

// newFixture builds a repository whose default branch and "feature" branch
// share their first commit.
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	commit := func(file, content, msg string, n int) plumbing.Hash {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
		if _, err := wt.Add(file); err != nil {
			t.Fatalf("add %s: %v", file, err)
		}
		sig := &object.Signature{Name: "Alice", Email: "alice@example.com", When: base.Add(time.Duration(n) * time.Hour)}
		h, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
		if err != nil {
			t.Fatalf("commit %q: %v", msg, err)
		}
		return h
	}

	f := fixture{dir: dir, repo: repo}
	f.first = commit("a.txt", "one\n", "first\n", 0)

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	f.mainName = head.Name().Short()

	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("feature"), Create: true}); err != nil {
		t.Fatalf("checkout feature: %v", err)
	}
	f.feature = commit("b.txt", "two\nthree\n", "second", 1)

	if err := wt.Checkout(&git.CheckoutOptions{Branch: head.Name(), Force: true}); err != nil {
		t.Fatalf("checkout %s: %v", f.mainName, err)
	}
	f.main = commit("a.txt", "one\nuno\n", "third", 2)
	return f
}

func TestExtractBranches(t *testing.T) {
	f := newFixture(t)

	branches, err := ExtractBranches(f.repo)
	if err != nil {
		t.Fatalf("ExtractBranches: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("got %d branches, want 2: %+v", len(branches), branches)
	}

	byName := map[string]Branch{}
	for _, b := range branches {
		byName[b.Name] = b
	}
	if b := byName[f.mainName]; b.SHA != f.main.String() || !b.IsDefault {
		t.Errorf("%s = %+v, want tip %s and default", f.mainName, b, f.main)
	}
	if b := byName["feature"]; b.SHA != f.feature.String() || b.IsDefault {
		t.Errorf("feature = %+v, want tip %s and not default", b, f.feature)
	}
}

func TestExtractCommitsDeduplicatesSharedHistory(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(Options{BaseDir: t.TempDir()})

	res, err := w.Extract(context.Background(), f.dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.Success {
		t.Fatal("Success = false")
	}
	if len(res.Commits) != 3 {
		t.Fatalf("got %d commits, want 3", len(res.Commits))
	}

	count := map[string]int{}
	bySHA := map[string]Commit{}
	for _, c := range res.Commits {
		count[c.SHA]++
		bySHA[c.SHA] = c
	}
	if count[f.first.String()] != 1 {
		t.Errorf("shared commit seen %d times, want 1", count[f.first.String()])
	}

	first := bySHA[f.first.String()]
	if first.Message != "first" {
		t.Errorf("message = %q, want trailing newline trimmed", first.Message)
	}
	if first.AuthorEmail != "alice@example.com" || first.AuthorName != "Alice" {
		t.Errorf("author = %s <%s>", first.AuthorName, first.AuthorEmail)
	}
	if first.Additions != 1 || first.Deletions != 0 || first.FilesChanged != 1 {
		t.Errorf("first stats = +%d -%d files %d, want +1 -0 files 1", first.Additions, first.Deletions, first.FilesChanged)
	}
	if len(first.ParentSHAs) != 0 {
		t.Errorf("root commit has parents %v", first.ParentSHAs)
	}

	second := bySHA[f.feature.String()]
	if second.Additions != 2 || second.FilesChanged != 1 {
		t.Errorf("feature stats = +%d files %d, want +2 files 1", second.Additions, second.FilesChanged)
	}
	if len(second.ParentSHAs) != 1 || second.ParentSHAs[0] != f.first.String() {
		t.Errorf("feature parents = %v", second.ParentSHAs)
	}

	third := bySHA[f.main.String()]
	if third.Additions != 1 || third.Deletions != 0 {
		t.Errorf("third stats = +%d -%d, want +1 -0", third.Additions, third.Deletions)
	}
}

func TestExtractCommitsHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	branches, err := ExtractBranches(f.repo)
	if err != nil {
		t.Fatalf("ExtractBranches: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExtractCommits(ctx, f.repo, branches, nil); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestExtractNotARepository(t *testing.T) {
	w := NewWorker(Options{BaseDir: t.TempDir()})
	if _, err := w.Extract(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for a directory without a repository")
	}
}

func TestTempDirIsUniquePerCall(t *testing.T) {
	base := filepath.Join(t.TempDir(), "clones")
	w := NewWorker(Options{BaseDir: base})
	target := Target{Owner: "acme", Name: "widget"}

	a, err := w.TempDir(target)
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	b, err := w.TempDir(target)
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	if a == b {
		t.Fatalf("TempDir returned %q twice", a)
	}
	for _, d := range []string{a, b} {
		if filepath.Dir(d) != base {
			t.Errorf("%q not under %q", d, base)
		}
		if !strings.HasPrefix(filepath.Base(d), "qg_acme_widget_") {
			t.Errorf("%q lacks qg_acme_widget_ prefix", d)
		}
	}
}

func TestTempDirSanitizesNames(t *testing.T) {
	w := NewWorker(Options{BaseDir: t.TempDir()})
	d, err := w.TempDir(Target{Owner: "a b", Name: "c/d"})
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(d), "qg_a-b_c-d_") {
		t.Errorf("base = %q", filepath.Base(d))
	}
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func TestRunReportsCloneFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	target, err := ParseURL(srv.URL + "/acme/missing")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	w := NewWorker(Options{BaseDir: t.TempDir(), Token: staticToken("secret")})
	dir, err := w.TempDir(target)
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}

	res := w.Run(context.Background(), target, dir)
	if res.Success {
		t.Fatal("Success = true for a missing remote")
	}
	if res.Err == nil {
		t.Fatal("Err = nil for a missing remote")
	}
	if res.TempPath != dir {
		t.Errorf("TempPath = %q, want %q", res.TempPath, dir)
	}
}

func TestRunTreatsEmptyRemoteAsEmptyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/info/refs") {
			http.NotFound(w, r)
			return
		}
		// Smart HTTP advertisement with no refs.
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
		_, _ = w.Write([]byte("001e# service=git-upload-pack\n0000" + "0000"))
	}))
	defer srv.Close()

	target, err := ParseURL(srv.URL + "/acme/empty")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	w := NewWorker(Options{BaseDir: t.TempDir()})
	dir, err := w.TempDir(target)
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}

	err = w.Clone(context.Background(), target, dir)
	if !IsEmptyRepository(err) {
		t.Fatalf("Clone error = %v, want an empty remote", err)
	}

	res := w.Run(context.Background(), target, dir)
	if !res.Success || res.Err != nil {
		t.Fatalf("Run = %+v, want success", res)
	}
	if len(res.Commits) != 0 || len(res.Branches) != 0 {
		t.Errorf("got %d commits and %d branches, want none", len(res.Commits), len(res.Branches))
	}
	if res.TempPath != dir {
		t.Errorf("TempPath = %q, want %q", res.TempPath, dir)
	}
}

func TestIsEmptyRepository(t *testing.T) {
	if !IsEmptyRepository(fmt.Errorf("cloning acme/empty: %w", transport.ErrEmptyRemoteRepository)) {
		t.Error("wrapped empty-remote error not recognised")
	}
	if IsEmptyRepository(transport.ErrRepositoryNotFound) {
		t.Error("not-found error reported as empty")
	}
	if IsEmptyRepository(nil) {
		t.Error("nil error reported as empty")
	}
}
