package clone

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ExtractBranches lists every branch of a local repository. Remote-tracking
// refs are preferred; local heads fill in branches with no remote
// counterpart. The branch HEAD points at is marked default.
func ExtractBranches(repo *git.Repository) ([]Branch, error) {
	var defaultName string
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		defaultName = head.Name().Short()
	}

	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	remote := make(map[string]string)
	local := make(map[string]string)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		switch {
		case name.IsRemote():
			_, branch, ok := strings.Cut(name.Short(), "/")
			if !ok || branch == "HEAD" {
				return nil
			}
			remote[branch] = ref.Hash().String()
		case name.IsBranch():
			local[name.Short()] = ref.Hash().String()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking references: %w", err)
	}

	tips := local
	for name, sha := range remote {
		tips[name] = sha
	}

	out := make([]Branch, 0, len(tips))
	for name, sha := range tips {
		out = append(out, Branch{Name: name, SHA: sha, IsDefault: name == defaultName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ExtractCommits walks the history of every branch and returns each
// reachable commit exactly once, in first-seen order.
func ExtractCommits(ctx context.Context, repo *git.Repository, branches []Branch, logger *slog.Logger) ([]Commit, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[plumbing.Hash]struct{})
	var out []Commit

	for _, b := range branches {
		iter, err := repo.Log(&git.LogOptions{From: plumbing.NewHash(b.SHA)})
		if err != nil {
			return nil, fmt.Errorf("reading log of %s: %w", b.Name, err)
		}
		err = iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, ok := seen[c.Hash]; ok {
				return nil
			}
			seen[c.Hash] = struct{}{}
			out = append(out, convertCommit(ctx, c, logger))
			return nil
		})
		iter.Close()
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", b.Name, err)
		}
	}
	return out, nil
}

func convertCommit(ctx context.Context, c *object.Commit, logger *slog.Logger) Commit {
	out := Commit{
		SHA:            c.Hash.String(),
		Message:        strings.TrimRight(c.Message, "\n"),
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		AuthoredAt:     c.Author.When.UTC(),
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommittedAt:    c.Committer.When.UTC(),
	}
	for _, p := range c.ParentHashes {
		out.ParentSHAs = append(out.ParentSHAs, p.String())
	}

	stats, err := c.StatsContext(ctx)
	if err != nil {
		logger.Debug("commit stats unavailable", "sha", out.SHA, "error", err)
		return out
	}
	for _, s := range stats {
		out.Additions += s.Addition
		out.Deletions += s.Deletion
	}
	out.FilesChanged = len(stats)
	return out
}
