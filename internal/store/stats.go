package store

import (
	"context"
	"fmt"
)

// RepoStats holds aggregate record counts for a single repository.
type RepoStats struct {
	Repo          Repo
	Collaborators int
	Branches      int
	Commits       int
	PullRequests  int
	Reviews       int
	Issues        int
	Comments      int
	Files         int
	Functions     int
}

// GetRepoStats returns aggregate statistics for a single repo.
func (d *DB) GetRepoStats(ctx context.Context, repoID int64) (*RepoStats, error) {
	repo, err := d.GetRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("getting repo: %w", err)
	}

	stats := &RepoStats{Repo: *repo}
	counts := []struct {
		dest  *int
		query string
	}{
		{&stats.Collaborators, `SELECT COUNT(*) FROM repository_collaborators WHERE repo_id = ?`},
		{&stats.Branches, `SELECT COUNT(*) FROM branches WHERE repo_id = ?`},
		{&stats.Commits, `SELECT COUNT(*) FROM commits WHERE repo_id = ?`},
		{&stats.PullRequests, `SELECT COUNT(*) FROM pull_requests WHERE repo_id = ?`},
		{&stats.Reviews, `SELECT COUNT(*) FROM reviews WHERE repo_id = ?`},
		{&stats.Issues, `SELECT COUNT(*) FROM issues WHERE repo_id = ?`},
		{&stats.Comments, `SELECT COUNT(*) FROM comments WHERE repo_id = ?`},
		{&stats.Files, `SELECT COUNT(*) FROM file_analyses WHERE repo_id = ?`},
		{&stats.Functions, `SELECT COUNT(*) FROM function_analyses fa
			JOIN file_analyses f ON f.id = fa.file_id WHERE f.repo_id = ?`},
	}
	for _, c := range counts {
		if err := d.db.QueryRowContext(ctx, c.query, repoID).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting records: %w", err)
		}
	}

	return stats, nil
}

// GetAllRepoStats returns statistics for every repository of user, or of
// all users when user is empty.
func (d *DB) GetAllRepoStats(ctx context.Context, user string) ([]RepoStats, error) {
	repos, err := d.ListRepos(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("listing repos: %w", err)
	}

	var results []RepoStats
	for _, repo := range repos {
		stats, err := d.GetRepoStats(ctx, repo.ID)
		if err != nil {
			return nil, fmt.Errorf("getting stats for %s: %w", repo.FullName, err)
		}
		results = append(results, *stats)
	}

	return results, nil
}
