package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jacklau/quickgrade/internal/analysis"
	"github.com/jacklau/quickgrade/internal/reconcile"
)

// ListCollaborators returns the collaborators linked to a repository,
// ordered by GitHub ID.
func (d *DB) ListCollaborators(ctx context.Context, repoID int64) ([]reconcile.Collaborator, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT c.github_id, c.login, c.name, c.email, c.avatar_url, c.html_url, rc.role, rc.contributions
		FROM repository_collaborators rc
		JOIN collaborators c ON c.github_id = rc.collaborator_id
		WHERE rc.repo_id = ?
		ORDER BY c.github_id`, repoID)
	if err != nil {
		return nil, fmt.Errorf("querying collaborators: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Collaborator
	for rows.Next() {
		var c reconcile.Collaborator
		if err := rows.Scan(&c.GitHubID, &c.Login, &c.Name, &c.Email, &c.AvatarURL, &c.HTMLURL, &c.Role, &c.Contributions); err != nil {
			return nil, fmt.Errorf("scanning collaborator: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListBranches returns a repository's branches ordered by name.
func (d *DB) ListBranches(ctx context.Context, repoID int64) ([]reconcile.Branch, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name, sha, protected, is_default FROM branches WHERE repo_id = ? ORDER BY name`, repoID)
	if err != nil {
		return nil, fmt.Errorf("querying branches: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Branch
	for rows.Next() {
		var b reconcile.Branch
		var protected, isDefault int
		if err := rows.Scan(&b.Name, &b.SHA, &protected, &isDefault); err != nil {
			return nil, fmt.Errorf("scanning branch: %w", err)
		}
		b.Protected = protected != 0
		b.IsDefault = isDefault != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListCommits returns a repository's commits, newest first.
func (d *DB) ListCommits(ctx context.Context, repoID int64) ([]reconcile.Commit, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT sha, message, author_name, author_email, authored_at, committer_name, committer_email,
			committed_at, parents, additions, deletions, files_changed, collaborator_id
		FROM commits WHERE repo_id = ? ORDER BY committed_at DESC, sha`, repoID)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Commit
	for rows.Next() {
		var c reconcile.Commit
		var authoredAt, committedAt, parents string
		var collaborator sql.NullInt64
		err := rows.Scan(&c.SHA, &c.Message, &c.AuthorName, &c.AuthorEmail, &authoredAt,
			&c.CommitterName, &c.CommitterEmail, &committedAt, &parents,
			&c.Additions, &c.Deletions, &c.FilesChanged, &collaborator)
		if err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		c.AuthoredAt = parseTime(authoredAt)
		c.CommittedAt = parseTime(committedAt)
		if parents != "" {
			c.ParentSHAs = strings.Split(parents, ",")
		}
		c.CollaboratorID = collaborator.Int64
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPullRequests returns a repository's pull requests ordered by number.
func (d *DB) ListPullRequests(ctx context.Context, repoID int64) ([]reconcile.PullRequest, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT github_id, number, title, body, state, draft, author_login, collaborator_id, head_ref,
			base_ref, additions, deletions, changed_files, commit_count, labels, html_url,
			created_at, updated_at, closed_at, merged_at
		FROM pull_requests WHERE repo_id = ? ORDER BY number`, repoID)
	if err != nil {
		return nil, fmt.Errorf("querying pull requests: %w", err)
	}
	defer rows.Close()

	var out []reconcile.PullRequest
	for rows.Next() {
		var pr reconcile.PullRequest
		var draft int
		var collaborator sql.NullInt64
		var labels, createdAt, updatedAt string
		var closedAt, mergedAt sql.NullString
		err := rows.Scan(&pr.GitHubID, &pr.Number, &pr.Title, &pr.Body, &pr.State, &draft,
			&pr.AuthorLogin, &collaborator, &pr.HeadRef, &pr.BaseRef, &pr.Additions, &pr.Deletions,
			&pr.ChangedFiles, &pr.Commits, &labels, &pr.HTMLURL, &createdAt, &updatedAt, &closedAt, &mergedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning pull request: %w", err)
		}
		pr.Draft = draft != 0
		pr.CollaboratorID = collaborator.Int64
		pr.Labels = unmarshalLabels(labels)
		pr.CreatedAt = parseTime(createdAt)
		pr.UpdatedAt = parseTime(updatedAt)
		pr.ClosedAt = parseNullTime(closedAt)
		pr.MergedAt = parseNullTime(mergedAt)
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ListIssues returns a repository's issues ordered by number.
func (d *DB) ListIssues(ctx context.Context, repoID int64) ([]reconcile.Issue, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT github_id, number, title, body, state, author_login, collaborator_id, labels,
			comment_count, html_url, created_at, updated_at, closed_at
		FROM issues WHERE repo_id = ? ORDER BY number`, repoID)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Issue
	for rows.Next() {
		var is reconcile.Issue
		var collaborator sql.NullInt64
		var labels, createdAt, updatedAt string
		var closedAt sql.NullString
		err := rows.Scan(&is.GitHubID, &is.Number, &is.Title, &is.Body, &is.State, &is.AuthorLogin,
			&collaborator, &labels, &is.CommentCount, &is.HTMLURL, &createdAt, &updatedAt, &closedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		is.CollaboratorID = collaborator.Int64
		is.Labels = unmarshalLabels(labels)
		is.CreatedAt = parseTime(createdAt)
		is.UpdatedAt = parseTime(updatedAt)
		is.ClosedAt = parseNullTime(closedAt)
		out = append(out, is)
	}
	return out, rows.Err()
}

// ListFileAnalyses returns the stored analysis for a repository, with
// each file's functions, ordered by path.
func (d *DB) ListFileAnalyses(ctx context.Context, repoID int64) ([]analysis.FileMetrics, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, path, language, nloc, ccn, token_count, cognitive_complexity
		FROM file_analyses WHERE repo_id = ? ORDER BY path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("querying file analyses: %w", err)
	}

	var files []analysis.FileMetrics
	var ids []int64
	for rows.Next() {
		var id int64
		var f analysis.FileMetrics
		var cognitive sql.NullInt64
		if err := rows.Scan(&id, &f.Path, &f.Language, &f.LinesOfCode, &f.CyclomaticComplexity, &f.TokenCount, &cognitive); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning file analysis: %w", err)
		}
		if cognitive.Valid {
			v := int(cognitive.Int64)
			f.CognitiveComplexity = &v
		}
		files = append(files, f)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The pool holds one connection, so functions are loaded after the
	// file cursor is closed.
	for i, id := range ids {
		fns, err := d.listFunctions(ctx, id)
		if err != nil {
			return nil, err
		}
		files[i].Functions = fns
	}
	return files, nil
}

func (d *DB) listFunctions(ctx context.Context, fileID int64) ([]analysis.FunctionMetrics, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, signature, start_line, end_line, nloc, ccn, token_count, param_count
		FROM function_analyses WHERE file_id = ? ORDER BY start_line, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("querying function analyses: %w", err)
	}
	defer rows.Close()

	var out []analysis.FunctionMetrics
	for rows.Next() {
		var fn analysis.FunctionMetrics
		err := rows.Scan(&fn.Name, &fn.Signature, &fn.StartLine, &fn.EndLine, &fn.LinesOfCode,
			&fn.CyclomaticComplexity, &fn.TokenCount, &fn.ParamCount)
		if err != nil {
			return nil, fmt.Errorf("scanning function analysis: %w", err)
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}

func unmarshalLabels(s string) []string {
	labels := []string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &labels)
	}
	return labels
}
