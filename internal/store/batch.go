package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jacklau/quickgrade/internal/reconcile"
)

// SaveBatch writes one repository's reconciled records in a single
// transaction. Every record is upserted by its natural key so that
// re-ingesting the same repository leaves one row per entity. When the
// batch carries analysis, the repository's previous analysis is replaced.
func (d *DB) SaveBatch(ctx context.Context, b *reconcile.Batch) (int64, error) {
	if b.FetchedAt.IsZero() {
		b.FetchedAt = d.now().UTC()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	repoID, err := d.upsertRepository(ctx, tx, b)
	if err != nil {
		return 0, err
	}

	steps := []struct {
		name string
		fn   func(context.Context, *sql.Tx, int64, *reconcile.Batch) error
	}{
		{"collaborators", saveCollaborators},
		{"branches", saveBranches},
		{"commits", saveCommits},
		{"pull requests", savePullRequests},
		{"reviews", saveReviews},
		{"issues", saveIssues},
		{"comments", saveComments},
		{"analysis", d.saveAnalysis},
	}
	for _, s := range steps {
		if err := s.fn(ctx, tx, repoID, b); err != nil {
			return 0, fmt.Errorf("saving %s: %w", s.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return repoID, nil
}

func (d *DB) upsertRepository(ctx context.Context, tx *sql.Tx, b *reconcile.Batch) (int64, error) {
	r := b.Repository
	now := formatTime(d.now())
	fetchedAt := formatTime(b.FetchedAt)

	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO repositories (user, github_id, owner, name, full_name, url, description,
			default_branch, private, fetch_status, fetch_error, last_fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)
		ON CONFLICT(user, full_name) DO UPDATE SET
			github_id = COALESCE(excluded.github_id, repositories.github_id),
			url = excluded.url,
			description = CASE WHEN excluded.github_id IS NULL THEN repositories.description ELSE excluded.description END,
			default_branch = CASE WHEN excluded.default_branch = '' THEN repositories.default_branch ELSE excluded.default_branch END,
			private = CASE WHEN excluded.github_id IS NULL THEN repositories.private ELSE excluded.private END,
			fetch_status = excluded.fetch_status,
			fetch_error = '',
			last_fetched_at = excluded.last_fetched_at,
			updated_at = excluded.updated_at
		RETURNING id`,
		b.User, nullID(r.GitHubID), r.Owner, r.Name, r.FullName, r.URL, r.Description,
		r.DefaultBranch, boolInt(r.Private), FetchSucceeded, fetchedAt, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting repository %s: %w", r.FullName, err)
	}
	return id, nil
}

func saveCollaborators(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.Collaborators) == 0 {
		return nil
	}
	userStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO collaborators (github_id, login, name, email, avatar_url, html_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			login = excluded.login,
			name = CASE WHEN excluded.name = '' THEN collaborators.name ELSE excluded.name END,
			email = CASE WHEN excluded.email = '' THEN collaborators.email ELSE excluded.email END,
			avatar_url = excluded.avatar_url,
			html_url = excluded.html_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer userStmt.Close()

	linkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repository_collaborators (repo_id, collaborator_id, role, contributions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, collaborator_id) DO UPDATE SET
			role = excluded.role,
			contributions = excluded.contributions`)
	if err != nil {
		return err
	}
	defer linkStmt.Close()

	now := formatTime(b.FetchedAt)
	for _, c := range b.Collaborators {
		if _, err := userStmt.ExecContext(ctx, c.GitHubID, c.Login, c.Name, c.Email, c.AvatarURL, c.HTMLURL, now); err != nil {
			return fmt.Errorf("collaborator %s: %w", c.Login, err)
		}
		if _, err := linkStmt.ExecContext(ctx, repoID, c.GitHubID, c.Role, c.Contributions); err != nil {
			return fmt.Errorf("linking collaborator %s: %w", c.Login, err)
		}
	}
	return nil
}

func saveBranches(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.Branches) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO branches (repo_id, name, sha, protected, is_default)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, name) DO UPDATE SET
			sha = excluded.sha,
			protected = CASE WHEN ? THEN excluded.protected ELSE branches.protected END,
			is_default = excluded.is_default`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, br := range b.Branches {
		if _, err := stmt.ExecContext(ctx, repoID, br.Name, br.SHA, boolInt(br.Protected), boolInt(br.IsDefault), boolInt(br.ProtectionKnown)); err != nil {
			return fmt.Errorf("branch %s: %w", br.Name, err)
		}
	}
	return nil
}

func saveCommits(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.Commits) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commits (repo_id, sha, message, author_name, author_email, authored_at,
			committer_name, committer_email, committed_at, parents, additions, deletions,
			files_changed, collaborator_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, sha) DO UPDATE SET
			message = excluded.message,
			author_name = excluded.author_name,
			author_email = excluded.author_email,
			additions = excluded.additions,
			deletions = excluded.deletions,
			files_changed = excluded.files_changed,
			collaborator_id = excluded.collaborator_id`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range b.Commits {
		_, err := stmt.ExecContext(ctx, repoID, c.SHA, c.Message, c.AuthorName, c.AuthorEmail,
			formatTime(c.AuthoredAt), c.CommitterName, c.CommitterEmail, formatTime(c.CommittedAt),
			strings.Join(c.ParentSHAs, ","), c.Additions, c.Deletions, c.FilesChanged, nullID(c.CollaboratorID))
		if err != nil {
			return fmt.Errorf("commit %s: %w", c.SHA, err)
		}
	}
	return nil
}

func savePullRequests(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.PullRequests) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pull_requests (repo_id, github_id, number, title, body, state, draft,
			author_login, collaborator_id, head_ref, base_ref, additions, deletions, changed_files,
			commit_count, labels, html_url, created_at, updated_at, closed_at, merged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, github_id) DO UPDATE SET
			number = excluded.number,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			draft = excluded.draft,
			author_login = excluded.author_login,
			collaborator_id = excluded.collaborator_id,
			head_ref = excluded.head_ref,
			base_ref = excluded.base_ref,
			additions = excluded.additions,
			deletions = excluded.deletions,
			changed_files = excluded.changed_files,
			commit_count = excluded.commit_count,
			labels = excluded.labels,
			html_url = excluded.html_url,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at,
			merged_at = excluded.merged_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, pr := range b.PullRequests {
		labels, err := marshalLabels(pr.Labels)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, repoID, pr.GitHubID, pr.Number, pr.Title, pr.Body, pr.State,
			boolInt(pr.Draft), pr.AuthorLogin, nullID(pr.CollaboratorID), pr.HeadRef, pr.BaseRef,
			pr.Additions, pr.Deletions, pr.ChangedFiles, pr.Commits, labels, pr.HTMLURL,
			formatTime(pr.CreatedAt), formatTime(pr.UpdatedAt), nullTime(pr.ClosedAt), nullTime(pr.MergedAt))
		if err != nil {
			return fmt.Errorf("pull request #%d: %w", pr.Number, err)
		}
	}
	return nil
}

func saveReviews(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.Reviews) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reviews (repo_id, github_id, pr_number, author_login, collaborator_id, state, body, html_url, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, github_id) DO UPDATE SET
			pr_number = excluded.pr_number,
			author_login = excluded.author_login,
			collaborator_id = excluded.collaborator_id,
			state = excluded.state,
			body = excluded.body,
			html_url = excluded.html_url,
			submitted_at = excluded.submitted_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range b.Reviews {
		_, err := stmt.ExecContext(ctx, repoID, r.GitHubID, r.PRNumber, r.AuthorLogin,
			nullID(r.CollaboratorID), r.State, r.Body, r.HTMLURL, nullTime(r.SubmittedAt))
		if err != nil {
			return fmt.Errorf("review %d: %w", r.GitHubID, err)
		}
	}
	return nil
}

func saveIssues(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.Issues) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO issues (repo_id, github_id, number, title, body, state, author_login,
			collaborator_id, labels, comment_count, html_url, created_at, updated_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, github_id) DO UPDATE SET
			number = excluded.number,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			author_login = excluded.author_login,
			collaborator_id = excluded.collaborator_id,
			labels = excluded.labels,
			comment_count = excluded.comment_count,
			html_url = excluded.html_url,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, is := range b.Issues {
		labels, err := marshalLabels(is.Labels)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, repoID, is.GitHubID, is.Number, is.Title, is.Body, is.State,
			is.AuthorLogin, nullID(is.CollaboratorID), labels, is.CommentCount, is.HTMLURL,
			formatTime(is.CreatedAt), formatTime(is.UpdatedAt), nullTime(is.ClosedAt))
		if err != nil {
			return fmt.Errorf("issue #%d: %w", is.Number, err)
		}
	}
	return nil
}

func saveComments(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if len(b.Comments) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comments (repo_id, github_id, issue_number, author_login, collaborator_id, body, html_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, github_id) DO UPDATE SET
			issue_number = excluded.issue_number,
			author_login = excluded.author_login,
			collaborator_id = excluded.collaborator_id,
			body = excluded.body,
			html_url = excluded.html_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range b.Comments {
		_, err := stmt.ExecContext(ctx, repoID, c.GitHubID, c.IssueNumber, c.AuthorLogin,
			nullID(c.CollaboratorID), c.Body, c.HTMLURL, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		if err != nil {
			return fmt.Errorf("comment %d: %w", c.GitHubID, err)
		}
	}
	return nil
}

// saveAnalysis replaces the repository's analysis rows.
func (d *DB) saveAnalysis(ctx context.Context, tx *sql.Tx, repoID int64, b *reconcile.Batch) error {
	if !b.Analyzed {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_analyses WHERE repo_id = ?`, repoID); err != nil {
		return fmt.Errorf("clearing previous analysis: %w", err)
	}
	if len(b.Files) == 0 {
		return nil
	}

	fileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_analyses (repo_id, path, language, nloc, ccn, token_count, function_count, cognitive_complexity, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer fileStmt.Close()

	fnStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO function_analyses (file_id, name, signature, start_line, end_line, nloc, ccn, token_count, param_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer fnStmt.Close()

	analyzedAt := formatTime(d.now())
	for _, f := range b.Files {
		var cognitive any
		if f.CognitiveComplexity != nil {
			cognitive = *f.CognitiveComplexity
		}
		res, err := fileStmt.ExecContext(ctx, repoID, f.Path, f.Language, f.LinesOfCode,
			f.CyclomaticComplexity, f.TokenCount, len(f.Functions), cognitive, analyzedAt)
		if err != nil {
			return fmt.Errorf("file %s: %w", f.Path, err)
		}
		fileID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("file %s id: %w", f.Path, err)
		}
		for _, fn := range f.Functions {
			_, err := fnStmt.ExecContext(ctx, fileID, fn.Name, fn.Signature, fn.StartLine, fn.EndLine,
				fn.LinesOfCode, fn.CyclomaticComplexity, fn.TokenCount, fn.ParamCount)
			if err != nil {
				return fmt.Errorf("function %s in %s: %w", fn.Name, f.Path, err)
			}
		}
	}
	return nil
}

func marshalLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("marshaling labels: %w", err)
	}
	return string(data), nil
}
