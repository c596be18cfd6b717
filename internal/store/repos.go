package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Fetch status values for a repository row.
const (
	FetchPending   = "pending"
	FetchRunning   = "fetching"
	FetchSucceeded = "success"
	FetchFailed    = "failed"
)

// Repo is a stored repository, owned by the user who ingested it.
type Repo struct {
	ID            int64
	User          string
	GitHubID      int64
	Owner         string
	Name          string
	FullName      string
	URL           string
	Description   string
	DefaultBranch string
	Private       bool
	FetchStatus   string
	FetchError    string
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const repoColumns = `id, user, github_id, owner, name, full_name, url, description, default_branch,
	private, fetch_status, fetch_error, last_fetched_at, created_at, updated_at`

// BeginFetch creates the repository row if needed and marks it as being
// fetched. It returns the row ID.
func (d *DB) BeginFetch(ctx context.Context, user, owner, name, url string) (int64, error) {
	now := formatTime(d.now())
	var id int64
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO repositories (user, owner, name, full_name, url, fetch_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user, full_name) DO UPDATE SET
			url = excluded.url,
			fetch_status = excluded.fetch_status,
			fetch_error = '',
			updated_at = excluded.updated_at
		RETURNING id`,
		user, owner, name, owner+"/"+name, url, FetchRunning, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("beginning fetch of %s/%s: %w", owner, name, err)
	}
	return id, nil
}

// MarkFetchFailed records a failed fetch on a repository row.
func (d *DB) MarkFetchFailed(ctx context.Context, id int64, reason string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE repositories SET fetch_status = ?, fetch_error = ?, updated_at = ? WHERE id = ?`,
		FetchFailed, reason, formatTime(d.now()), id,
	)
	if err != nil {
		return fmt.Errorf("marking fetch failed: %w", err)
	}
	return nil
}

// GetRepo retrieves a repository by its ID.
func (d *DB) GetRepo(ctx context.Context, id int64) (*Repo, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepo(row)
}

// GetRepoByFullName retrieves a user's repository by "owner/name".
func (d *DB) GetRepoByFullName(ctx context.Context, user, fullName string) (*Repo, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE user = ? AND full_name = ?`,
		user, fullName,
	)
	return scanRepo(row)
}

// ListRepos returns stored repositories. An empty user lists every user's.
func (d *DB) ListRepos(ctx context.Context, user string) ([]Repo, error) {
	query := `SELECT ` + repoColumns + ` FROM repositories`
	var args []any
	if user != "" {
		query += ` WHERE user = ?`
		args = append(args, user)
	}
	query += ` ORDER BY user, full_name`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepo(row rowScanner) (*Repo, error) {
	var r Repo
	var githubID sql.NullInt64
	var private int
	var lastFetched sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.User, &githubID, &r.Owner, &r.Name, &r.FullName, &r.URL,
		&r.Description, &r.DefaultBranch, &private, &r.FetchStatus, &r.FetchError,
		&lastFetched, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning repository: %w", err)
	}

	r.GitHubID = githubID.Int64
	r.Private = private != 0
	r.LastFetchedAt = parseNullTime(lastFetched)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}
