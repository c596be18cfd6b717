package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CloneTracker is the durable record of one temporary clone directory.
type CloneTracker struct {
	ID           string
	User         string
	RepoURL      string
	TempPath     string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TrackerFilter narrows ListTrackers. Zero fields match everything.
type TrackerFilter struct {
	User          string
	Statuses      []string
	UpdatedBefore time.Time
}

const trackerColumns = `id, user, repo_url, temp_path, status, error_message, created_at, updated_at`

// CreateTracker inserts a tracker. CreatedAt and UpdatedAt default to now.
func (d *DB) CreateTracker(ctx context.Context, t *CloneTracker) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = d.now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO clone_trackers (`+trackerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.User, t.RepoURL, t.TempPath, t.Status, t.ErrorMessage,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating tracker: %w", err)
	}
	return nil
}

// UpdateTracker writes a tracker's status, error message, temp path and
// UpdatedAt. A zero UpdatedAt is stamped with the current time.
func (d *DB) UpdateTracker(ctx context.Context, t *CloneTracker) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = d.now().UTC()
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE clone_trackers SET status = ?, error_message = ?, temp_path = ?, updated_at = ?
		WHERE id = ?`,
		t.Status, t.ErrorMessage, t.TempPath, formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tracker %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating tracker %s: %w", t.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTracker retrieves a tracker by ID.
func (d *DB) GetTracker(ctx context.Context, id string) (*CloneTracker, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+trackerColumns+` FROM clone_trackers WHERE id = ?`, id)
	t, err := scanTracker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListTrackers returns trackers matching f, oldest first.
func (d *DB) ListTrackers(ctx context.Context, f TrackerFilter) ([]CloneTracker, error) {
	var where []string
	var args []any
	if f.User != "" {
		where = append(where, "user = ?")
		args = append(args, f.User)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN (?"+strings.Repeat(", ?", len(f.Statuses)-1)+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, formatTime(f.UpdatedBefore))
	}

	query := `SELECT ` + trackerColumns + ` FROM clone_trackers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing trackers: %w", err)
	}
	defer rows.Close()

	var out []CloneTracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountTrackersByStatus returns the number of trackers per status. An
// empty user counts every user's.
func (d *DB) CountTrackersByStatus(ctx context.Context, user string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM clone_trackers`
	var args []any
	if user != "" {
		query += ` WHERE user = ?`
		args = append(args, user)
	}
	query += ` GROUP BY status`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("counting trackers: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning tracker count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanTracker(row rowScanner) (*CloneTracker, error) {
	var t CloneTracker
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.User, &t.RepoURL, &t.TempPath, &t.Status, &t.ErrorMessage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tracker: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
