package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite database connection for ingested repository data.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	} else {
		dsn = ":memory:?_pragma=foreign_keys(ON)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:" alive.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &DB{db: sqlDB, now: time.Now}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Conn returns the underlying *sql.DB for advanced use cases.
func (d *DB) Conn() *sql.DB {
	return d.db
}

func (d *DB) migrate() error {
	var version int
	err := d.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := d.migrateV1(); err != nil {
			return err
		}
	}

	_, err = d.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	if err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}

	return nil
}

func (d *DB) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user TEXT NOT NULL,
			github_id INTEGER,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			full_name TEXT NOT NULL,
			url TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			default_branch TEXT NOT NULL DEFAULT '',
			private INTEGER NOT NULL DEFAULT 0,
			fetch_status TEXT NOT NULL DEFAULT 'pending',
			fetch_error TEXT NOT NULL DEFAULT '',
			last_fetched_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user, full_name)
		)`,
		`CREATE TABLE IF NOT EXISTS collaborators (
			github_id INTEGER PRIMARY KEY,
			login TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			html_url TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_collaborators_login ON collaborators(login)`,
		`CREATE TABLE IF NOT EXISTS repository_collaborators (
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			collaborator_id INTEGER NOT NULL REFERENCES collaborators(github_id),
			role TEXT NOT NULL DEFAULT '',
			contributions INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (repo_id, collaborator_id)
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			sha TEXT NOT NULL,
			protected INTEGER NOT NULL DEFAULT 0,
			is_default INTEGER NOT NULL DEFAULT 0,
			UNIQUE(repo_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			sha TEXT NOT NULL,
			message TEXT NOT NULL,
			author_name TEXT NOT NULL,
			author_email TEXT NOT NULL,
			authored_at TEXT NOT NULL,
			committer_name TEXT NOT NULL,
			committer_email TEXT NOT NULL,
			committed_at TEXT NOT NULL,
			parents TEXT NOT NULL DEFAULT '',
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			files_changed INTEGER NOT NULL DEFAULT 0,
			collaborator_id INTEGER,
			UNIQUE(repo_id, sha)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_collaborator ON commits(repo_id, collaborator_id)`,
		`CREATE TABLE IF NOT EXISTS pull_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			github_id INTEGER NOT NULL,
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			draft INTEGER NOT NULL DEFAULT 0,
			author_login TEXT NOT NULL DEFAULT '',
			collaborator_id INTEGER,
			head_ref TEXT NOT NULL DEFAULT '',
			base_ref TEXT NOT NULL DEFAULT '',
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			changed_files INTEGER NOT NULL DEFAULT 0,
			commit_count INTEGER NOT NULL DEFAULT 0,
			labels TEXT NOT NULL DEFAULT '[]',
			html_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			closed_at TEXT,
			merged_at TEXT,
			UNIQUE(repo_id, github_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pull_requests_number ON pull_requests(repo_id, number)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			github_id INTEGER NOT NULL,
			pr_number INTEGER NOT NULL,
			author_login TEXT NOT NULL DEFAULT '',
			collaborator_id INTEGER,
			state TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			html_url TEXT NOT NULL DEFAULT '',
			submitted_at TEXT,
			UNIQUE(repo_id, github_id)
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			github_id INTEGER NOT NULL,
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			author_login TEXT NOT NULL DEFAULT '',
			collaborator_id INTEGER,
			labels TEXT NOT NULL DEFAULT '[]',
			comment_count INTEGER NOT NULL DEFAULT 0,
			html_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			closed_at TEXT,
			UNIQUE(repo_id, github_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_repo_state ON issues(repo_id, state)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			github_id INTEGER NOT NULL,
			issue_number INTEGER NOT NULL,
			author_login TEXT NOT NULL DEFAULT '',
			collaborator_id INTEGER,
			body TEXT NOT NULL DEFAULT '',
			html_url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(repo_id, github_id)
		)`,
		`CREATE TABLE IF NOT EXISTS file_analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			language TEXT NOT NULL,
			nloc INTEGER NOT NULL DEFAULT 0,
			ccn INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			function_count INTEGER NOT NULL DEFAULT 0,
			cognitive_complexity INTEGER,
			analyzed_at TEXT NOT NULL,
			UNIQUE(repo_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS function_analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL REFERENCES file_analyses(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			nloc INTEGER NOT NULL DEFAULT 0,
			ccn INTEGER NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0,
			param_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_function_analyses_file ON function_analyses(file_id)`,
		`CREATE TABLE IF NOT EXISTS clone_trackers (
			id TEXT PRIMARY KEY,
			user TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			temp_path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clone_trackers_user_status ON clone_trackers(user, status)`,
		`CREATE INDEX IF NOT EXISTS idx_clone_trackers_status_updated ON clone_trackers(status, updated_at)`,
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration statement: %w", err)
		}
	}

	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// nullTime maps a nil time to SQL NULL.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// nullID maps an unlinked (zero) collaborator to SQL NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
