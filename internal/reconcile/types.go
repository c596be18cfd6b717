// Package reconcile merges clone, API and analysis output for one
// repository into a single canonical record set.
package reconcile

import (
	"time"

	"github.com/jacklau/quickgrade/internal/analysis"
	"github.com/jacklau/quickgrade/internal/clone"
	"github.com/jacklau/quickgrade/internal/github"
)

// APIResult is everything fetched from the hosting API for one repository.
// Any part may be empty; Repository is nil when metadata could not be
// fetched.
type APIResult struct {
	Repository     *github.Repository
	Collaborators  []github.Collaborator
	Branches       []github.Branch
	PullRequests   []github.PullRequest
	Reviews        map[int][]github.Review
	Issues         []github.Issue
	Comments       map[int][]github.Comment
	QuotaRemaining int
}

// Input is the raw material for one repository. Clone, API and Analysis
// are nil when the corresponding stage failed or did not run.
type Input struct {
	User     string
	Target   clone.Target
	Clone    *clone.Result
	API      *APIResult
	Analysis *analysis.Result
}

// Repository is the canonical repository record.
type Repository struct {
	GitHubID      int64
	Owner         string
	Name          string
	FullName      string
	URL           string
	Description   string
	DefaultBranch string
	Private       bool
}

// Collaborator is a user with access to the repository. Collaborators are
// only ever created from API data.
type Collaborator struct {
	GitHubID      int64
	Login         string
	Name          string
	Email         string
	AvatarURL     string
	HTMLURL       string
	Role          string
	Contributions int
}

// Branch is the merged view of a branch. ProtectionKnown is set when
// Protected came from the API; otherwise the stored flag is kept.
type Branch struct {
	Name            string
	SHA             string
	Protected       bool
	ProtectionKnown bool
	IsDefault       bool
}

// Commit is a commit with its author resolved against the collaborators.
// CollaboratorID is zero when the author could not be linked.
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
	CollaboratorID int64
}

// PullRequest is a pull request with labels flattened to names.
type PullRequest struct {
	GitHubID       int64
	Number         int
	Title          string
	Body           string
	State          string
	Draft          bool
	AuthorLogin    string
	CollaboratorID int64
	HeadRef        string
	BaseRef        string
	Additions      int
	Deletions      int
	ChangedFiles   int
	Commits        int
	Labels         []string
	HTMLURL        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
	MergedAt       *time.Time
}

// Review is a pull request review whose pull request is in the same batch.
type Review struct {
	GitHubID       int64
	PRNumber       int
	AuthorLogin    string
	CollaboratorID int64
	State          string
	Body           string
	HTMLURL        string
	SubmittedAt    *time.Time
}

// Issue is an issue with labels flattened to names.
type Issue struct {
	GitHubID       int64
	Number         int
	Title          string
	Body           string
	State          string
	AuthorLogin    string
	CollaboratorID int64
	Labels         []string
	CommentCount   int
	HTMLURL        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// Comment is an issue comment whose issue is in the same batch.
type Comment struct {
	GitHubID       int64
	IssueNumber    int
	AuthorLogin    string
	CollaboratorID int64
	Body           string
	HTMLURL        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Batch is the reconciled record set for one repository, written in a
// single transaction.
type Batch struct {
	User          string
	Repository    Repository
	Collaborators []Collaborator
	Branches      []Branch
	Commits       []Commit
	PullRequests  []PullRequest
	Reviews       []Review
	Issues        []Issue
	Comments      []Comment

	// Files replaces the stored analysis when Analyzed is true.
	Files    []analysis.FileMetrics
	Analyzed bool

	DroppedReviews  int
	DroppedComments int
	FetchedAt       time.Time
}

// Stats counts the records in a batch.
type Stats struct {
	Commits           int `json:"commits"`
	Branches          int `json:"branches"`
	Collaborators     int `json:"collaborators"`
	PullRequests      int `json:"pull_requests"`
	Reviews           int `json:"reviews"`
	Issues            int `json:"issues"`
	Comments          int `json:"comments"`
	FilesAnalyzed     int `json:"files_analyzed"`
	FunctionsAnalyzed int `json:"functions_analyzed"`
}

// Stats returns the record counts of b.
func (b *Batch) Stats() Stats {
	s := Stats{
		Commits:       len(b.Commits),
		Branches:      len(b.Branches),
		Collaborators: len(b.Collaborators),
		PullRequests:  len(b.PullRequests),
		Reviews:       len(b.Reviews),
		Issues:        len(b.Issues),
		Comments:      len(b.Comments),
		FilesAnalyzed: len(b.Files),
	}
	for _, f := range b.Files {
		s.FunctionsAnalyzed += len(f.Functions)
	}
	return s
}
