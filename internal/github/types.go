package github

import (
	"time"

	gogithub "github.com/google/go-github/v60/github"
)

// Repository is the repository metadata returned by the API.
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	FullName      string
	Description   string
	DefaultBranch string
	Private       bool
	HTMLURL       string
}

// Collaborator is a user with access to, or commits in, a repository.
type Collaborator struct {
	ID            int64
	Login         string
	Name          string
	Email         string
	AvatarURL     string
	HTMLURL       string
	Role          string
	Contributions int
}

// Branch is a branch as reported by the API. Protected is authoritative.
type Branch struct {
	Name      string
	SHA       string
	Protected bool
}

// Label is a structured issue or pull request label.
type Label struct {
	Name  string
	Color string
}

// PullRequest is a pull request as reported by the API.
type PullRequest struct {
	ID           int64
	Number       int
	Title        string
	Body         string
	State        string
	Draft        bool
	AuthorID     int64
	AuthorLogin  string
	HeadRef      string
	BaseRef      string
	Additions    int
	Deletions    int
	ChangedFiles int
	Commits      int
	Labels       []Label
	HTMLURL      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
	MergedAt     *time.Time
}

// Review is a pull request review.
type Review struct {
	ID          int64
	PRNumber    int
	AuthorID    int64
	AuthorLogin string
	State       string
	Body        string
	HTMLURL     string
	SubmittedAt *time.Time
}

// Issue is an issue as reported by the API. Pull requests never appear here.
type Issue struct {
	ID           int64
	Number       int
	Title        string
	Body         string
	State        string
	AuthorID     int64
	AuthorLogin  string
	Labels       []Label
	CommentCount int
	HTMLURL      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

// Comment is an issue comment.
type Comment struct {
	ID          int64
	IssueNumber int
	AuthorID    int64
	AuthorLogin string
	Body        string
	HTMLURL     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// collaboratorPayload decodes both the collaborators and the contributors
// endpoints, whose items share the user fields.
type collaboratorPayload struct {
	ID            *int64  `json:"id"`
	Login         *string `json:"login"`
	Name          *string `json:"name"`
	Email         *string `json:"email"`
	AvatarURL     *string `json:"avatar_url"`
	HTMLURL       *string `json:"html_url"`
	RoleName      *string `json:"role_name"`
	Type          *string `json:"type"`
	Contributions *int    `json:"contributions"`
}

func convertRepository(gh *gogithub.Repository) *Repository {
	return &Repository{
		ID:            gh.GetID(),
		Owner:         gh.GetOwner().GetLogin(),
		Name:          gh.GetName(),
		FullName:      gh.GetFullName(),
		Description:   gh.GetDescription(),
		DefaultBranch: gh.GetDefaultBranch(),
		Private:       gh.GetPrivate(),
		HTMLURL:       gh.GetHTMLURL(),
	}
}

func convertCollaborator(p *collaboratorPayload) Collaborator {
	c := Collaborator{
		ID:        deref(p.ID),
		Login:     deref(p.Login),
		Name:      deref(p.Name),
		Email:     deref(p.Email),
		AvatarURL: deref(p.AvatarURL),
		HTMLURL:   deref(p.HTMLURL),
		Role:      deref(p.RoleName),
	}
	c.Contributions = deref(p.Contributions)
	return c
}

func convertBranch(gh *gogithub.Branch) Branch {
	return Branch{
		Name:      gh.GetName(),
		SHA:       gh.GetCommit().GetSHA(),
		Protected: gh.GetProtected(),
	}
}

func convertLabels(labels []*gogithub.Label) []Label {
	if len(labels) == 0 {
		return nil
	}
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l == nil {
			continue
		}
		out = append(out, Label{Name: l.GetName(), Color: l.GetColor()})
	}
	return out
}

func convertPullRequest(gh *gogithub.PullRequest) PullRequest {
	pr := PullRequest{
		ID:           gh.GetID(),
		Number:       gh.GetNumber(),
		Title:        gh.GetTitle(),
		Body:         gh.GetBody(),
		State:        gh.GetState(),
		Draft:        gh.GetDraft(),
		HeadRef:      gh.GetHead().GetRef(),
		BaseRef:      gh.GetBase().GetRef(),
		Additions:    gh.GetAdditions(),
		Deletions:    gh.GetDeletions(),
		ChangedFiles: gh.GetChangedFiles(),
		Commits:      gh.GetCommits(),
		Labels:       convertLabels(gh.Labels),
		HTMLURL:      gh.GetHTMLURL(),
		CreatedAt:    tsValue(gh.CreatedAt),
		UpdatedAt:    tsValue(gh.UpdatedAt),
		ClosedAt:     tsPtr(gh.ClosedAt),
		MergedAt:     tsPtr(gh.MergedAt),
	}
	if gh.User != nil {
		pr.AuthorID = gh.User.GetID()
		pr.AuthorLogin = gh.User.GetLogin()
	}
	return pr
}

func convertReview(prNumber int, gh *gogithub.PullRequestReview) Review {
	r := Review{
		ID:          gh.GetID(),
		PRNumber:    prNumber,
		State:       gh.GetState(),
		Body:        gh.GetBody(),
		HTMLURL:     gh.GetHTMLURL(),
		SubmittedAt: tsPtr(gh.SubmittedAt),
	}
	if gh.User != nil {
		r.AuthorID = gh.User.GetID()
		r.AuthorLogin = gh.User.GetLogin()
	}
	return r
}

func convertIssue(gh *gogithub.Issue) Issue {
	issue := Issue{
		ID:           gh.GetID(),
		Number:       gh.GetNumber(),
		Title:        gh.GetTitle(),
		Body:         gh.GetBody(),
		State:        gh.GetState(),
		Labels:       convertLabels(gh.Labels),
		CommentCount: gh.GetComments(),
		HTMLURL:      gh.GetHTMLURL(),
		CreatedAt:    tsValue(gh.CreatedAt),
		UpdatedAt:    tsValue(gh.UpdatedAt),
		ClosedAt:     tsPtr(gh.ClosedAt),
	}
	if gh.User != nil {
		issue.AuthorID = gh.User.GetID()
		issue.AuthorLogin = gh.User.GetLogin()
	}
	return issue
}

func convertComment(issueNumber int, gh *gogithub.IssueComment) Comment {
	c := Comment{
		ID:          gh.GetID(),
		IssueNumber: issueNumber,
		Body:        gh.GetBody(),
		HTMLURL:     gh.GetHTMLURL(),
		CreatedAt:   tsValue(gh.CreatedAt),
		UpdatedAt:   tsValue(gh.UpdatedAt),
	}
	if gh.User != nil {
		c.AuthorID = gh.User.GetID()
		c.AuthorLogin = gh.User.GetLogin()
	}
	return c
}

func tsValue(ts *gogithub.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.Time
}

func tsPtr(ts *gogithub.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
