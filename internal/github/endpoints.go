package github

import (
	"context"
	"fmt"
	"net/url"

	gogithub "github.com/google/go-github/v60/github"
)

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var gh gogithub.Repository
	if err := c.get(ctx, fmt.Sprintf("repos/%s/%s", owner, repo), nil, &gh); err != nil {
		return nil, fmt.Errorf("getting repository %s/%s: %w", owner, repo, err)
	}
	return convertRepository(&gh), nil
}

// ListCollaborators lists repository collaborators. When the token may not
// list collaborators (403) it falls back to the public contributors list.
func (c *Client) ListCollaborators(ctx context.Context, owner, repo string) ([]Collaborator, error) {
	items, err := listAll[collaboratorPayload](ctx, c, fmt.Sprintf("repos/%s/%s/collaborators", owner, repo), nil)
	if err != nil {
		if IsForbidden(err) {
			c.logger.Info("collaborators forbidden, falling back to contributors", "repo", owner+"/"+repo)
			return c.ListContributors(ctx, owner, repo)
		}
		return nil, fmt.Errorf("listing collaborators: %w", err)
	}
	return convertCollaborators(items), nil
}

// ListContributors lists users who have committed to the repository.
// Anonymous contributors have no ID and are skipped.
func (c *Client) ListContributors(ctx context.Context, owner, repo string) ([]Collaborator, error) {
	items, err := listAll[collaboratorPayload](ctx, c, fmt.Sprintf("repos/%s/%s/contributors", owner, repo), nil)
	if err != nil {
		return nil, fmt.Errorf("listing contributors: %w", err)
	}
	return convertCollaborators(items), nil
}

func convertCollaborators(items []*collaboratorPayload) []Collaborator {
	out := make([]Collaborator, 0, len(items))
	for _, p := range items {
		if p == nil || p.ID == nil || deref(p.Login) == "" {
			continue
		}
		out = append(out, convertCollaborator(p))
	}
	return out
}

// ListBranches lists branches with their protection flag.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]Branch, error) {
	items, err := listAll[gogithub.Branch](ctx, c, fmt.Sprintf("repos/%s/%s/branches", owner, repo), nil)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	out := make([]Branch, 0, len(items))
	for _, b := range items {
		if b == nil || b.GetName() == "" {
			continue
		}
		out = append(out, convertBranch(b))
	}
	return out, nil
}

// ListPullRequests lists pull requests in every state, newest first.
func (c *Client) ListPullRequests(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("sort", "created")
	q.Set("direction", "desc")

	items, err := listAll[gogithub.PullRequest](ctx, c, fmt.Sprintf("repos/%s/%s/pulls", owner, repo), q)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests: %w", err)
	}
	out := make([]PullRequest, 0, len(items))
	for _, pr := range items {
		if pr == nil {
			continue
		}
		out = append(out, convertPullRequest(pr))
	}
	return out, nil
}

// ListReviews lists the reviews of one pull request.
func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	items, err := listAll[gogithub.PullRequestReview](ctx, c, fmt.Sprintf("repos/%s/%s/pulls/%d/reviews", owner, repo, number), nil)
	if err != nil {
		return nil, fmt.Errorf("listing reviews for #%d: %w", number, err)
	}
	out := make([]Review, 0, len(items))
	for _, r := range items {
		if r == nil {
			continue
		}
		out = append(out, convertReview(number, r))
	}
	return out, nil
}

// ListIssues lists issues in every state. The API returns pull requests as
// issues too; those are skipped.
func (c *Client) ListIssues(ctx context.Context, owner, repo string) ([]Issue, error) {
	q := url.Values{}
	q.Set("state", "all")

	items, err := listAll[gogithub.Issue](ctx, c, fmt.Sprintf("repos/%s/%s/issues", owner, repo), q)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	out := make([]Issue, 0, len(items))
	for _, is := range items {
		if is == nil || is.IsPullRequest() {
			continue
		}
		out = append(out, convertIssue(is))
	}
	return out, nil
}

// ListIssueComments lists the comments of one issue.
func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	items, err := listAll[gogithub.IssueComment](ctx, c, fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, repo, number), nil)
	if err != nil {
		return nil, fmt.Errorf("listing comments for #%d: %w", number, err)
	}
	out := make([]Comment, 0, len(items))
	for _, cm := range items {
		if cm == nil {
			continue
		}
		out = append(out, convertComment(number, cm))
	}
	return out, nil
}
