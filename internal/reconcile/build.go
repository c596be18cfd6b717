package reconcile

import (
	"sort"
	"time"

	"github.com/jacklau/quickgrade/internal/github"
)

// StateMerged replaces "closed" for pull requests that were merged.
const StateMerged = "merged"

// Build merges one repository's inputs into a Batch. It does no I/O.
func Build(in Input) *Batch {
	b := &Batch{
		User:      in.User,
		FetchedAt: time.Now().UTC(),
	}

	api := in.API
	if api == nil {
		api = &APIResult{}
	}

	b.Repository = buildRepository(in, api.Repository)
	b.Collaborators = buildCollaborators(api.Collaborators)
	ix := NewIdentityIndex(b.Collaborators)

	var cloneBranches []branchTip
	if in.Clone != nil && in.Clone.Success {
		for _, br := range in.Clone.Branches {
			cloneBranches = append(cloneBranches, branchTip{name: br.Name, sha: br.SHA, isDefault: br.IsDefault})
		}
		for _, c := range in.Clone.Commits {
			rec := Commit{
				SHA:            c.SHA,
				Message:        c.Message,
				AuthorName:     c.AuthorName,
				AuthorEmail:    c.AuthorEmail,
				AuthoredAt:     c.AuthoredAt,
				CommitterName:  c.CommitterName,
				CommitterEmail: c.CommitterEmail,
				CommittedAt:    c.CommittedAt,
				ParentSHAs:     c.ParentSHAs,
				Additions:      c.Additions,
				Deletions:      c.Deletions,
				FilesChanged:   c.FilesChanged,
			}
			if id, ok := ix.Match(c.AuthorEmail, c.AuthorName); ok {
				rec.CollaboratorID = id
			}
			b.Commits = append(b.Commits, rec)
		}
	}

	if b.Repository.DefaultBranch == "" {
		for _, br := range cloneBranches {
			if br.isDefault {
				b.Repository.DefaultBranch = br.name
				break
			}
		}
	}
	b.Branches = mergeBranches(api.Branches, cloneBranches, b.Repository.DefaultBranch)

	prNumbers := make(map[int]struct{}, len(api.PullRequests))
	for _, pr := range api.PullRequests {
		prNumbers[pr.Number] = struct{}{}
		b.PullRequests = append(b.PullRequests, buildPullRequest(pr, ix))
	}
	for _, number := range sortedKeys(api.Reviews) {
		for _, r := range api.Reviews[number] {
			if _, ok := prNumbers[number]; !ok || r.AuthorID == 0 {
				b.DroppedReviews++
				continue
			}
			rec := Review{
				GitHubID:    r.ID,
				PRNumber:    number,
				AuthorLogin: r.AuthorLogin,
				State:       r.State,
				Body:        r.Body,
				HTMLURL:     r.HTMLURL,
				SubmittedAt: r.SubmittedAt,
			}
			rec.CollaboratorID, _ = ix.Login(r.AuthorLogin)
			b.Reviews = append(b.Reviews, rec)
		}
	}

	issueNumbers := make(map[int]struct{}, len(api.Issues))
	for _, is := range api.Issues {
		issueNumbers[is.Number] = struct{}{}
		rec := Issue{
			GitHubID:     is.ID,
			Number:       is.Number,
			Title:        is.Title,
			Body:         is.Body,
			State:        is.State,
			AuthorLogin:  is.AuthorLogin,
			Labels:       labelNames(is.Labels),
			CommentCount: is.CommentCount,
			HTMLURL:      is.HTMLURL,
			CreatedAt:    is.CreatedAt,
			UpdatedAt:    is.UpdatedAt,
			ClosedAt:     is.ClosedAt,
		}
		rec.CollaboratorID, _ = ix.Login(is.AuthorLogin)
		b.Issues = append(b.Issues, rec)
	}
	for _, number := range sortedKeys(api.Comments) {
		for _, c := range api.Comments[number] {
			if _, ok := issueNumbers[number]; !ok || c.AuthorID == 0 {
				b.DroppedComments++
				continue
			}
			rec := Comment{
				GitHubID:    c.ID,
				IssueNumber: number,
				AuthorLogin: c.AuthorLogin,
				Body:        c.Body,
				HTMLURL:     c.HTMLURL,
				CreatedAt:   c.CreatedAt,
				UpdatedAt:   c.UpdatedAt,
			}
			rec.CollaboratorID, _ = ix.Login(c.AuthorLogin)
			b.Comments = append(b.Comments, rec)
		}
	}

	if in.Analysis != nil {
		b.Analyzed = true
		b.Files = in.Analysis.Files
	}
	return b
}

func buildRepository(in Input, meta *github.Repository) Repository {
	r := Repository{
		Owner:    in.Target.Owner,
		Name:     in.Target.Name,
		FullName: in.Target.FullName(),
		URL:      in.Target.URL,
	}
	if meta != nil {
		r.GitHubID = meta.ID
		r.Description = meta.Description
		r.DefaultBranch = meta.DefaultBranch
		r.Private = meta.Private
	}
	return r
}

func buildCollaborators(in []github.Collaborator) []Collaborator {
	seen := make(map[int64]struct{}, len(in))
	out := make([]Collaborator, 0, len(in))
	for _, c := range in {
		if c.ID == 0 {
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, Collaborator{
			GitHubID:      c.ID,
			Login:         c.Login,
			Name:          c.Name,
			Email:         c.Email,
			AvatarURL:     c.AvatarURL,
			HTMLURL:       c.HTMLURL,
			Role:          c.Role,
			Contributions: c.Contributions,
		})
	}
	return out
}

type branchTip struct {
	name      string
	sha       string
	isDefault bool
}

// mergeBranches takes API branches as authoritative and adds branches only
// the clone knows about as unprotected.
func mergeBranches(apiBranches []github.Branch, cloneBranches []branchTip, defaultBranch string) []Branch {
	out := make([]Branch, 0, len(apiBranches)+len(cloneBranches))
	seen := make(map[string]struct{}, len(apiBranches))
	for _, br := range apiBranches {
		if _, ok := seen[br.Name]; ok {
			continue
		}
		seen[br.Name] = struct{}{}
		out = append(out, Branch{
			Name:            br.Name,
			SHA:             br.SHA,
			Protected:       br.Protected,
			ProtectionKnown: true,
			IsDefault:       br.Name == defaultBranch,
		})
	}
	for _, br := range cloneBranches {
		if _, ok := seen[br.name]; ok {
			continue
		}
		seen[br.name] = struct{}{}
		out = append(out, Branch{
			Name:      br.name,
			SHA:       br.sha,
			IsDefault: br.name == defaultBranch,
		})
	}
	return out
}

func buildPullRequest(pr github.PullRequest, ix *IdentityIndex) PullRequest {
	state := pr.State
	if pr.MergedAt != nil {
		state = StateMerged
	}
	rec := PullRequest{
		GitHubID:     pr.ID,
		Number:       pr.Number,
		Title:        pr.Title,
		Body:         pr.Body,
		State:        state,
		Draft:        pr.Draft,
		AuthorLogin:  pr.AuthorLogin,
		HeadRef:      pr.HeadRef,
		BaseRef:      pr.BaseRef,
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		ChangedFiles: pr.ChangedFiles,
		Commits:      pr.Commits,
		Labels:       labelNames(pr.Labels),
		HTMLURL:      pr.HTMLURL,
		CreatedAt:    pr.CreatedAt,
		UpdatedAt:    pr.UpdatedAt,
		ClosedAt:     pr.ClosedAt,
		MergedAt:     pr.MergedAt,
	}
	rec.CollaboratorID, _ = ix.Login(pr.AuthorLogin)
	return rec
}

func labelNames(labels []github.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l.Name != "" {
			out = append(out, l.Name)
		}
	}
	return out
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
