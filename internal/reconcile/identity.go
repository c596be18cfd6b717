package reconcile

import (
	"sort"
	"strings"
)

// IdentityIndex resolves commit authors to collaborators. It is built once
// per repository and never modified afterwards.
type IdentityIndex struct {
	byEmail map[string]int64
	byLogin map[string]int64
}

// NewIdentityIndex indexes collaborators by exact email and by lowercased
// login. When several collaborators share a key the lowest ID wins.
func NewIdentityIndex(collaborators []Collaborator) *IdentityIndex {
	sorted := make([]Collaborator, len(collaborators))
	copy(sorted, collaborators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GitHubID < sorted[j].GitHubID })

	ix := &IdentityIndex{
		byEmail: make(map[string]int64, len(sorted)),
		byLogin: make(map[string]int64, len(sorted)),
	}
	for _, c := range sorted {
		if email := strings.TrimSpace(c.Email); email != "" {
			if _, ok := ix.byEmail[email]; !ok {
				ix.byEmail[email] = c.GitHubID
			}
		}
		if login := strings.ToLower(c.Login); login != "" {
			if _, ok := ix.byLogin[login]; !ok {
				ix.byLogin[login] = c.GitHubID
			}
		}
	}
	return ix
}

// Match links an author by exact email first, then by case-insensitive
// comparison of the author name against logins.
func (ix *IdentityIndex) Match(email, name string) (int64, bool) {
	if email = strings.TrimSpace(email); email != "" {
		if id, ok := ix.byEmail[email]; ok {
			return id, true
		}
	}
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		if id, ok := ix.byLogin[name]; ok {
			return id, true
		}
	}
	return 0, false
}

// Login returns the collaborator ID for a login, if the login belongs to a
// collaborator.
func (ix *IdentityIndex) Login(login string) (int64, bool) {
	id, ok := ix.byLogin[strings.ToLower(login)]
	return id, ok
}
