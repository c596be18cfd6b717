package clone

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned for repository URLs in neither accepted form.
var ErrInvalidURL = errors.New("invalid repository URL")

// Target identifies one repository to ingest.
type Target struct {
	URL    string
	Scheme string
	Host   string
	Owner  string
	Name   string
}

// FullName returns "owner/name".
func (t Target) FullName() string {
	return t.Owner + "/" + t.Name
}

// CloneURL returns the HTTPS clone URL. SSH-form targets are cloned over
// HTTPS so the API token can authenticate the clone.
func (t Target) CloneURL() string {
	scheme := t.Scheme
	if scheme != "http" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s.git", scheme, t.Host, t.Owner, t.Name)
}

// scpPattern matches user@host:owner/name[.git].
var scpPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+@([A-Za-z0-9.-]+):([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseURL parses scheme://host/owner/name[.git] or user@host:owner/name[.git].
func ParseURL(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return Target{}, fmt.Errorf("%w: %q: missing scheme or host", ErrInvalidURL, raw)
		}
		path := strings.Trim(u.Path, "/")
		path = strings.TrimSuffix(path, ".git")
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Target{}, fmt.Errorf("%w: %q: expected host/owner/name", ErrInvalidURL, raw)
		}
		return Target{
			URL:    raw,
			Scheme: strings.ToLower(u.Scheme),
			Host:   u.Host,
			Owner:  parts[0],
			Name:   parts[1],
		}, nil
	}

	if m := scpPattern.FindStringSubmatch(s); m != nil {
		return Target{
			URL:    raw,
			Scheme: "ssh",
			Host:   m[1],
			Owner:  m[2],
			Name:   m[3],
		}, nil
	}

	return Target{}, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
}
