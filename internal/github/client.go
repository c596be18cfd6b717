package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"

	"github.com/jacklau/quickgrade/internal/retry"
)

const (
	// DefaultPerPage is the page size requested from list endpoints.
	DefaultPerPage = 100

	// DefaultMaxPages bounds pagination of a single list.
	DefaultMaxPages = 100

	// DefaultMaxConcurrency bounds simultaneous in-flight requests.
	DefaultMaxConcurrency = 20

	// DefaultRequestTimeout is the per-request HTTP timeout.
	DefaultRequestTimeout = 30 * time.Second

	// apiVersion is sent as X-GitHub-Api-Version on every request.
	apiVersion = "2022-11-28"
)

// Credential yields the token used for API requests and git clones.
type Credential interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a Credential backed by a fixed personal or OAuth token.
type StaticToken string

// Token returns the token itself.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty token")
	}
	return string(s), nil
}

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	BaseURL           string
	Quota             *Quota
	MaxConcurrency    int
	ThrottleThreshold int
	PerPage           int
	MaxPages          int
	Retry             retry.Policy
	Logger            *slog.Logger
}

// Client is a paginated, rate-limited client for the GitHub REST API.
// A single Client is shared by every repository in a batch so that the
// quota and the in-flight limiter are global.
type Client struct {
	gh        *gogithub.Client
	quota     *Quota
	sem       *semaphore.Weighted
	threshold int
	perPage   int
	maxPages  int
	retry     retry.Policy
	logger    *slog.Logger

	// sleep is replaced in tests to observe quota waits.
	sleep func(context.Context, time.Duration) error
}

// NewClient wraps an authenticated HTTP client.
func NewClient(httpClient *http.Client, opts Options) (*Client, error) {
	gh := gogithub.NewClient(httpClient)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL %q: %w", opts.BaseURL, err)
		}
		gh.BaseURL = u
	}

	if opts.Quota == nil {
		opts.Quota = NewQuota()
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.ThrottleThreshold <= 0 {
		opts.ThrottleThreshold = DefaultThrottleThreshold
	}
	if opts.PerPage <= 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		gh:        gh,
		quota:     opts.Quota,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		threshold: opts.ThrottleThreshold,
		perPage:   opts.PerPage,
		maxPages:  opts.MaxPages,
		retry:     opts.Retry,
		logger:    opts.Logger,
		sleep:     sleepCtx,
	}, nil
}

// NewTokenClient creates a Client authenticated with a bearer token.
func NewTokenClient(ctx context.Context, token string, timeout time.Duration, opts Options) (*Client, error) {
	if token == "" {
		return nil, errors.New("no token provided")
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = timeout
	return NewClient(hc, opts)
}

// NewAppClient creates a Client authenticated as a GitHub App installation.
// It uses ghinstallation for automatic JWT and installation token management.
// The returned Credential yields installation tokens for git clones.
//
// privateKey can be either:
//   - Raw PEM bytes (begins with "-----BEGIN")
//   - Base64-encoded PEM bytes
//
// If privateKey is nil or empty and privateKeyPath is provided, the key is
// read from that file path.
func NewAppClient(appID, installationID int64, privateKey []byte, privateKeyPath string, timeout time.Duration, opts Options) (*Client, Credential, error) {
	key, err := resolvePrivateKey(privateKey, privateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving private key: %w", err)
	}

	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating installation transport: %w", err)
	}
	if opts.BaseURL != "" {
		transport.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client, err := NewClient(&http.Client{Transport: transport, Timeout: timeout}, opts)
	if err != nil {
		return nil, nil, err
	}
	return client, transport, nil
}

// resolvePrivateKey returns PEM-encoded private key bytes from either the
// provided raw/base64-encoded key or by reading from a file path.
func resolvePrivateKey(key []byte, keyPath string) ([]byte, error) {
	if len(key) > 0 {
		s := strings.TrimSpace(string(key))
		if strings.HasPrefix(s, "-----BEGIN") {
			return []byte(s), nil
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("private key is neither PEM nor valid base64: %w", err)
			}
		}
		return decoded, nil
	}

	if keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key file %s: %w", keyPath, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("no private key provided: set private_key or private_key_path")
}

// Quota returns the shared quota state.
func (c *Client) Quota() *Quota {
	return c.quota
}

// get issues one GET request, decoding the JSON body into v. Server errors
// are retried under the client's retry policy; every other failure is
// returned at once.
func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	return c.retry.Do(ctx, func() error {
		resp, err := c.getOnce(ctx, path, query, v)
		if err != nil && resp != nil && IsServerError(resp.Response) {
			return err
		}
		return retry.Permanent(err)
	})
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values, v any) (*gogithub.Response, error) {
	if wait, err := c.quota.Wait(ctx, c.threshold, c.sleep); err != nil {
		return nil, err
	} else if wait > 0 {
		c.logger.Info("rate limit low, waited for reset", "path", path, "wait", wait, "remaining", c.quota.Remaining())
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	u := path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := c.gh.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	resp, err := c.gh.Do(ctx, req, v)

	var info *RateLimitInfo
	if resp != nil {
		info = ParseRateLimit(resp.Response)
		c.quota.Update(info)
	}

	if err != nil {
		var rle *gogithub.RateLimitError
		if errors.As(err, &rle) {
			return resp, &QuotaExceededError{Reset: rle.Rate.Reset.Time}
		}
		if resp != nil && resp.StatusCode == http.StatusForbidden && info != nil && info.Remaining == 0 {
			return resp, &QuotaExceededError{Reset: info.Reset}
		}
		return resp, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

// listAll fetches every page of a list endpoint, stopping at a short or
// empty page or after the page bound.
func listAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]*T, error) {
	var all []*T
	for page := 1; page <= c.maxPages; page++ {
		q := url.Values{}
		for k, vs := range query {
			q[k] = append([]string(nil), vs...)
		}
		q.Set("per_page", strconv.Itoa(c.perPage))
		q.Set("page", strconv.Itoa(page))

		var items []*T
		if err := c.get(ctx, path, q, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)

		if len(items) < c.perPage {
			break
		}
	}
	return all, nil
}

// IsForbidden reports whether err is a 403 response that is not a quota error.
func IsForbidden(err error) bool {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return false
	}
	var er *gogithub.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusForbidden
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
