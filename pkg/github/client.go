package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-github/github"
	"github.com/johnsaigle/zombie-detector/pkg/logging"
	"github.com/johnsaigle/zombie-detector/pkg/retry"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
	"golang.org/x/oauth2"
)

// ErrorCode classifies hard failures from this package.
type ErrorCode string

const (
	// ErrInvalidRepoID is returned when asked to fetch an id this client
	// cannot address.
	ErrInvalidRepoID ErrorCode = "InvalidRepoID"
	// ErrUnauthorized is returned by ValidateToken for a rejected token.
	ErrUnauthorized ErrorCode = "Unauthorized"
)

const (
	// Host is the code host this client serves.
	Host = "github.com"
	// DefaultTimeout bounds a single API request.
	DefaultTimeout = 10 * time.Second

	userAgent = "zombie-detector/1.0"
)

// Client fetches repository activity from the GitHub REST API.
type Client struct {
	client *github.Client
	token  string
	retry  retry.Policy
	now    func() time.Time
}

type options struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
	now        func() time.Time
	timeout    time.Duration
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*options)

// WithBaseURL points the client at a different API root, such as a test
// server or GitHub Enterprise.
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

// WithHTTPClient sets the base HTTP client. Token auth is layered on top.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithRetry sets the retry policy for transient failures.
func WithRetry(p retry.Policy) Option { return func(o *options) { o.retry = p } }

// WithClock sets the time source used for FetchedAt.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithLogger enables debug logging of HTTP traffic.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// NewClient creates a GitHub client. An empty token means unauthenticated
// access with the lower quota; behavior is otherwise identical.
func NewClient(token string, opts ...Option) (*Client, error) {
	o := options{
		retry:   retry.Default(),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	base := o.httpClient
	if base == nil {
		base = &http.Client{
			Timeout:   o.timeout,
			Transport: logging.Transport(nil, o.logger),
		}
	}

	httpClient := base
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = base.Timeout
	}

	gh := github.NewClient(httpClient)
	gh.UserAgent = userAgent
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		gh.BaseURL = u
	}

	return &Client{
		client: gh,
		token:  token,
		retry:  o.retry,
		now:    o.now,
	}, nil
}

// Name identifies the fetcher in logs.
func (c *Client) Name() string { return "GitHub" }

// SupportsHost reports whether host is github.com.
func (c *Client) SupportsHost(host string) bool { return host == Host }

// Authenticated reports whether a token is attached to requests.
func (c *Client) Authenticated() bool { return c.token != "" }

// ValidateToken checks that the token is accepted. Only an explicit 401 is
// treated as a failure; network problems and outages are not. The rate-limit
// endpoint is used since it does not count against the quota.
func (c *Client) ValidateToken(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	_, resp, err := c.client.RateLimits(ctx)
	if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return failure.New(ErrUnauthorized,
			failure.Message("Invalid or expired GitHub token"))
	}
	return nil
}

// Quota describes the remaining core API budget.
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Quota returns the current core rate limit. The rate-limit endpoint does not
// count against the quota.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	limits, _, err := c.client.RateLimits(ctx)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to fetch rate limit: %w", err)
	}
	core := limits.Core
	if core == nil {
		return Quota{}, errors.New("rate limit response has no core budget")
	}
	return Quota{Limit: core.Limit, Remaining: core.Remaining, Reset: core.Reset.Time}, nil
}

// statusError carries a terminal fetch status out of the retry loop.
type statusError struct {
	status types.FetchStatus
	reset  *time.Time
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// Fetch issues one repository request (plus retries for transient failures)
// and reports the last push time. Not-found, rate limiting and server errors
// are returned as record statuses; only an unusable id or a cancelled context
// produce an error.
func (c *Client) Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error) {
	if !id.Valid() || id.Host != Host || strings.Contains(id.Owner, "/") {
		return types.ActivityRecord{}, failure.New(ErrInvalidRepoID,
			failure.Message("Not a GitHub repository id"),
			failure.Context{"id": id.String()})
	}

	var repo *github.Repository
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		r, resp, err := c.client.Repositories.Get(ctx, id.Owner, id.Name)
		if err != nil {
			return c.classify(err, resp)
		}
		repo = r
		return nil
	})

	rec := types.ActivityRecord{ID: id, FetchedAt: c.now()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.ActivityRecord{}, ctxErr
		}
		var se *statusError
		if errors.As(err, &se) {
			rec.Status = se.status
			rec.RateLimitReset = se.reset
		} else {
			rec.Status = types.StatusError
		}
		rec.Detail = err.Error()
		return rec, nil
	}

	last := repo.GetPushedAt().Time
	if last.IsZero() {
		last = repo.GetUpdatedAt().Time
	}
	if last.IsZero() {
		rec.Status = types.StatusError
		rec.Detail = "repository has no activity timestamp"
		return rec, nil
	}
	rec.Status = types.StatusOK
	rec.LastActivityAt = &last
	rec.Archived = repo.GetArchived()
	return rec, nil
}

// classify maps a failed request onto a fetch status. Server and network
// errors come back retryable.
func (c *Client) classify(err error, resp *github.Response) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		reset := rle.Rate.Reset.Time
		return &statusError{status: types.StatusRateLimited, reset: nonZero(reset), err: err}
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		var reset *time.Time
		if abuse.RetryAfter != nil {
			t := c.now().Add(*abuse.RetryAfter)
			reset = &t
		}
		return &statusError{status: types.StatusRateLimited, reset: reset, err: err}
	}

	if resp == nil || resp.Response == nil {
		return retry.Retryable(&statusError{status: types.StatusError, err: err})
	}

	code := resp.StatusCode
	switch {
	case (code == http.StatusForbidden || code == http.StatusTooManyRequests) &&
		resp.Header.Get("X-RateLimit-Remaining") == "0":
		return &statusError{status: types.StatusRateLimited, reset: resetHeader(resp.Header), err: err}
	case (code == http.StatusForbidden || code == http.StatusTooManyRequests) &&
		resp.Header.Get("Retry-After") != "":
		// Secondary rate limits.
		return &statusError{status: types.StatusRateLimited, reset: c.retryAfter(resp.Header), err: err}
	case code == http.StatusTooManyRequests:
		return &statusError{status: types.StatusRateLimited, err: err}
	case code == http.StatusNotFound, code == http.StatusGone, code == http.StatusUnavailableForLegalReasons:
		return &statusError{status: types.StatusNotFound, err: err}
	case code >= 500:
		return retry.Retryable(&statusError{status: types.StatusError, err: err})
	case code == http.StatusUnauthorized:
		return &statusError{status: types.StatusError, err: fmt.Errorf("GitHub API authentication failed (check your token): %w", err)}
	default:
		return &statusError{status: types.StatusError, err: err}
	}
}

func resetHeader(h http.Header) *time.Time {
	secs, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil || secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

func (c *Client) retryAfter(h http.Header) *time.Time {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return nil
	}
	t := c.now().Add(time.Duration(secs) * time.Second)
	return &t
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
