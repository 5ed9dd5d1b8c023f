package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/johnsaigle/zombie-detector/pkg/logging"
	"github.com/johnsaigle/zombie-detector/pkg/retry"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
	"github.com/samber/lo"
)

// ErrorCode classifies hard failures from this package.
type ErrorCode string

const (
	// ErrUnsupportedHost is returned when no fetcher serves a repository's host.
	ErrUnsupportedHost ErrorCode = "UnsupportedHost"
	// ErrInvalidRepoID is returned for ids a provider cannot address.
	ErrInvalidRepoID ErrorCode = "InvalidRepoID"
)

const defaultTimeout = 10 * time.Second

// Fetcher reports the latest activity of repositories on the hosts it supports.
type Fetcher interface {
	Name() string
	SupportsHost(host string) bool
	Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error)
}

// Multi dispatches to the first fetcher that supports a repository's host.
type Multi struct {
	fetchers []Fetcher
}

// NewMulti creates a dispatcher over fetchers.
func NewMulti(fetchers ...Fetcher) *Multi {
	return &Multi{fetchers: fetchers}
}

// Name identifies the dispatcher in logs.
func (m *Multi) Name() string {
	return strings.Join(lo.Map(m.fetchers, func(f Fetcher, _ int) string { return f.Name() }), "+")
}

// SupportsHost reports whether any fetcher serves host.
func (m *Multi) SupportsHost(host string) bool {
	return m.forHost(host) != nil
}

// Fetch delegates to the fetcher for id.Host.
func (m *Multi) Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error) {
	f := m.forHost(id.Host)
	if f == nil {
		return types.ActivityRecord{}, failure.New(ErrUnsupportedHost,
			failure.Message("No provider supports host"),
			failure.Context{"host": id.Host})
	}
	return f.Fetch(ctx, id)
}

// forHost returns the fetcher for host, or nil.
func (m *Multi) forHost(host string) Fetcher {
	for _, f := range m.fetchers {
		if f.SupportsHost(host) {
			return f
		}
	}
	return nil
}

// Config holds the settings shared by the REST providers.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Retry      retry.Policy
	Now        func() time.Time
	Logger     *log.Logger
}

func (c Config) withDefaults(baseURL string) Config {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: logging.Transport(nil, c.Logger),
		}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// restFetcher holds the request, retry and status-mapping logic shared by
// GitLab and Bitbucket. decode extracts the activity time and archived flag.
type restFetcher struct {
	cfg      Config
	header   func(*http.Request)
	endpoint func(types.RepoID) string
	decode   func(*http.Response) (time.Time, bool, error)
}

type httpStatusError struct {
	code   int
	status types.FetchStatus
	reset  *time.Time
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("API returned status %d", e.code)
}

func (r *restFetcher) fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error) {
	var (
		last     time.Time
		archived bool
	)
	err := r.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(id), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if r.header != nil {
			r.header(req)
		}

		resp, err := r.cfg.HTTPClient.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statusFor(resp)
		}
		last, archived, err = r.decode(resp)
		return err
	})

	rec := types.ActivityRecord{ID: id, FetchedAt: r.cfg.Now()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.ActivityRecord{}, ctxErr
		}
		rec.Status = types.StatusError
		var se *httpStatusError
		if errors.As(err, &se) {
			rec.Status = se.status
			rec.RateLimitReset = se.reset
		}
		rec.Detail = err.Error()
		return rec, nil
	}
	if last.IsZero() {
		rec.Status = types.StatusError
		rec.Detail = "repository has no activity timestamp"
		return rec, nil
	}
	rec.Status = types.StatusOK
	rec.LastActivityAt = &last
	rec.Archived = archived
	return rec, nil
}

func statusFor(resp *http.Response) error {
	se := &httpStatusError{code: resp.StatusCode, status: types.StatusError}
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		se.status = types.StatusNotFound
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("RateLimit-Remaining") == "0":
		se.status = types.StatusRateLimited
		se.reset = resetFrom(resp.Header)
	case resp.StatusCode >= 500:
		return retry.Retryable(se)
	}
	return se
}

func resetFrom(h http.Header) *time.Time {
	for _, key := range []string{"RateLimit-Reset", "X-RateLimit-Reset"} {
		if secs, err := strconv.ParseInt(h.Get(key), 10, 64); err == nil && secs > 0 {
			t := time.Unix(secs, 0).UTC()
			return &t
		}
	}
	return nil
}

// GitLabProvider fetches project activity from the GitLab REST API.
type GitLabProvider struct {
	rest restFetcher
}

// GitLabProject is the subset of the project response this tool reads.
type GitLabProject struct {
	LastActivityAt time.Time `json:"last_activity_at"`
	WebURL         string    `json:"web_url"`
	Archived       bool      `json:"archived"`
}

// NewGitLabProvider creates a GitLab provider. cfg.Token is sent as
// PRIVATE-TOKEN when set.
func NewGitLabProvider(cfg Config) *GitLabProvider {
	cfg = cfg.withDefaults("https://gitlab.com")
	return &GitLabProvider{rest: restFetcher{
		cfg: cfg,
		header: func(req *http.Request) {
			if cfg.Token != "" {
				req.Header.Set("PRIVATE-TOKEN", cfg.Token)
			}
		},
		endpoint: func(id types.RepoID) string {
			return cfg.BaseURL + "/api/v4/projects/" + url.PathEscape(id.Owner+"/"+id.Name)
		},
		decode: func(resp *http.Response) (time.Time, bool, error) {
			var project GitLabProject
			if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
				return time.Time{}, false, fmt.Errorf("failed to decode GitLab project: %w", err)
			}
			return project.LastActivityAt, project.Archived, nil
		},
	}}
}

// Name returns the provider name.
func (gp *GitLabProvider) Name() string {
	return "GitLab"
}

// SupportsHost checks if this provider supports the given host.
func (gp *GitLabProvider) SupportsHost(host string) bool {
	return host == "gitlab.com"
}

// Fetch returns the project's last_activity_at.
func (gp *GitLabProvider) Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error) {
	if !id.Valid() || !gp.SupportsHost(id.Host) {
		return types.ActivityRecord{}, invalidID(id)
	}
	return gp.rest.fetch(ctx, id)
}

// BitbucketProvider fetches repository activity from the Bitbucket REST API.
type BitbucketProvider struct {
	rest restFetcher
}

// BitbucketRepository is the subset of the repository response this tool reads.
type BitbucketRepository struct {
	UpdatedOn time.Time `json:"updated_on"`
	FullName  string    `json:"full_name"`
}

// NewBitbucketProvider creates a Bitbucket provider. cfg.Token is sent as a
// bearer token when set.
func NewBitbucketProvider(cfg Config) *BitbucketProvider {
	cfg = cfg.withDefaults("https://api.bitbucket.org")
	return &BitbucketProvider{rest: restFetcher{
		cfg: cfg,
		header: func(req *http.Request) {
			if cfg.Token != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.Token)
			}
		},
		endpoint: func(id types.RepoID) string {
			return cfg.BaseURL + "/2.0/repositories/" + url.PathEscape(id.Owner) + "/" + url.PathEscape(id.Name)
		},
		decode: func(resp *http.Response) (time.Time, bool, error) {
			var repo BitbucketRepository
			if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
				return time.Time{}, false, fmt.Errorf("failed to decode Bitbucket repository: %w", err)
			}
			// Bitbucket has no archived flag on this endpoint.
			return repo.UpdatedOn, false, nil
		},
	}}
}

// Name returns the provider name.
func (bp *BitbucketProvider) Name() string {
	return "Bitbucket"
}

// SupportsHost checks if this provider supports the given host.
func (bp *BitbucketProvider) SupportsHost(host string) bool {
	return host == "bitbucket.org"
}

// Fetch returns the repository's updated_on.
func (bp *BitbucketProvider) Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error) {
	if !id.Valid() || !bp.SupportsHost(id.Host) || strings.Contains(id.Owner, "/") {
		return types.ActivityRecord{}, invalidID(id)
	}
	return bp.rest.fetch(ctx, id)
}

func invalidID(id types.RepoID) error {
	return failure.New(ErrInvalidRepoID,
		failure.Message("Repository id not addressable by provider"),
		failure.Context{"id": id.String()})
}
