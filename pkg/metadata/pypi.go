package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/retry"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
)

// DefaultPyPIURL is the PyPI JSON API root.
const DefaultPyPIURL = "https://pypi.org"

var pep503RE = regexp.MustCompile(`[-_.]+`)

// NormalizePyPIName applies PEP 503 normalization.
func NormalizePyPIName(name string) string {
	return pep503RE.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// PyPI reads project URLs from the PyPI JSON API.
type PyPI struct {
	baseURL string
	client  *http.Client
	retry   retry.Policy
}

// NewPyPI creates a PyPI source. An empty baseURL means DefaultPyPIURL and a
// nil client means one with a 10s timeout.
func NewPyPI(baseURL string, client *http.Client, policy retry.Policy) *PyPI {
	if baseURL == "" {
		baseURL = DefaultPyPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	return &PyPI{baseURL: strings.TrimSuffix(baseURL, "/"), client: client, retry: policy}
}

type pypiResponse struct {
	Info struct {
		Name        string      `json:"name"`
		HomePage    string      `json:"home_page"`
		DownloadURL string      `json:"download_url"`
		ProjectURLs orderedURLs `json:"project_urls"`
	} `json:"info"`
}

type labeledURL struct {
	label string
	url   string
}

// orderedURLs decodes a JSON object into its entries in document order.
// Non-string values are skipped.
type orderedURLs []labeledURL

func (o *orderedURLs) UnmarshalJSON(data []byte) error {
	*o = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("project_urls: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v string
		if json.Unmarshal(raw, &v) == nil && v != "" {
			*o = append(*o, labeledURL{label: key, url: v})
		}
	}
	_, err = dec.Token()
	return err
}

// Candidates implements Source. project_urls come first in the order PyPI
// lists them, then home_page, then download_url.
func (p *PyPI) Candidates(ctx context.Context, dep types.Dependency) ([]types.Candidate, error) {
	name := NormalizePyPIName(dep.Name)
	if name == "" {
		return nil, failure.New(ErrInvalidName, failure.Message("Empty package name"))
	}

	var data pypiResponse
	endpoint := fmt.Sprintf("%s/pypi/%s/json", p.baseURL, url.PathEscape(name))
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return getJSON(ctx, p.client, endpoint, &data)
	})
	if err != nil {
		return nil, wrapFetchErr(err, name)
	}

	var out []types.Candidate
	for _, u := range data.Info.ProjectURLs {
		out = append(out, types.Candidate{URL: u.url, Label: types.ClassifyLabel(u.label)})
	}
	if data.Info.HomePage != "" {
		out = append(out, types.Candidate{URL: data.Info.HomePage, Label: types.LabelHomepage})
	}
	if data.Info.DownloadURL != "" {
		out = append(out, types.Candidate{URL: data.Info.DownloadURL, Label: types.LabelUnlabeled})
	}
	return out, nil
}

type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return "not found: " + e.url }

// getJSON GETs endpoint into v. 5xx and transport errors are retryable,
// 404 and 410 yield notFoundError.
func getJSON(ctx context.Context, client *http.Client, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "zombie-detector/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return retry.Retryable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return &notFoundError{url: endpoint}
	case resp.StatusCode >= 500:
		return retry.Retryable(fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", endpoint, err)
	}
	return nil
}

func wrapFetchErr(err error, name string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var nf *notFoundError
	if errors.As(err, &nf) {
		return failure.Wrap(err, failure.WithCode(ErrPackageNotFound),
			failure.Message("Package not found in index"),
			failure.Context{"pkg": name})
	}
	return failure.Wrap(err, failure.WithCode(ErrUnavailable),
		failure.Message("Failed to fetch package metadata"),
		failure.Context{"pkg": name})
}
