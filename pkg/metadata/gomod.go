package metadata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/retry"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
	"golang.org/x/mod/module"
)

// DefaultGoProxy is the public Go module proxy.
const DefaultGoProxy = "https://proxy.golang.org"

// codeHosts are module path prefixes whose first two elements name the
// repository.
var codeHosts = []string{"github.com/", "bitbucket.org/"}

// GoModules derives repository candidates for Go module paths: from the
// well-known vanity table, from the path itself, and for other vanity paths
// from the VCS origin the module proxy reports.
type GoModules struct {
	proxyURL string
	client   *http.Client
	retry    retry.Policy
}

// NewGoModules creates a Go module source backed by proxyURL.
func NewGoModules(proxyURL string, client *http.Client, policy retry.Policy) *GoModules {
	if proxyURL == "" {
		proxyURL = DefaultGoProxy
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if policy.MaxAttempts == 0 {
		policy = retry.Default()
	}
	return &GoModules{proxyURL: strings.TrimSuffix(proxyURL, "/"), client: client, retry: policy}
}

type proxyInfo struct {
	Version string    `json:"Version"`
	Time    time.Time `json:"Time"`
	Origin  *struct {
		VCS string `json:"VCS"`
		URL string `json:"URL"`
	} `json:"Origin"`
}

// Candidates implements Source.
func (g *GoModules) Candidates(ctx context.Context, dep types.Dependency) ([]types.Candidate, error) {
	path := dep.Name
	if err := module.CheckPath(path); err != nil {
		return nil, failure.Wrap(err, failure.WithCode(ErrInvalidName),
			failure.Message("Invalid module path"),
			failure.Context{"module": path})
	}

	if id, ok := types.MirrorRepo(path); ok {
		return []types.Candidate{{URL: id.URL(), Label: types.LabelSource}}, nil
	}

	// GitLab projects nest under subgroups, so the repository root cannot be
	// cut from the module path. The proxy origin names it; failing that, the
	// path without its major version suffix is the best guess.
	if strings.HasPrefix(path, "gitlab.com/") {
		prefix, _, ok := module.SplitPathVersion(path)
		if !ok {
			prefix = path
		}
		guess := types.Candidate{URL: "https://" + prefix, Label: types.LabelUnlabeled}
		origin, err := g.origin(ctx, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return []types.Candidate{guess}, nil
		}
		return append(origin, guess), nil
	}

	self := types.Candidate{URL: "https://" + path, Label: types.LabelUnlabeled}
	for _, h := range codeHosts {
		if strings.HasPrefix(path, h) {
			return []types.Candidate{self}, nil
		}
	}

	origin, err := g.origin(ctx, path)
	if err != nil {
		return nil, err
	}
	return append(origin, self), nil
}

// origin asks the proxy for the VCS origin of the latest version of path.
func (g *GoModules) origin(ctx context.Context, path string) ([]types.Candidate, error) {
	escaped, err := module.EscapePath(path)
	if err != nil {
		return nil, failure.Wrap(err, failure.WithCode(ErrInvalidName),
			failure.Message("Module path cannot be escaped"),
			failure.Context{"module": path})
	}

	var info proxyInfo
	endpoint := fmt.Sprintf("%s/%s/@latest", g.proxyURL, escaped)
	err = g.retry.Do(ctx, func(ctx context.Context) error {
		return getJSON(ctx, g.client, endpoint, &info)
	})
	if err != nil {
		return nil, wrapFetchErr(err, path)
	}

	if info.Origin == nil || info.Origin.URL == "" {
		return nil, nil
	}
	return []types.Candidate{{URL: info.Origin.URL, Label: types.LabelSource}}, nil
}
