// Package resolver derives a canonical repository identity from the noisy
// candidate URLs found in package metadata. It performs no I/O.
package resolver

import (
	"net/url"
	"sort"
	"strings"

	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/samber/lo"
)

// DefaultHosts are the code hosts a fetcher exists for.
var DefaultHosts = []string{"github.com", "gitlab.com", "bitbucket.org"}

// priority orders labels; lower wins. Labels absent from the table are never
// considered.
var priority = map[types.Label]int{
	types.LabelSource:    0,
	types.LabelHomepage:  1,
	types.LabelUnlabeled: 2,
}

// Path segments directly under owner/name that point somewhere other than
// the repository root.
var rejectedSubpaths = map[string]bool{
	"issues":         true,
	"pulls":          true,
	"pull":           true,
	"discussions":    true,
	"wiki":           true,
	"wikis":          true,
	"merge_requests": true,
}

// Owners that are site sections rather than accounts.
var reservedOwners = map[string]bool{
	"sponsors":    true,
	"orgs":        true,
	"features":    true,
	"marketplace": true,
	"topics":      true,
	"collections": true,
	"settings":    true,
	"apps":        true,
	"about":       true,
	"site":        true,
}

// Resolver turns candidate URLs into at most one RepoID.
type Resolver struct {
	hosts map[string]bool
}

// New returns a resolver accepting URLs on hosts, or on DefaultHosts when
// none are given.
func New(hosts ...string) *Resolver {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	set := make(map[string]bool, len(hosts))
	for _, h := range lo.Uniq(hosts) {
		set[strings.ToLower(h)] = true
	}
	return &Resolver{hosts: set}
}

// Hosts returns the accepted hosts in sorted order.
func (r *Resolver) Hosts() []string {
	hosts := lo.Keys(r.hosts)
	sort.Strings(hosts)
	return hosts
}

// Resolve picks the highest-priority candidate that normalizes to a
// repository on an accepted host. Ties go to the earliest candidate.
func (r *Resolver) Resolve(candidates []types.Candidate) (types.RepoID, bool) {
	var (
		best     types.RepoID
		bestRank = -1
	)
	for _, c := range candidates {
		rank, ok := priority[c.Label]
		if !ok {
			continue
		}
		if bestRank != -1 && rank >= bestRank {
			continue
		}
		id, ok := r.Normalize(c.URL)
		if !ok {
			continue
		}
		best, bestRank = id, rank
	}
	return best, bestRank != -1
}

// ResolveURLs resolves bare URLs, treating each as unlabeled.
func (r *Resolver) ResolveURLs(urls []string) (types.RepoID, bool) {
	return r.Resolve(lo.Map(urls, func(u string, _ int) types.Candidate {
		return types.Candidate{URL: u, Label: types.LabelUnlabeled}
	}))
}

// Normalize converts one URL into a RepoID. Scheme, "www.", a trailing slash
// and a ".git" suffix do not affect the result, and neither does letter case
// since all supported hosts treat paths case-insensitively.
func (r *Resolver) Normalize(raw string) (types.RepoID, bool) {
	u, ok := parseLoose(raw)
	if !ok {
		return types.RepoID{}, false
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !r.hosts[host] {
		return types.RepoID{}, false
	}

	path := u.Path
	if host == "gitlab.com" {
		if before, after, found := strings.Cut(path, "/-/"); found {
			if rejectedSubpaths[firstSegment(after)] {
				return types.RepoID{}, false
			}
			path = before
		}
	}
	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")

	segs := lo.Filter(strings.Split(strings.ToLower(path), "/"), func(s string, _ int) bool {
		return s != ""
	})
	if len(segs) < 2 {
		return types.RepoID{}, false
	}
	if reservedOwners[segs[0]] {
		return types.RepoID{}, false
	}

	var owner, name string
	switch host {
	case "gitlab.com":
		// Subgroups nest, so the project is the last segment. Issue-style
		// paths without the /-/ separator are legacy and rejected.
		if len(segs) > 2 && rejectedSubpaths[segs[len(segs)-1]] {
			return types.RepoID{}, false
		}
		owner = strings.Join(segs[:len(segs)-1], "/")
		name = segs[len(segs)-1]
	default:
		if len(segs) > 2 && rejectedSubpaths[segs[2]] {
			return types.RepoID{}, false
		}
		owner, name = segs[0], segs[1]
	}

	name = strings.TrimSuffix(name, ".git")
	if owner == "" || name == "" {
		return types.RepoID{}, false
	}
	return types.RepoID{Host: host, Owner: owner, Name: name}, true
}

// parseLoose accepts http(s), git, ssh, git+https, scp-style git@host:path
// and scheme-less host/path forms.
func parseLoose(raw string) (*url.URL, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	s = strings.TrimPrefix(s, "git+")

	if !strings.Contains(s, "://") {
		if at := strings.Index(s, "@"); at != -1 {
			host, path, found := strings.Cut(s[at+1:], ":")
			if !found {
				return nil, false
			}
			s = "ssh://" + host + "/" + path
		} else {
			s = "https://" + s
		}
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "git", "ssh":
		return u, true
	}
	return nil, false
}

func firstSegment(s string) string {
	s = strings.TrimPrefix(s, "/")
	if i := strings.IndexByte(s, '/'); i != -1 {
		return s[:i]
	}
	return s
}
