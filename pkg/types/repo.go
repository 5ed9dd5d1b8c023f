package types

import (
	"fmt"
	"strings"
	"time"
)

// RepoID is the canonical (host, owner, name) identity of a source repository.
// Its string form is the cache key and the API path used by fetchers.
type RepoID struct {
	Host  string
	Owner string
	Name  string
}

// String returns host/owner/name.
func (id RepoID) String() string {
	return id.Host + "/" + id.Owner + "/" + id.Name
}

// URL returns the browsable https URL for the repository.
func (id RepoID) URL() string {
	return "https://" + id.String()
}

// Valid reports whether all three components are present.
func (id RepoID) Valid() bool {
	return id.Host != "" && id.Owner != "" && id.Name != ""
}

// ParseRepoID parses the host/owner/name form produced by String.
// GitLab subgroups are kept in Owner, so the last segment is always Name.
func ParseRepoID(s string) (RepoID, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 3 {
		return RepoID{}, fmt.Errorf("invalid repository id %q", s)
	}
	for _, p := range parts {
		if p == "" {
			return RepoID{}, fmt.Errorf("invalid repository id %q", s)
		}
	}
	return RepoID{
		Host:  parts[0],
		Owner: strings.Join(parts[1:len(parts)-1], "/"),
		Name:  parts[len(parts)-1],
	}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id RepoID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RepoID) UnmarshalText(b []byte) error {
	parsed, err := ParseRepoID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FetchStatus is the outcome category of one activity fetch.
type FetchStatus string

const (
	StatusOK          FetchStatus = "ok"
	StatusNotFound    FetchStatus = "not-found"
	StatusRateLimited FetchStatus = "rate-limited"
	StatusError       FetchStatus = "error"
)

// Transient reports whether a later fetch could plausibly succeed.
func (s FetchStatus) Transient() bool {
	return s == StatusRateLimited || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s FetchStatus) Valid() bool {
	switch s {
	case StatusOK, StatusNotFound, StatusRateLimited, StatusError:
		return true
	}
	return false
}

// ActivityRecord is the result of one fetch attempt for a repository.
// Records are never mutated; a refresh produces a new one.
type ActivityRecord struct {
	ID             RepoID      `json:"id"`
	LastActivityAt *time.Time  `json:"last_activity_at,omitempty"`
	Status         FetchStatus `json:"status"`
	FetchedAt      time.Time   `json:"fetched_at"`
	Archived       bool        `json:"archived,omitempty"`
	Detail         string      `json:"detail,omitempty"`
	RateLimitReset *time.Time  `json:"rate_limit_reset,omitempty"`
}

// Validate checks the invariants a record read back from disk must hold.
func (r *ActivityRecord) Validate() error {
	if !r.ID.Valid() {
		return fmt.Errorf("record has invalid id %q", r.ID.String())
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record for %s has unknown status %q", r.ID, r.Status)
	}
	if r.Status == StatusOK && r.LastActivityAt == nil {
		return fmt.Errorf("record for %s is ok but has no activity time", r.ID)
	}
	if r.FetchedAt.IsZero() {
		return fmt.Errorf("record for %s has no fetch time", r.ID)
	}
	return nil
}
