// Package metadata looks up candidate source-repository URLs for a dependency
// in its package index.
package metadata

import (
	"context"

	"github.com/johnsaigle/zombie-detector/pkg/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/morikuni/failure/v2"
)

// ErrorCode classifies metadata failures.
type ErrorCode string

const (
	// ErrPackageNotFound means the index has no such package.
	ErrPackageNotFound ErrorCode = "PackageNotFound"
	// ErrUnavailable means the index could not be reached or answered badly.
	ErrUnavailable ErrorCode = "MetadataUnavailable"
	// ErrInvalidName means the dependency name is not valid for its ecosystem.
	ErrInvalidName ErrorCode = "InvalidPackageName"
	// ErrUnsupportedEcosystem means no source is registered for the ecosystem.
	ErrUnsupportedEcosystem ErrorCode = "UnsupportedEcosystem"
)

// Source returns the candidate URLs for a dependency, in metadata order.
type Source interface {
	Candidates(ctx context.Context, dep types.Dependency) ([]types.Candidate, error)
}

// Multi dispatches to a Source by ecosystem.
type Multi map[types.Ecosystem]Source

// Candidates implements Source.
func (m Multi) Candidates(ctx context.Context, dep types.Dependency) ([]types.Candidate, error) {
	src, ok := m[dep.Ecosystem]
	if !ok {
		return nil, failure.New(ErrUnsupportedEcosystem,
			failure.Message("No metadata source for ecosystem"),
			failure.Context{"ecosystem": string(dep.Ecosystem)})
	}
	return src.Candidates(ctx, dep)
}

// Memo caches successful lookups in a bounded LRU so that repeated names in
// one run hit the index once.
type Memo struct {
	next  Source
	cache *lru.Cache[string, []types.Candidate]
}

// NewMemo wraps next with an LRU of the given size.
func NewMemo(next Source, size int) (*Memo, error) {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New[string, []types.Candidate](size)
	if err != nil {
		return nil, err
	}
	return &Memo{next: next, cache: c}, nil
}

// Candidates implements Source.
func (m *Memo) Candidates(ctx context.Context, dep types.Dependency) ([]types.Candidate, error) {
	key := string(dep.Ecosystem) + ":" + dep.Name
	if dep.Ecosystem == types.EcosystemPyPI {
		key = string(dep.Ecosystem) + ":" + NormalizePyPIName(dep.Name)
	}
	if c, ok := m.cache.Get(key); ok {
		return c, nil
	}
	c, err := m.next.Candidates(ctx, dep)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, c)
	return c, nil
}
