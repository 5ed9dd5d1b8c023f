package cache

import (
	"encoding/json"
	"io"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
	"github.com/samber/lo"
)

const (
	// DefaultTTL is how long a definitive record (ok or not-found) stays fresh.
	DefaultTTL = 24 * time.Hour
	// DefaultRetryTTL is how long a transient record (rate-limited or error)
	// stays fresh before the repository is fetched again.
	DefaultRetryTTL = time.Hour
	// FormatVersion is the version tag written into the persisted document.
	FormatVersion = 1
)

// Entry is the cached state for one repository.
type Entry struct {
	Record   types.ActivityRecord `json:"record"`
	StoredAt time.Time            `json:"stored_at"`
	// LastGood is the most recent ok record, kept when a later fetch failed
	// transiently.
	LastGood *types.ActivityRecord `json:"last_good,omitempty"`
}

// Effective returns the record to classify: the last ok record when the
// current one is transient and one exists, otherwise the current record.
func (e Entry) Effective() types.ActivityRecord {
	if e.Record.Status.Transient() && e.LastGood != nil {
		return *e.LastGood
	}
	return e.Record
}

// UsesLastGood reports whether Effective returns LastGood.
func (e Entry) UsesLastGood() bool {
	return e.Record.Status.Transient() && e.LastGood != nil
}

// IsStale reports whether now - entry.StoredAt >= ttl.
func IsStale(e Entry, now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) >= ttl
}

type document struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

type snapshot = map[string]Entry

// Cache maps repository ids to their last fetch result. It is loaded once
// from its backend and rewritten in full on every Store.
//
// Lookups read an immutable snapshot and never block. Writers serialize on
// a mutex, persist a new snapshot, then publish it.
type Cache struct {
	backend  Backend
	ttl      time.Duration
	retryTTL time.Duration
	now      func() time.Time
	logger   *log.Logger

	mu   sync.Mutex
	snap atomic.Pointer[snapshot]

	loadErr error
	skipped []string
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window for ok and not-found records.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithRetryTTL sets the freshness window for transient records.
func WithRetryTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retryTTL = d
		}
	}
}

// WithClock injects the time source used by Prune and Stats.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for load and write warnings.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Open loads the cache from backend. A missing or unreadable document yields
// an empty cache; entries that fail validation are skipped individually.
func Open(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:  backend,
		ttl:      DefaultTTL,
		retryTTL: DefaultRetryTTL,
		now:      time.Now,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(c.load())
	return c
}

func (c *Cache) load() *snapshot {
	empty := snapshot{}

	data, err := c.backend.Read()
	if err != nil {
		c.loadErr = failure.Wrap(err, failure.WithCode(ErrCorrupt),
			failure.Message("Failed to read cache"))
		c.logger.Warn("cache unreadable, starting empty", "err", err)
		return &empty
	}
	if len(data) == 0 {
		return &empty
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.loadErr = failure.Wrap(err, failure.WithCode(ErrCorrupt),
			failure.Message("Failed to parse cache"))
		c.logger.Warn("cache corrupt, starting empty", "err", err)
		return &empty
	}
	if doc.Version != FormatVersion {
		c.loadErr = failure.New(ErrCorrupt,
			failure.Message("Unsupported cache format version"),
			failure.Context{"version": strconv.Itoa(doc.Version)})
		c.logger.Warn("cache format unsupported, starting empty", "version", doc.Version)
		return &empty
	}

	m := make(snapshot, len(doc.Entries))
	for key, raw := range doc.Entries {
		e, ok := decodeEntry(key, raw)
		if !ok {
			c.skipped = append(c.skipped, key)
			continue
		}
		m[key] = e
	}
	if len(c.skipped) > 0 {
		c.logger.Warn("skipped corrupt cache entries", "count", len(c.skipped))
	}
	return &m
}

func decodeEntry(key string, raw json.RawMessage) (Entry, bool) {
	id, err := types.ParseRepoID(key)
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	if e.StoredAt.IsZero() || e.Record.ID != id || e.Record.Validate() != nil {
		return Entry{}, false
	}
	if e.LastGood != nil && (e.LastGood.Status != types.StatusOK || e.LastGood.Validate() != nil) {
		e.LastGood = nil
	}
	return e, true
}

// LoadErr returns the error that caused the persisted document to be
// discarded at load time, if any.
func (c *Cache) LoadErr() error {
	return c.loadErr
}

// Skipped returns the keys of entries dropped during load.
func (c *Cache) Skipped() []string {
	return c.skipped
}

// TTL returns the freshness window for definitive records.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the entry for id. It never changes freshness.
func (c *Cache) Lookup(id types.RepoID) (Entry, bool) {
	e, ok := (*c.snap.Load())[id.String()]
	return e, ok
}

// EffectiveTTL is the freshness window that applies to e.
func (c *Cache) EffectiveTTL(e Entry) time.Duration {
	if e.Record.Status.Transient() {
		return c.retryTTL
	}
	return c.ttl
}

// IsStale reports whether e must be refreshed at now.
func (c *Cache) IsStale(e Entry, now time.Time) bool {
	return IsStale(e, now, c.EffectiveTTL(e))
}

// Store records rec as the current state of id at now and persists the whole
// cache before returning. A transient rec keeps the previous ok record as
// LastGood. If persisting fails the in-memory cache is still updated and an
// ErrWrite error is returned.
func (c *Cache) Store(id types.RepoID, rec types.ActivityRecord, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := id.String()
	rec.ID = id
	entry := Entry{Record: rec, StoredAt: now}

	cur := *c.snap.Load()
	if prev, ok := cur[key]; ok && rec.Status.Transient() {
		switch {
		case prev.Record.Status == types.StatusOK:
			last := prev.Record
			entry.LastGood = &last
		case prev.LastGood != nil:
			entry.LastGood = prev.LastGood
		}
	}

	next := maps.Clone(cur)
	next[key] = entry
	return c.commit(next)
}

// Prune drops entries that are stale at the cache clock and returns how many
// were removed.
func (c *Cache) Prune() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cur := *c.snap.Load()
	next := lo.PickBy(cur, func(_ string, e Entry) bool {
		return !c.IsStale(e, now)
	})
	removed := len(cur) - len(next)
	if removed == 0 {
		return 0, nil
	}
	return removed, c.commit(next)
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commit(snapshot{})
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(*c.snap.Load())
}

// Stats summarizes the cache contents at the cache clock.
type Stats struct {
	Total    int
	Fresh    int
	Stale    int
	ByStatus map[types.FetchStatus]int
	Oldest   time.Time
}

// Stats returns a summary of the current snapshot.
func (c *Cache) Stats() Stats {
	now := c.now()
	entries := lo.Values(*c.snap.Load())
	s := Stats{
		Total: len(entries),
		Stale: lo.CountBy(entries, func(e Entry) bool { return c.IsStale(e, now) }),
		ByStatus: lo.CountValuesBy(entries, func(e Entry) types.FetchStatus {
			return e.Record.Status
		}),
	}
	s.Fresh = s.Total - s.Stale
	for _, e := range entries {
		if s.Oldest.IsZero() || e.StoredAt.Before(s.Oldest) {
			s.Oldest = e.StoredAt
		}
	}
	return s
}

// commit persists next and publishes it. Callers hold c.mu.
func (c *Cache) commit(next snapshot) error {
	err := c.persist(next)
	c.snap.Store(&next)
	if err != nil {
		return failure.Wrap(err, failure.WithCode(ErrWrite),
			failure.Message("Failed to persist cache"))
	}
	return nil
}

func (c *Cache) persist(m snapshot) error {
	doc := struct {
		Version int              `json:"version"`
		Entries map[string]Entry `json:"entries"`
	}{Version: FormatVersion, Entries: m}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return c.backend.Write(data)
}
