package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/cache"
	"github.com/johnsaigle/zombie-detector/pkg/health"
	"github.com/johnsaigle/zombie-detector/pkg/metadata"
	"github.com/johnsaigle/zombie-detector/pkg/resolver"
	"github.com/johnsaigle/zombie-detector/pkg/retry"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/morikuni/failure/v2"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMeta map[string][]types.Candidate

func (m fakeMeta) Candidates(_ context.Context, dep types.Dependency) ([]types.Candidate, error) {
	c, ok := m[dep.Name]
	if !ok {
		return nil, failure.New(metadata.ErrPackageNotFound)
	}
	return c, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]types.ActivityRecord
	errs    map[string]error
	calls   map[string]int
	total   atomic.Int32
	gate    chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		records: map[string]types.ActivityRecord{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeFetcher) set(id string, rec types.ActivityRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = rec
}

func (f *fakeFetcher) Fetch(ctx context.Context, id types.RepoID) (types.ActivityRecord, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return types.ActivityRecord{}, ctx.Err()
		}
	}
	f.total.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id.String()]++
	if err := f.errs[id.String()]; err != nil {
		return types.ActivityRecord{}, err
	}
	rec, ok := f.records[id.String()]
	if !ok {
		return types.ActivityRecord{ID: id, Status: types.StatusNotFound, FetchedAt: testNow}, nil
	}
	rec.ID = id
	return rec, nil
}

func daysAgo(n int) types.ActivityRecord {
	t := testNow.Add(-time.Duration(n) * 24 * time.Hour)
	return types.ActivityRecord{Status: types.StatusOK, LastActivityAt: &t, FetchedAt: testNow}
}

func pyDep(name string) types.Dependency {
	return types.Dependency{Name: name, Ecosystem: types.EcosystemPyPI}
}

func source(url string) []types.Candidate {
	return []types.Candidate{{URL: url, Label: types.LabelSource}}
}

func newTestAnalyzer(t *testing.T, meta fakeMeta, f *fakeFetcher, backend cache.Backend, opts ...Option) (*Analyzer, *cache.Cache) {
	t.Helper()
	clock := func() time.Time { return testNow }
	c := cache.Open(backend, cache.WithClock(clock))
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(meta, resolver.New(), c, f, opts...), c
}

func TestEvaluate_Scenarios(t *testing.T) {
	meta := fakeMeta{
		"libx":          source("https://github.com/acme/libx"),
		"abandoned-lib": source("https://github.com/acme/abandoned-lib"),
		"ghost-lib":     {{URL: "https://docs.example.org/ghost", Label: types.LabelHomepage}},
		"gone-lib":      source("https://github.com/acme/gone-lib"),
	}
	f := newFakeFetcher()
	f.set("github.com/acme/libx", daysAgo(10))
	f.set("github.com/acme/abandoned-lib", daysAgo(900))

	a, c := newTestAnalyzer(t, meta, f, cache.NewMemoryBackend(nil))

	tests := []struct {
		name       string
		dep        string
		wantStatus health.Status
		wantRepo   string
		wantCalls  int
	}{
		{"A active repository", "libx", health.StatusSafe, "github.com/acme/libx", 1},
		{"B abandoned repository", "abandoned-lib", health.StatusWarning, "github.com/acme/abandoned-lib", 1},
		{"C no repository candidate", "ghost-lib", health.StatusUnknown, "", 0},
		{"D repository not found", "gone-lib", health.StatusUnknown, "github.com/acme/gone-lib", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := a.Evaluate(context.Background(), []types.Dependency{pyDep(tt.dep)})
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			r := results[0]
			if r.Verdict.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s (%s)", r.Verdict.Status, tt.wantStatus, r.Details)
			}
			gotRepo := ""
			if r.Repo != nil {
				gotRepo = r.Repo.String()
			}
			if gotRepo != tt.wantRepo {
				t.Errorf("repo = %q, want %q", gotRepo, tt.wantRepo)
			}
			if tt.wantRepo != "" {
				if n := f.calls[tt.wantRepo]; n != tt.wantCalls {
					t.Errorf("fetch calls = %d, want %d", n, tt.wantCalls)
				}
			}
		})
	}

	if f.total.Load() != 3 {
		t.Errorf("total fetches = %d, want 3", f.total.Load())
	}

	id, _ := types.ParseRepoID("github.com/acme/gone-lib")
	e, ok := c.Lookup(id)
	if !ok || e.Record.Status != types.StatusNotFound {
		t.Errorf("not-found record was not cached: %+v %v", e, ok)
	}
	results, err := a.Evaluate(context.Background(), []types.Dependency{pyDep("gone-lib")})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !results[0].FromCache || f.calls["github.com/acme/gone-lib"] != 1 {
		t.Errorf("rerun within TTL fetched again: fromCache=%v calls=%d",
			results[0].FromCache, f.calls["github.com/acme/gone-lib"])
	}
}

func TestEvaluate_WellKnownGoModulesResolveToMirror(t *testing.T) {
	f := newFakeFetcher()
	f.set("github.com/golang/net", daysAgo(3))
	clock := func() time.Time { return testNow }
	// Mirrored paths never reach the proxy.
	meta := metadata.NewGoModules("http://127.0.0.1:1", nil, retry.Policy{MaxAttempts: 1})
	a := New(meta, resolver.New(), cache.Open(cache.NewMemoryBackend(nil), cache.WithClock(clock)), f, WithClock(clock))

	results, err := a.Evaluate(context.Background(), []types.Dependency{
		{Name: "golang.org/x/net", Version: "v0.30.0", Ecosystem: types.EcosystemGo},
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if r := results[0]; r.Verdict.Status != health.StatusSafe || r.Repo == nil || r.Repo.String() != "github.com/golang/net" {
		t.Errorf("golang.org/x/net = %s %v (%s)", r.Verdict.Status, r.Repo, r.Details)
	}
}

func TestEvaluate_NoRepositoryDetail(t *testing.T) {
	meta := fakeMeta{"ghost-lib": {{URL: "https://docs.example.org/ghost", Label: types.LabelHomepage}}}
	a, _ := newTestAnalyzer(t, meta, newFakeFetcher(), cache.NewMemoryBackend(nil))

	results, err := a.Evaluate(context.Background(), []types.Dependency{pyDep("ghost-lib")})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if got := results[0].Details; got != "no supported repository URL" {
		t.Errorf("details = %q, want %q", got, "no supported repository URL")
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	meta := fakeMeta{
		"a": source("https://github.com/acme/a"),
		"b": source("git+https://github.com/acme/b.git"),
		"c": source("https://gitlab.com/group/c"),
	}
	f := newFakeFetcher()
	f.set("github.com/acme/a", daysAgo(1))
	f.set("github.com/acme/b", daysAgo(1000))
	f.set("gitlab.com/group/c", daysAgo(100))

	backend := cache.NewMemoryBackend(nil)
	a, _ := newTestAnalyzer(t, meta, f, backend)
	deps := []types.Dependency{pyDep("a"), pyDep("b"), pyDep("c")}

	first, err := a.Evaluate(context.Background(), deps)
	if err != nil {
		t.Fatalf("first Evaluate() error: %v", err)
	}
	fetched := f.total.Load()
	if fetched != 3 {
		t.Fatalf("first run fetches = %d, want 3", fetched)
	}

	// A second process reading the same persisted cache.
	a2, _ := newTestAnalyzer(t, meta, f, backend)
	second, err := a2.Evaluate(context.Background(), deps)
	if err != nil {
		t.Fatalf("second Evaluate() error: %v", err)
	}
	if f.total.Load() != fetched {
		t.Errorf("second run issued %d fetches, want 0", f.total.Load()-fetched)
	}
	for i := range first {
		if first[i].Verdict != second[i].Verdict {
			t.Errorf("verdict %d changed: %+v -> %+v", i, first[i].Verdict, second[i].Verdict)
		}
		if !second[i].FromCache {
			t.Errorf("result %d not served from cache", i)
		}
	}

	stats := Summarize(second)
	want := SummaryStats{Total: 3, Safe: 2, Warning: 1, FromCache: 3}
	if stats != want {
		t.Errorf("Summarize() = %+v, want %+v", stats, want)
	}
}

func TestEvaluate_PreservesOrder(t *testing.T) {
	meta := fakeMeta{}
	f := newFakeFetcher()
	var deps []types.Dependency
	names := []string{"zeta", "alpha", "mid", "beta", "omega", "gamma", "delta", "kappa"}
	for i, n := range names {
		meta[n] = source("https://github.com/org/" + n)
		f.set("github.com/org/"+n, daysAgo(i*200))
		deps = append(deps, pyDep(n))
	}
	deps = append(deps, pyDep("missing"))

	a, _ := newTestAnalyzer(t, meta, f, cache.NewMemoryBackend(nil), WithWorkers(3))
	results, err := a.Evaluate(context.Background(), deps)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if len(results) != len(deps) {
		t.Fatalf("got %d results, want %d", len(results), len(deps))
	}
	for i, r := range results {
		if r.Dependency != deps[i] {
			t.Errorf("result %d is %s, want %s", i, r.Dependency.Name, deps[i].Name)
		}
	}
	last := results[len(results)-1]
	if last.Verdict.Status != health.StatusUnknown || last.Details != "package not found in registry" {
		t.Errorf("missing package = %+v", last)
	}
}

func TestEvaluate_SharedRepositoryFetchedOnce(t *testing.T) {
	meta := fakeMeta{
		"pkg-core":    source("https://github.com/acme/mono"),
		"pkg-extras":  source("https://github.com/acme/mono.git"),
		"pkg-plugins": source("http://www.github.com/Acme/Mono/"),
	}
	f := newFakeFetcher()
	f.set("github.com/acme/mono", daysAgo(5))
	f.gate = make(chan struct{})

	a, _ := newTestAnalyzer(t, meta, f, cache.NewMemoryBackend(nil), WithWorkers(3))

	done := make(chan []Result)
	go func() {
		results, _ := a.Evaluate(context.Background(),
			[]types.Dependency{pyDep("pkg-core"), pyDep("pkg-extras"), pyDep("pkg-plugins")})
		done <- results
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	results := <-done

	if n := f.calls["github.com/acme/mono"]; n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	for _, r := range results {
		if r.Verdict.Status != health.StatusSafe {
			t.Errorf("%s: status = %s, want SAFE", r.Dependency.Name, r.Verdict.Status)
		}
	}
}

func TestEvaluate_CacheWriteFailureContinues(t *testing.T) {
	meta := fakeMeta{
		"a": source("https://github.com/acme/a"),
		"b": source("https://github.com/acme/b"),
	}
	f := newFakeFetcher()
	f.set("github.com/acme/a", daysAgo(3))
	f.set("github.com/acme/b", daysAgo(800))

	backend := cache.NewMemoryBackend(nil)
	backend.WriteErr = errors.New("disk full")
	a, c := newTestAnalyzer(t, meta, f, backend)

	deps := []types.Dependency{pyDep("a"), pyDep("b")}
	results, err := a.Evaluate(context.Background(), deps)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if results[0].Verdict.Status != health.StatusSafe || results[1].Verdict.Status != health.StatusWarning {
		t.Errorf("unexpected verdicts: %+v", results)
	}
	if c.Len() != 2 {
		t.Errorf("in-memory cache has %d entries, want 2", c.Len())
	}

	// The in-memory cache still serves the rest of the run.
	if _, err := a.Evaluate(context.Background(), deps); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if f.total.Load() != 2 {
		t.Errorf("fetches = %d, want 2", f.total.Load())
	}
}

func TestEvaluate_TransientFailureKeepsLastGood(t *testing.T) {
	meta := fakeMeta{"libx": source("https://github.com/acme/libx")}
	f := newFakeFetcher()
	f.set("github.com/acme/libx", daysAgo(10))

	now := testNow
	clock := func() time.Time { return now }
	c := cache.Open(cache.NewMemoryBackend(nil), cache.WithClock(clock))
	a := New(meta, resolver.New(), c, f, WithClock(clock))
	deps := []types.Dependency{pyDep("libx")}

	if _, err := a.Evaluate(context.Background(), deps); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	reset := testNow.Add(time.Hour)
	f.set("github.com/acme/libx", types.ActivityRecord{Status: types.StatusRateLimited, RateLimitReset: &reset})
	now = testNow.Add(25 * time.Hour)

	results, err := a.Evaluate(context.Background(), deps)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	r := results[0]
	if !r.UsedLastGood {
		t.Fatalf("expected last good record to be used: %+v", r)
	}
	if r.Verdict.Status != health.StatusSafe || r.Verdict.Days != 11 {
		t.Errorf("verdict = %+v, want SAFE at 11 days", r.Verdict)
	}
	if f.calls["github.com/acme/libx"] != 2 {
		t.Errorf("fetch calls = %d, want 2", f.calls["github.com/acme/libx"])
	}

	id, _ := types.ParseRepoID("github.com/acme/libx")
	e, _ := c.Lookup(id)
	if e.Record.Status != types.StatusRateLimited || e.LastGood == nil {
		t.Errorf("cache entry = %+v, want rate-limited with last good", e)
	}

	// Within the retry window the transient record is not refetched.
	now = now.Add(30 * time.Minute)
	if _, err := a.Evaluate(context.Background(), deps); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if f.calls["github.com/acme/libx"] != 2 {
		t.Errorf("refetched inside retry window: calls = %d", f.calls["github.com/acme/libx"])
	}
}

func TestEvaluate_HardFetchErrorNotStored(t *testing.T) {
	meta := fakeMeta{"libx": source("https://github.com/acme/libx")}
	f := newFakeFetcher()
	f.errs["github.com/acme/libx"] = errors.New("invalid id")

	a, c := newTestAnalyzer(t, meta, f, cache.NewMemoryBackend(nil))
	results, err := a.Evaluate(context.Background(), []types.Dependency{pyDep("libx")})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if results[0].Verdict.Status != health.StatusUnknown {
		t.Errorf("status = %s, want UNKNOWN", results[0].Verdict.Status)
	}
	if c.Len() != 0 {
		t.Errorf("cache has %d entries, want 0", c.Len())
	}
}

func TestEvaluate_Cancelled(t *testing.T) {
	meta := fakeMeta{
		"a": source("https://github.com/acme/a"),
		"b": source("https://github.com/acme/b"),
	}
	f := newFakeFetcher()
	f.gate = make(chan struct{})

	a, c := newTestAnalyzer(t, meta, f, cache.NewMemoryBackend(nil))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results, err := a.Evaluate(ctx, []types.Dependency{pyDep("a"), pyDep("b")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Evaluate() error = %v, want context.Canceled", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Verdict.Status != health.StatusUnknown {
			t.Errorf("%s: status = %s, want UNKNOWN", r.Dependency.Name, r.Verdict.Status)
		}
	}
	if c.Len() != 0 {
		t.Errorf("cancelled fetches were cached: %d entries", c.Len())
	}
}

func TestEvaluate_QuotaLimitsWorkers(t *testing.T) {
	meta := fakeMeta{}
	f := newFakeFetcher()
	var deps []types.Dependency
	for _, n := range []string{"a", "b", "c", "d"} {
		meta[n] = source("https://github.com/acme/" + n)
		f.set("github.com/acme/"+n, daysAgo(1))
		deps = append(deps, pyDep(n))
	}
	a, _ := newTestAnalyzer(t, meta, f, cache.NewMemoryBackend(nil),
		WithWorkers(8),
		WithQuota(func(context.Context) (int, error) { return 0, nil }))

	if got := a.poolSize(context.Background(), len(deps)); got != 1 {
		t.Errorf("poolSize() = %d, want 1", got)
	}
	results, err := a.Evaluate(context.Background(), deps)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if s := Summarize(results); s.Safe != 4 || s.Fetched != 4 {
		t.Errorf("Summarize() = %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	id := types.RepoID{Host: "github.com", Owner: "a", Name: "b"}
	rec := daysAgo(1)
	results := []Result{
		{Verdict: health.Verdict{Status: health.StatusSafe}, Repo: &id, Record: &rec, FromCache: true},
		{Verdict: health.Verdict{Status: health.StatusWarning}, Repo: &id, Record: &rec},
		{Verdict: health.Verdict{Status: health.StatusWarning}, Repo: &id, Record: &rec},
		{Verdict: health.Verdict{Status: health.StatusUnknown}},
	}
	want := SummaryStats{Total: 4, Safe: 1, Warning: 2, Unknown: 1, FromCache: 1, Fetched: 2}
	if got := Summarize(results); got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
}
