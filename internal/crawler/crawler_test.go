package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/placecrawl/internal/geo"
	"github.com/sells-group/placecrawl/internal/store"
	"github.com/sells-group/placecrawl/pkg/places"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testRegion is small enough that a 3x3 subdivision never triggers the
// radius-based pre-split.
var testRegion = geo.Region{
	MinLng: -71.1054416355,
	MinLat: 42.3346006792,
	MaxLng: -71.1001952347,
	MaxLat: 42.3393749713,
}

// fakeProvider answers browse requests from a per-region response function
// and records every requested region in order.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	respond func(in geo.Region) ([]places.Place, error)
}

func (f *fakeProvider) Browse(_ context.Context, in geo.Region, _ places.BrowseOptions) ([]places.Place, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in.String())
	f.mu.Unlock()
	return f.respond(in)
}

func (f *fakeProvider) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// makePlaces builds n places with IDs derived from prefix.
func makePlaces(prefix string, n int) []places.Place {
	out := make([]places.Place, n)
	for i := range out {
		id := fmt.Sprintf("%s-%d", prefix, i)
		raw, _ := json.Marshal(map[string]any{"id": id, "title": id})
		out[i] = places.Place{ID: id, Raw: raw}
	}
	return out
}

func newCrawlStore(t *testing.T) store.PlaceStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig() Config {
	return Config{RateLimit: 100000}
}

func TestCrawl_OneRequestPerQuietLeaf(t *testing.T) {
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 5), nil
	}}
	st := newCrawlStore(t)

	var reports []Report
	c := New(provider, st, testConfig(), WithProgress(func(r Report) {
		reports = append(reports, r)
	}))

	require.NoError(t, c.Crawl(context.Background(), testRegion, nil))

	// Nine children, one request each, no re-descent.
	cells, err := testRegion.Subdivide(3, 3)
	require.NoError(t, err)
	calls := provider.requested()
	require.Len(t, calls, 9)
	for i, cell := range cells {
		assert.Equal(t, cell.String(), calls[i], "request %d out of row-major order", i)
	}

	totals := c.Counters()
	assert.Equal(t, int64(9), totals.Requests)
	assert.Equal(t, int64(45), totals.Encountered)
	assert.Equal(t, int64(45), totals.Inserted)

	require.Len(t, reports, 9)
	for i, r := range reports {
		assert.True(t, r.Address.Equal(Address{i}))
		assert.Equal(t, 5, r.Found)
		assert.False(t, r.Skipped)
	}
}

func TestCrawl_CountersSeparateDuplicates(t *testing.T) {
	// Every leaf reports the same five places; only the first leaf's insert
	// finds them new.
	provider := &fakeProvider{respond: func(geo.Region) ([]places.Place, error) {
		return makePlaces("dup", 5), nil
	}}
	st := newCrawlStore(t)
	c := New(provider, st, testConfig())

	require.NoError(t, c.Crawl(context.Background(), testRegion, nil))

	totals := c.Counters()
	assert.Equal(t, int64(9), totals.Requests)
	assert.Equal(t, int64(45), totals.Encountered)
	assert.Equal(t, int64(5), totals.Inserted)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestCrawl_NearCapTriggersSingleRedescent(t *testing.T) {
	cells, err := testRegion.Subdivide(3, 3)
	require.NoError(t, err)
	overflowing := cells[0].String()

	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		if in.String() == overflowing {
			return makePlaces("hot", 95), nil
		}
		return makePlaces(in.String(), 3), nil
	}}
	st := newCrawlStore(t)
	c := New(provider, st, testConfig())

	require.NoError(t, c.Crawl(context.Background(), testRegion, nil))

	// 9 top-level requests plus exactly 9 for the overflowing cell's children.
	calls := provider.requested()
	require.Len(t, calls, 18)

	children, err := cells[0].Subdivide(3, 3)
	require.NoError(t, err)
	// The re-descent happens immediately after the overflowing leaf, before
	// its next sibling.
	assert.Equal(t, overflowing, calls[0])
	for i, child := range children {
		assert.Equal(t, child.String(), calls[1+i])
	}
	assert.Equal(t, cells[1].String(), calls[10])

	totals := c.Counters()
	assert.Equal(t, int64(18), totals.Requests)
	assert.Equal(t, int64(95+9*3+8*3), totals.Encountered)
}

func TestCrawl_AtThresholdDoesNotRedescend(t *testing.T) {
	// 90 of 100 is at, not past, the near-cap: no refinement.
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 90), nil
	}}
	st := newCrawlStore(t)
	c := New(provider, st, testConfig())

	require.NoError(t, c.Crawl(context.Background(), testRegion, nil))
	assert.Equal(t, int64(9), c.Counters().Requests)
}

func TestCrawl_ResumeSkipsCompletedLeaves(t *testing.T) {
	cells, err := testRegion.Subdivide(3, 3)
	require.NoError(t, err)
	sub0, err := cells[0].Subdivide(3, 3)
	require.NoError(t, err)

	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 2), nil
	}}
	st := newCrawlStore(t)

	var skipped, visited []string
	c := New(provider, st, testConfig(), WithProgress(func(r Report) {
		if r.Skipped {
			skipped = append(skipped, r.Address.String())
		} else {
			visited = append(visited, r.Address.String())
		}
	}))

	require.NoError(t, c.Crawl(context.Background(), testRegion, Address{0, 2}))

	calls := provider.requested()
	// [0,2]'s nine children + [0,3]..[0,8] + [1]..[8].
	assert.Len(t, calls, 23)

	// Nothing on the already-completed path is re-requested.
	assert.NotContains(t, calls, cells[0].String())
	assert.NotContains(t, calls, sub0[0].String())
	assert.NotContains(t, calls, sub0[1].String())
	assert.NotContains(t, calls, sub0[2].String())

	// The resume target's children are all crawled.
	resumedChildren, err := sub0[2].Subdivide(3, 3)
	require.NoError(t, err)
	for _, child := range resumedChildren {
		assert.Contains(t, calls, child.String())
	}

	// Siblings after the resume point proceed normally.
	for i := 3; i < 9; i++ {
		assert.Contains(t, calls, sub0[i].String())
	}
	for i := 1; i < 9; i++ {
		assert.Contains(t, calls, cells[i].String())
	}

	assert.Equal(t, []string{"0", "0,0", "0,1", "0,2"}, skipped)
	assert.Equal(t, "0,2,0", visited[0])
}

func TestCrawl_EmptyResumeMatchesRoot(t *testing.T) {
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 1), nil
	}}
	st := newCrawlStore(t)
	c := New(provider, st, testConfig())

	require.NoError(t, c.Crawl(context.Background(), testRegion, Address{}))
	assert.Equal(t, int64(9), c.Counters().Requests)
}

func TestCrawl_DepthExceeded(t *testing.T) {
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 95), nil
	}}
	st := newCrawlStore(t)

	cfg := testConfig()
	cfg.MaxDepth = 2
	c := New(provider, st, cfg)

	err := c.Crawl(context.Background(), testRegion, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrDepthExceeded))

	// One request at depth 1, one at depth 2, then the bound trips.
	assert.Equal(t, int64(2), c.Counters().Requests)
}

func TestCrawl_NotConfigured(t *testing.T) {
	st := newCrawlStore(t)
	c := New(nil, st, testConfig())

	err := c.Crawl(context.Background(), testRegion, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotConfigured))

	// Fails before any work: no run is logged.
	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCrawl_ProviderFailureAbortsRun(t *testing.T) {
	boom := eris.New("quota exhausted")
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return nil, boom
	}}
	st := newCrawlStore(t)
	c := New(provider, st, testConfig())

	err := c.Crawl(context.Background(), testRegion, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))

	// Exactly one request: the failure unwinds the whole traversal.
	assert.Len(t, provider.requested(), 1)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
}

func TestCrawl_RunLogRecordsProgress(t *testing.T) {
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 4), nil
	}}
	st := newCrawlStore(t)
	c := New(provider, st, testConfig())

	require.NoError(t, c.Crawl(context.Background(), testRegion, nil))

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, store.RunStatusCompleted, run.Status)
	assert.Equal(t, testRegion.String(), run.Region)
	assert.Equal(t, "8", run.LastAddress)
	assert.Equal(t, int64(9), run.Requests)
	assert.Equal(t, int64(36), run.Encountered)
	assert.Equal(t, int64(36), run.Inserted)
	require.NotNil(t, run.FinishedAt)
}

func TestCrawl_ParallelSiblings(t *testing.T) {
	provider := &fakeProvider{respond: func(in geo.Region) ([]places.Place, error) {
		return makePlaces(in.String(), 5), nil
	}}
	st := newCrawlStore(t)

	cfg := testConfig()
	cfg.Concurrency = 4
	c := New(provider, st, cfg)

	require.NoError(t, c.Crawl(context.Background(), testRegion, nil))

	// Same totals as the sequential crawl; only the order may differ.
	totals := c.Counters()
	assert.Equal(t, int64(9), totals.Requests)
	assert.Equal(t, int64(45), totals.Encountered)
	assert.Equal(t, int64(45), totals.Inserted)

	cells, err := testRegion.Subdivide(3, 3)
	require.NoError(t, err)
	want := make([]string, len(cells))
	for i, cell := range cells {
		want[i] = cell.String()
	}
	got := provider.requested()
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}
