// Package crawler walks a region's subdivision tree, requesting each leaf
// cell from the search provider and feeding results into the place store.
package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/placecrawl/internal/geo"
	"github.com/sells-group/placecrawl/internal/store"
	"github.com/sells-group/placecrawl/pkg/places"
)

// ErrNotConfigured means no search provider (credentials) is available.
// Crawl fails with it before issuing any request.
var ErrNotConfigured = eris.New("crawler: no search provider configured")

// ErrDepthExceeded means a cell stayed above the near-cap threshold through
// every allowed level of refinement.
var ErrDepthExceeded = eris.New("crawler: maximum subdivision depth exceeded")

// Config tunes the recursive descent.
type Config struct {
	// GridRows/GridCols set the per-level fan-out. Default 3x3.
	GridRows int
	GridCols int

	// MaxRadiusKM caps a cell's corner-to-corner great-circle distance;
	// larger cells are pre-split before any request is issued.
	// Default 50.
	MaxRadiusKM float64

	// PageSize is the per-request result cap. The near-cap threshold that
	// triggers re-descent is 90% of it. Default places.DefaultPageSize.
	PageSize int

	// Categories restricts every browse request, empty = all.
	Categories []string

	// MaxDepth bounds the recursion. Descending past it fails with
	// ErrDepthExceeded instead of refining forever. Default 10.
	MaxDepth int

	// RateLimit is the maximum browse requests per second. Default 10.
	RateLimit float64

	// Concurrency is the number of sibling cells crawled in parallel.
	// Default 1, which preserves strict row-major request order.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.GridRows <= 0 {
		c.GridRows = 3
	}
	if c.GridCols <= 0 {
		c.GridCols = c.GridRows
	}
	if c.MaxRadiusKM <= 0 {
		c.MaxRadiusKM = 50
	}
	if c.PageSize <= 0 {
		c.PageSize = places.DefaultPageSize
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 10
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// nearCap is the result count above which a leaf's response is assumed
// truncated and the cell is refined further.
func (c Config) nearCap() int {
	return c.PageSize * 9 / 10
}

// Counters is a snapshot of the crawl totals.
type Counters struct {
	Requests    int64
	Encountered int64
	Inserted    int64
}

// Report describes one visited leaf. Skipped leaves (resume fast-forward)
// carry zero counts.
type Report struct {
	Address Address
	Region  geo.Region
	Found   int
	New     int
	Skipped bool
	Totals  Counters
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithProgress replaces the default per-leaf progress logging. The callback
// is serialized internally.
func WithProgress(fn func(Report)) Option {
	return func(c *Crawler) {
		c.progress = fn
	}
}

// Crawler drives the adaptive recursive descent. Counters are scoped to the
// Crawler instance and only ever increase.
type Crawler struct {
	provider places.Client
	store    store.PlaceStore
	cfg      Config
	limiter  *rate.Limiter
	progress func(Report)

	requests    atomic.Int64
	encountered atomic.Int64
	inserted    atomic.Int64

	mu sync.Mutex // serializes progress emission and run-log writes
}

// New creates a Crawler. The provider may be nil, in which case Crawl fails
// with ErrNotConfigured.
func New(provider places.Client, st store.PlaceStore, cfg Config, opts ...Option) *Crawler {
	cfg = cfg.withDefaults()
	c := &Crawler{
		provider: provider,
		store:    st,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
	}
	c.progress = c.logProgress
	for _, o := range opts {
		o(c)
	}
	return c
}

// Counters returns the current totals.
func (c *Crawler) Counters() Counters {
	return Counters{
		Requests:    c.requests.Load(),
		Encountered: c.encountered.Load(),
		Inserted:    c.inserted.Load(),
	}
}

// Crawl walks the subdivision tree under region. A non-nil resumeFrom
// fast-forwards the descent to that address, skipping every cell ordered
// before it; the empty address resumes at the root, i.e. skips nothing.
//
// A provider or store failure aborts the whole traversal; the run log keeps
// the last completed address so the operator can resume.
func (c *Crawler) Crawl(ctx context.Context, region geo.Region, resumeFrom Address) error {
	if c.provider == nil {
		return ErrNotConfigured
	}
	if c.store == nil {
		return eris.New("crawler: no place store configured")
	}
	if err := region.Validate(); err != nil {
		return err
	}

	runID := uuid.New().String()
	run := &store.CrawlRun{
		ID:        runID,
		Region:    region.String(),
		StartedAt: time.Now().UTC(),
	}
	if err := c.store.StartRun(ctx, run); err != nil {
		// The run log is bookkeeping; a failure to record it must not stop
		// the crawl itself.
		zap.L().Warn("crawler: start run log", zap.Error(err))
		runID = ""
	}

	zap.L().Info("crawl starting",
		zap.String("run_id", runID),
		zap.String("region", region.String()),
		zap.String("resume_from", resumeFrom.String()),
	)

	err := c.descend(ctx, region, resumeFrom, nil, runID)

	status := store.RunStatusCompleted
	if err != nil {
		status = store.RunStatusFailed
	}
	if runID != "" {
		if logErr := c.store.FinishRun(ctx, runID, status); logErr != nil {
			zap.L().Warn("crawler: finish run log", zap.Error(logErr))
		}
	}

	totals := c.Counters()
	zap.L().Info("crawl finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Int64("requests", totals.Requests),
		zap.Int64("encountered", totals.Encountered),
		zap.Int64("inserted", totals.Inserted),
	)
	return err
}

// descend subdivides region and processes each child cell in row-major
// order. addr is the address of region itself; resume, when non-nil, is the
// still-pending resume target.
func (c *Crawler) descend(ctx context.Context, region geo.Region, resume Address, addr Address, runID string) error {
	if len(addr) >= c.cfg.MaxDepth {
		return eris.Wrapf(ErrDepthExceeded, "at address %q (depth %d)", addr, len(addr))
	}

	cells, err := region.AdaptiveSubdivide(c.cfg.GridRows, c.cfg.GridCols, c.cfg.MaxRadiusKM, geo.UnitKilometers)
	if err != nil {
		return err
	}

	// Sibling parallelism only applies once the resume target has been
	// passed: while it is pending, ordering decides what gets skipped.
	if resume == nil && c.cfg.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.cfg.Concurrency)
		for i, cell := range cells {
			cell := cell
			childAddr := addr.Child(i)
			g.Go(func() error {
				return c.visit(gctx, cell, childAddr, runID)
			})
		}
		return g.Wait()
	}

	for i, cell := range cells {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		childAddr := addr.Child(i)

		// Resume bookkeeping. Matching the parent exactly means the target
		// has been reached: everything from here on is processed normally.
		// A target ordered before this child has been passed, likewise.
		var cropped Address
		if resume != nil && resume.Equal(addr) {
			resume = nil
		} else if resume != nil {
			cropped = resume.Truncate(len(childAddr))
			if cropped.Compare(childAddr) < 0 {
				resume = nil
			}
		}

		if resume == nil {
			if err := c.visit(ctx, cell, childAddr, runID); err != nil {
				return err
			}
			continue
		}

		// Still fast-forwarding: no request for this cell. When the child
		// lies on the resume path, descend into it with the target intact —
		// its own ancestors' requests are assumed already done.
		c.emit(ctx, Report{Address: childAddr, Region: cell, Skipped: true, Totals: c.Counters()}, runID, false)
		if cropped.Equal(childAddr) {
			if err := c.descend(ctx, cell, resume, childAddr, runID); err != nil {
				return err
			}
		}
	}
	return nil
}

// visit issues the browse request for one leaf cell, stores the results, and
// re-descends if the response looks truncated.
func (c *Crawler) visit(ctx context.Context, cell geo.Region, addr Address, runID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "crawler: rate limit wait")
	}

	requestTime := time.Now().UTC()
	results, err := c.provider.Browse(ctx, cell, places.BrowseOptions{
		Size:       c.cfg.PageSize,
		Categories: c.cfg.Categories,
	})
	if err != nil {
		return eris.Wrapf(err, "crawler: browse %q", addr)
	}

	newCount, err := c.store.Insert(ctx, results, requestTime)
	if err != nil {
		return eris.Wrapf(err, "crawler: store results of %q", addr)
	}

	c.requests.Add(1)
	c.encountered.Add(int64(len(results)))
	c.inserted.Add(int64(newCount))

	c.emit(ctx, Report{
		Address: addr,
		Region:  cell,
		Found:   len(results),
		New:     newCount,
		Totals:  c.Counters(),
	}, runID, true)

	// At or past the near-cap the response may be truncated: refine this
	// cell even though it was just requested. The overlap is deliberate.
	if len(results) > c.cfg.nearCap() {
		return c.descend(ctx, cell, nil, addr, runID)
	}
	return nil
}

// emit delivers a progress report and, for visited leaves, records the
// address in the run log.
func (c *Crawler) emit(ctx context.Context, r Report, runID string, record bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.progress(r)

	if record && runID != "" {
		if err := c.store.UpdateRunProgress(ctx, runID, r.Address.String(),
			r.Totals.Requests, r.Totals.Encountered, r.Totals.Inserted); err != nil {
			zap.L().Warn("crawler: update run log", zap.Error(err))
		}
	}
}

func (c *Crawler) logProgress(r Report) {
	log := zap.L().With(
		zap.String("component", "crawler"),
		zap.String("address", r.Address.String()),
		zap.String("region", r.Region.String()),
	)
	if r.Skipped {
		log.Debug("leaf skipped")
		return
	}
	log.Info("leaf crawled",
		zap.Int("found", r.Found),
		zap.Int("new", r.New),
		zap.Int64("total_requests", r.Totals.Requests),
		zap.Int64("total_encountered", r.Totals.Encountered),
		zap.Int64("total_inserted", r.Totals.Inserted),
	)
}
