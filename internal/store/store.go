// Package store persists crawled places with at-most-once semantics per
// place ID, plus a log of crawl runs for resumption.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placecrawl/pkg/places"
)

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CrawlRun records one crawl invocation. LastAddress is updated after every
// leaf request so an interrupted run can be resumed from it.
type CrawlRun struct {
	ID          string     `json:"id"`
	Region      string     `json:"region"`
	Status      RunStatus  `json:"status"`
	LastAddress string     `json:"last_address,omitempty"`
	Requests    int64      `json:"requests"`
	Encountered int64      `json:"encountered"`
	Inserted    int64      `json:"inserted"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// StoredPlace is a place as read back out of the store.
type StoredPlace struct {
	ID         string
	Raw        json.RawMessage
	CapturedAt time.Time
}

// PlaceStore is the persistence interface for the crawler and exporters.
//
// Insert is atomic per batch and silently skips IDs already present; the set
// of stored IDs only grows. Iterate yields every stored place in stable
// insertion order and may be called any number of times.
type PlaceStore interface {
	Insert(ctx context.Context, batch []places.Place, capturedAt time.Time) (int, error)
	Iterate(ctx context.Context, fn func(StoredPlace) error) error
	Count(ctx context.Context) (int64, error)

	StartRun(ctx context.Context, run *CrawlRun) error
	UpdateRunProgress(ctx context.Context, runID, lastAddress string, requests, encountered, inserted int64) error
	FinishRun(ctx context.Context, runID string, status RunStatus) error
	ListRuns(ctx context.Context, limit int) ([]CrawlRun, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open builds a PlaceStore for the configured driver. DSN is a file path for
// sqlite and a connection URL for postgres.
func Open(ctx context.Context, driver, dsn string) (PlaceStore, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgresFromURL(ctx, dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", driver)
	}
}
