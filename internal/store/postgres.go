package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placecrawl/pkg/places"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements PlaceStore on a pgx connection pool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresFromURL connects a new pool to the given database URL.
func NewPostgresFromURL(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS places (
	seq         BIGINT GENERATED ALWAYS AS IDENTITY,
	place_id    TEXT PRIMARY KEY,
	data        BYTEA NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id           TEXT PRIMARY KEY,
	region       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	last_address TEXT NOT NULL DEFAULT '',
	requests     BIGINT NOT NULL DEFAULT 0,
	encountered  BIGINT NOT NULL DEFAULT 0,
	inserted     BIGINT NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Insert writes a batch of places in one transaction, skipping IDs that are
// already stored. It returns the number of newly inserted rows.
func (s *PostgresStore) Insert(ctx context.Context, batch []places.Place, capturedAt time.Time) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin insert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted := 0
	for _, p := range batch {
		blob, err := encodePayload(p.Raw)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO places (place_id, data, captured_at) VALUES ($1, $2, $3)
			 ON CONFLICT (place_id) DO NOTHING`,
			p.ID, blob, capturedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert place %s", p.ID)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit insert")
	}
	return inserted, nil
}

// Iterate yields every stored place in insertion order.
func (s *PostgresStore) Iterate(ctx context.Context, fn func(StoredPlace) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT place_id, data, captured_at FROM places ORDER BY seq`,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: iterate places")
	}
	defer rows.Close()

	for rows.Next() {
		var sp StoredPlace
		var blob []byte
		if err := rows.Scan(&sp.ID, &blob, &sp.CapturedAt); err != nil {
			return eris.Wrap(err, "postgres: scan place")
		}
		raw, err := decodePayload(blob)
		if err != nil {
			return eris.Wrapf(err, "postgres: payload of %s", sp.ID)
		}
		sp.Raw = raw
		if err := fn(sp); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: iterate places")
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM places`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count places")
}

func (s *PostgresStore) StartRun(ctx context.Context, run *CrawlRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, region, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Region, string(RunStatusRunning), run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: start run %s", run.ID)
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID, lastAddress string, requests, encountered, inserted int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET last_address = $1, requests = $2, encountered = $3, inserted = $4 WHERE id = $5`,
		lastAddress, requests, encountered, inserted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET status = $1, finished_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]CrawlRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, region, status, last_address, requests, encountered, inserted, started_at, finished_at
		 FROM crawl_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []CrawlRun
	for rows.Next() {
		var r CrawlRun
		var status string
		var finished *time.Time
		if err := rows.Scan(
			&r.ID, &r.Region, &status, &r.LastAddress,
			&r.Requests, &r.Encountered, &r.Inserted,
			&r.StartedAt, &finished,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = RunStatus(status)
		r.FinishedAt = finished
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
