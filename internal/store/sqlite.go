package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/placecrawl/pkg/places"
)

// SQLiteStore implements PlaceStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	place_id    TEXT PRIMARY KEY,
	data        BLOB NOT NULL,
	captured_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id           TEXT PRIMARY KEY,
	region       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	last_address TEXT NOT NULL DEFAULT '',
	requests     INTEGER NOT NULL DEFAULT 0,
	encountered  INTEGER NOT NULL DEFAULT 0,
	inserted     INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_crawl_runs_started_at ON crawl_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert writes a batch of places in one transaction, skipping IDs that are
// already stored. It returns the number of newly inserted rows.
func (s *SQLiteStore) Insert(ctx context.Context, batch []places.Place, capturedAt time.Time) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO places (place_id, data, captured_at) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for _, p := range batch {
		blob, err := encodePayload(p.Raw)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, p.ID, blob, capturedAt.UTC())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert place %s", p.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert")
	}
	return inserted, nil
}

// Iterate yields every stored place in insertion order.
func (s *SQLiteStore) Iterate(ctx context.Context, fn func(StoredPlace) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT place_id, data, captured_at FROM places ORDER BY rowid`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: iterate places")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var sp StoredPlace
		var blob []byte
		if err := rows.Scan(&sp.ID, &blob, &sp.CapturedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan place")
		}
		raw, err := decodePayload(blob)
		if err != nil {
			return eris.Wrapf(err, "sqlite: payload of %s", sp.ID)
		}
		sp.Raw = raw
		if err := fn(sp); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate places")
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM places`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count places")
}

func (s *SQLiteStore) StartRun(ctx context.Context, run *CrawlRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, region, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Region, string(RunStatusRunning), run.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: start run %s", run.ID)
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID, lastAddress string, requests, encountered, inserted int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET last_address = ?, requests = ?, encountered = ?, inserted = ? WHERE id = ?`,
		lastAddress, requests, encountered, inserted, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	return checkRunExists(res, runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRunExists(res, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]CrawlRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, region, status, last_address, requests, encountered, inserted, started_at, finished_at
		 FROM crawl_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []CrawlRun
	for rows.Next() {
		var r CrawlRun
		var status string
		var finished sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Region, &status, &r.LastAddress,
			&r.Requests, &r.Encountered, &r.Inserted,
			&r.StartedAt, &finished,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRunExists(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", runID)
	}
	return nil
}
