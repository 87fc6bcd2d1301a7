package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"addrclean/internal"
)

// DB is the run audit log. Runs are recorded, never replayed.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "create db dir")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "enable wal")
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  inputPath TEXT NOT NULL,
  outputPath TEXT NOT NULL,
  startedAt TEXT NOT NULL,
  finishedAt TEXT NOT NULL,
  status TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  timingsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_startedAt ON runs(startedAt);

CREATE TABLE IF NOT EXISTS batch_failures (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId TEXT NOT NULL,
  slot INTEGER NOT NULL,
  batchIndex INTEGER NOT NULL,
  firstRow INTEGER NOT NULL,
  lastRow INTEGER NOT NULL,
  records INTEGER NOT NULL,
  kind TEXT NOT NULL,
  message TEXT NOT NULL,
  UNIQUE(runId, slot, batchIndex),
  FOREIGN KEY(runId) REFERENCES runs(id)
);
`

	_, err := d.conn.Exec(schema)
	return eris.Wrap(err, "init schema")
}

// InsertRun stores the run and its failures in one transaction.
func (d *DB) InsertRun(run internal.RunRecord, failures []internal.FailureRecord) error {
	countsJSON, _ := json.Marshal(run.Counts)
	timingsJSON, _ := json.Marshal(run.Timings)

	tx, err := d.conn.Begin()
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
INSERT INTO runs (id, inputPath, outputPath, startedAt, finishedAt, status, countsJson, timingsJson)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.InputPath, run.OutputPath,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(run.Status), string(countsJSON), string(timingsJSON))
	if err != nil {
		return eris.Wrapf(err, "insert run %s", run.ID)
	}

	stmt, err := tx.Prepare(`
INSERT INTO batch_failures (runId, slot, batchIndex, firstRow, lastRow, records, kind, message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return eris.Wrap(err, "prepare failure insert")
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.Exec(run.ID, f.Slot, f.BatchIndex, f.FirstRowID, f.LastRowID, f.Records, f.Kind, f.Message); err != nil {
			return eris.Wrapf(err, "insert failure for run %s", run.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "commit run")
}

const runColumns = `id, inputPath, outputPath, startedAt, finishedAt, status, countsJson, timingsJson`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (internal.RunRecord, error) {
	var (
		run                     internal.RunRecord
		started, finished       string
		status                  string
		countsJSON, timingsJSON string
	)
	if err := s.Scan(&run.ID, &run.InputPath, &run.OutputPath, &started, &finished, &status, &countsJSON, &timingsJSON); err != nil {
		return run, err
	}
	run.Status = internal.RunStatus(status)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	_ = json.Unmarshal([]byte(countsJSON), &run.Counts)
	_ = json.Unmarshal([]byte(timingsJSON), &run.Timings)
	return run, nil
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(limit int) ([]internal.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY startedAt DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []internal.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan run")
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (d *DB) GetRun(id string) (*internal.RunRecord, error) {
	run, err := scanRun(d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get run %s", id)
	}
	return &run, nil
}

func (d *DB) ListBatchFailures(runID string) ([]internal.FailureRecord, error) {
	rows, err := d.conn.Query(`
SELECT runId, slot, batchIndex, firstRow, lastRow, records, kind, message
FROM batch_failures WHERE runId = ? ORDER BY slot ASC, batchIndex ASC
`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "query failures for run %s", runID)
	}
	defer rows.Close()

	var out []internal.FailureRecord
	for rows.Next() {
		var f internal.FailureRecord
		if err := rows.Scan(&f.RunID, &f.Slot, &f.BatchIndex, &f.FirstRowID, &f.LastRowID, &f.Records, &f.Kind, &f.Message); err != nil {
			return nil, eris.Wrap(err, "scan failure")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
