// Package provenance keeps a SQLite log of every run and its source fetches.
package provenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/sheetwise/internal/orchestrator"
)

// ErrNotFound is returned by GetRun for an unknown id.
var ErrNotFound = errors.New("run not found")

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	question        TEXT NOT NULL,
	state           TEXT NOT NULL,
	error           TEXT,
	candidates_json TEXT NOT NULL,
	fallback        INTEGER NOT NULL DEFAULT 0,
	answer          TEXT,
	rounds          INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetches (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	source        TEXT NOT NULL,
	purpose       TEXT,
	outcome       TEXT NOT NULL,
	row_count     INTEGER NOT NULL,
	approx_chars  INTEGER NOT NULL,
	error         TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_fetches_run ON fetches(run_id, seq);
`

// #endregion schema

// #region store-struct

// Store manages the run log in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens (or creates) the SQLite database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore runs migrations on an already-open database.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region record

// Record stores a finished orchestrator run. It satisfies orchestrator.Recorder.
func (s *Store) Record(ctx context.Context, run *orchestrator.Run) error {
	return s.RecordRun(ctx, FromRun(run))
}

// FromRun converts an orchestrator run into its stored form.
func FromRun(run *orchestrator.Run) RunRecord {
	rec := RunRecord{
		RunID:      run.ID,
		Question:   run.Question,
		State:      string(run.State),
		Fallback:   run.Selection.Fallback,
		Answer:     run.Answer,
		Rounds:     run.Rounds,
		CreatedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	for _, c := range run.Selection.Candidates {
		rec.Sources = append(rec.Sources, SourceRecord{Name: c.Name, Reason: c.Reason})
	}
	for i, f := range run.Fetches {
		rec.Fetches = append(rec.Fetches, FetchRecord{
			Seq:         i + 1,
			Source:      f.Name,
			Purpose:     f.Purpose,
			Outcome:     string(f.Outcome),
			RowCount:    f.RowCount,
			ApproxChars: f.ApproxChars,
			Error:       f.Error,
		})
	}
	return rec
}

// RecordRun inserts a run and its fetches in one transaction.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = rec.CreatedAt
	}
	sources := rec.Sources
	if sources == nil {
		sources = []SourceRecord{}
	}
	candJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, question, state, error, candidates_json, fallback, answer, rounds, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Question, rec.State, nullIfEmpty(rec.Error), string(candJSON),
		boolInt(rec.Fallback), nullIfEmpty(rec.Answer), rec.Rounds,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range rec.Fetches {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO fetches (run_id, seq, source, purpose, outcome, row_count, approx_chars, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, f.Seq, f.Source, nullIfEmpty(f.Purpose), f.Outcome,
			f.RowCount, f.ApproxChars, nullIfEmpty(f.Error),
		)
		if err != nil {
			return fmt.Errorf("insert fetch %d: %w", f.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion record

// #region list-runs

// ListRuns returns the most recent runs, newest first, without fetches.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, question, state, error, candidates_json, fallback, answer, rounds, created_at, finished_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-runs

// #region get-run

// GetRun retrieves one run with its fetches in order.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, question, state, error, candidates_json, fallback, answer, rounds, created_at, finished_at
		 FROM runs WHERE run_id = ?`, id,
	)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, source, purpose, outcome, row_count, approx_chars, error
		 FROM fetches WHERE run_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get fetches %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f FetchRecord
		var purpose, errMsg sql.NullString
		if err := rows.Scan(&f.Seq, &f.Source, &purpose, &f.Outcome, &f.RowCount, &f.ApproxChars, &errMsg); err != nil {
			return RunRecord{}, fmt.Errorf("scan fetch: %w", err)
		}
		f.Purpose = purpose.String
		f.Error = errMsg.String
		rec.Fetches = append(rec.Fetches, f)
	}
	return rec, rows.Err()
}

// #endregion get-run

// #region stats

// Stats counts runs by state and fetches by outcome.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Runs: map[string]int{}, Fetches: map[string]int{}}
	if err := countInto(ctx, s.db, `SELECT state, COUNT(*) FROM runs GROUP BY state`, st.Runs); err != nil {
		return Stats{}, fmt.Errorf("count runs: %w", err)
	}
	if err := countInto(ctx, s.db, `SELECT outcome, COUNT(*) FROM fetches GROUP BY outcome`, st.Fetches); err != nil {
		return Stats{}, fmt.Errorf("count fetches: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE fallback = 1`).Scan(&st.Fallback); err != nil {
		return Stats{}, fmt.Errorf("count fallback: %w", err)
	}
	return st, nil
}

// #endregion stats

// #region helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var rec RunRecord
	var errMsg, answer sql.NullString
	var candJSON, createdStr, finishedStr string
	var fallback int
	err := sc.Scan(&rec.RunID, &rec.Question, &rec.State, &errMsg, &candJSON, &fallback,
		&answer, &rec.Rounds, &createdStr, &finishedStr)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Error = errMsg.String
	rec.Answer = answer.String
	rec.Fallback = fallback == 1
	if err := json.Unmarshal([]byte(candJSON), &rec.Sources); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal candidates: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedStr)
	return rec, nil
}

func countInto(ctx context.Context, db *sql.DB, query string, into map[string]int) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
