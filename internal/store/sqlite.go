package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/internal/replicate"
)

// SQLiteStore implements Store using modernc.org/sqlite.
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	models     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	label       TEXT,
	rationale   TEXT NOT NULL DEFAULT '',
	confidence  REAL,
	source_text TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	success     INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	annotated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS promptbooks (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fingerprints (
	id          TEXT PRIMARY KEY,
	model_id    TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	computed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
CREATE INDEX IF NOT EXISTS idx_promptbooks_run_id ON promptbooks(run_id);
CREATE INDEX IF NOT EXISTS idx_fingerprints_model_id ON fingerprints(model_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, task string, mode RunMode, models []model.ModelConfig) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal models")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task, mode, status, models, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, task, string(mode), string(RunStatusRunning), string(modelsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		ID:        id,
		Task:      task,
		Mode:      mode,
		Status:    RunStatusRunning,
		Models:    models,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Task != "" {
		query += ` AND task = ?`
		args = append(args, filter.Task)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, runID string, rec model.AnnotationRecord) error {
	id := uuid.New().String()

	var label sql.NullString
	if rec.Label != nil {
		label = sql.NullString{String: *rec.Label, Valid: true}
	}
	var confidence sql.NullFloat64
	if rec.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *rec.Confidence, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, run_id, label, rationale, confidence, source_text, model_id, success, error, annotated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, label, rec.Rationale, confidence, rec.SourceText, rec.ModelID, rec.Success, rec.Error, rec.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: insert record for run %s", runID)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, runID string) ([]model.AnnotationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, rationale, confidence, source_text, model_id, success, error, annotated_at
		 FROM records WHERE run_id = ? ORDER BY annotated_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records for run %s", runID)
	}
	defer rows.Close()

	var recs []model.AnnotationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) SavePromptbook(ctx context.Context, runID string, pb *replicate.Promptbook) error {
	doc, err := json.Marshal(pb)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal promptbook")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO promptbooks (id, run_id, doc, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), runID, string(doc), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert promptbook for run %s", runID)
}

func (s *SQLiteStore) GetPromptbook(ctx context.Context, runID string) (*replicate.Promptbook, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM promptbooks WHERE run_id = ? ORDER BY created_at DESC LIMIT 1`,
		runID,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("promptbook not found for run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get promptbook for run %s", runID)
	}

	var pb replicate.Promptbook
	if err := json.Unmarshal([]byte(doc), &pb); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal promptbook")
	}
	return &pb, nil
}

func (s *SQLiteStore) SaveFingerprint(ctx context.Context, modelID, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (id, model_id, fingerprint, computed_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), modelID, fingerprint, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert fingerprint for %s", modelID)
}

func (s *SQLiteStore) LatestFingerprint(ctx context.Context, modelID string) (string, time.Time, bool, error) {
	var fp string
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, computed_at FROM fingerprints WHERE model_id = ? ORDER BY computed_at DESC LIMIT 1`,
		modelID,
	).Scan(&fp, &at)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, eris.Wrapf(err, "sqlite: get fingerprint for %s", modelID)
	}
	return fp, at, true, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var mode, status, modelsJSON string

	err := row.Scan(&r.ID, &r.Task, &mode, &status, &modelsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Mode = RunMode(mode)
	r.Status = RunStatus(status)

	if err := json.Unmarshal([]byte(modelsJSON), &r.Models); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal models")
	}
	return &r, nil
}

func scanRecord(row scannable) (*model.AnnotationRecord, error) {
	var r model.AnnotationRecord
	var label sql.NullString
	var confidence sql.NullFloat64

	err := row.Scan(&label, &r.Rationale, &confidence, &r.SourceText, &r.ModelID, &r.Success, &r.Error, &r.Timestamp)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}
	if label.Valid {
		r.Label = &label.String
	}
	if confidence.Valid {
		r.Confidence = &confidence.Float64
	}
	return &r, nil
}
