package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/internal/replicate"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of a batch run.
var preparedStatements = map[string]string{
	"insert_run":         `INSERT INTO runs (id, task, mode, status, models, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"update_run_status":  `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_run":            `SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_record":      `INSERT INTO records (id, run_id, label, rationale, confidence, source_text, model_id, success, error, annotated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_fingerprint": `INSERT INTO fingerprints (id, model_id, fingerprint, computed_at) VALUES ($1, $2, $3, $4)`,
	"get_fingerprint":    `SELECT fingerprint, computed_at FROM fingerprints WHERE model_id = $1 ORDER BY computed_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	models     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	label       TEXT,
	rationale   TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION,
	source_text TEXT NOT NULL,
	model_id    TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	annotated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS promptbooks (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fingerprints (
	id          TEXT PRIMARY KEY,
	model_id    TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
CREATE INDEX IF NOT EXISTS idx_promptbooks_run_id ON promptbooks(run_id);
CREATE INDEX IF NOT EXISTS idx_fingerprints_model_id ON fingerprints(model_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, task string, mode RunMode, models []model.ModelConfig) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal models")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, task, mode, status, models, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, task, string(mode), string(RunStatusRunning), modelsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.Task != "" {
		args = append(args, filter.Task)
		query += ` AND task = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendRecord(ctx context.Context, runID string, rec model.AnnotationRecord) error {
	// pgx maps nil pointers to SQL NULL directly.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (id, run_id, label, rationale, confidence, source_text, model_id, success, error, annotated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New().String(), runID, rec.Label, rec.Rationale, rec.Confidence,
		rec.SourceText, rec.ModelID, rec.Success, rec.Error, rec.Timestamp,
	)
	return eris.Wrapf(err, "postgres: insert record for run %s", runID)
}

func (s *PostgresStore) ListRecords(ctx context.Context, runID string) ([]model.AnnotationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label, rationale, confidence, source_text, model_id, success, error, annotated_at
		 FROM records WHERE run_id = $1 ORDER BY annotated_at ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records for run %s", runID)
	}
	defer rows.Close()

	var recs []model.AnnotationRecord
	for rows.Next() {
		var r model.AnnotationRecord
		if err := rows.Scan(&r.Label, &r.Rationale, &r.Confidence, &r.SourceText, &r.ModelID, &r.Success, &r.Error, &r.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SavePromptbook(ctx context.Context, runID string, pb *replicate.Promptbook) error {
	doc, err := json.Marshal(pb)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal promptbook")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO promptbooks (id, run_id, doc, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), runID, doc, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert promptbook for run %s", runID)
}

func (s *PostgresStore) GetPromptbook(ctx context.Context, runID string) (*replicate.Promptbook, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM promptbooks WHERE run_id = $1 ORDER BY created_at DESC LIMIT 1`,
		runID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("promptbook not found for run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get promptbook for run %s", runID)
	}

	var pb replicate.Promptbook
	if err := json.Unmarshal(doc, &pb); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal promptbook")
	}
	return &pb, nil
}

func (s *PostgresStore) SaveFingerprint(ctx context.Context, modelID, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fingerprints (id, model_id, fingerprint, computed_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), modelID, fingerprint, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert fingerprint for %s", modelID)
}

func (s *PostgresStore) LatestFingerprint(ctx context.Context, modelID string) (string, time.Time, bool, error) {
	var fp string
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, computed_at FROM fingerprints WHERE model_id = $1 ORDER BY computed_at DESC LIMIT 1`,
		modelID,
	).Scan(&fp, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, eris.Wrapf(err, "postgres: get fingerprint for %s", modelID)
	}
	return fp, at, true, nil
}

func scanPgRun(row scannable) (*Run, error) {
	var r Run
	var mode, status string
	var modelsJSON []byte

	err := row.Scan(&r.ID, &r.Task, &mode, &status, &modelsJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}
	r.Mode = RunMode(mode)
	r.Status = RunStatus(status)

	if err := json.Unmarshal(modelsJSON, &r.Models); err != nil {
		return nil, eris.Wrap(err, "unmarshal models")
	}
	return &r, nil
}
