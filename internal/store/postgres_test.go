package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/stance-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "stance", "ensemble", "running",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "stance", RunModeEnsemble, testModels)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "task", "mode", "status", "models", "created_at", "updated_at"}).
		AddRow("run-1", "stance", "annotate", "complete",
			[]byte(`[{"model":"llama3","provider":"ollama"}]`), now, now)
	mock.ExpectQuery(`SELECT id, task, mode, status, models, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, run.Status)
	assert.Equal(t, []model.ModelConfig{{Model: "llama3", Provider: "ollama"}}, run.Models)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", RunStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	label := "Centrist"
	conf := 0.7
	rec := model.AnnotationRecord{
		Label:      &label,
		Rationale:  "status quo",
		Confidence: &conf,
		SourceText: "Keep current policy",
		ModelID:    "ollama/llama3",
		Timestamp:  time.Now().UTC(),
		Success:    true,
	}

	mock.ExpectExec(`INSERT INTO records`).
		WithArgs(pgxmock.AnyArg(), "run-1", &label, "status quo", &conf,
			"Keep current policy", "ollama/llama3", true, "", rec.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendRecord(context.Background(), "run-1", rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestFingerprint_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT fingerprint, computed_at FROM fingerprints`).
		WithArgs("ollama/llama3").
		WillReturnError(pgx.ErrNoRows)

	fp, _, ok, err := s.LatestFingerprint(context.Background(), "ollama/llama3")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestFingerprint_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"fingerprint", "computed_at"}).AddRow("cafe01", at)
	mock.ExpectQuery(`SELECT fingerprint, computed_at FROM fingerprints`).
		WithArgs("ollama/llama3").
		WillReturnRows(rows)

	fp, got, ok, err := s.LatestFingerprint(context.Background(), "ollama/llama3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cafe01", fp)
	assert.Equal(t, at, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
