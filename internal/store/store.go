// Package store persists annotation runs, their records, promptbooks,
// and model fingerprints, on SQLite for local use or Postgres for
// shared deployments.
package store

import (
	"context"
	"time"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/internal/replicate"
)

// RunStatus is the lifecycle state of an annotation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunMode distinguishes single-model annotation runs from ensemble runs.
type RunMode string

const (
	RunModeAnnotate RunMode = "annotate"
	RunModeEnsemble RunMode = "ensemble"
)

// Run is one annotation job over a corpus: which models ran, in which
// mode, and where it is in its lifecycle.
type Run struct {
	ID        string              `json:"id"`
	Task      string              `json:"task"`
	Mode      RunMode             `json:"mode"`
	Status    RunStatus           `json:"status"`
	Models    []model.ModelConfig `json:"models"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Task   string    `json:"task,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the annotation pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, task string, mode RunMode, models []model.ModelConfig) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Records
	AppendRecord(ctx context.Context, runID string, rec model.AnnotationRecord) error
	ListRecords(ctx context.Context, runID string) ([]model.AnnotationRecord, error)

	// Promptbooks
	SavePromptbook(ctx context.Context, runID string, pb *replicate.Promptbook) error
	GetPromptbook(ctx context.Context, runID string) (*replicate.Promptbook, error)

	// Fingerprints. LatestFingerprint returns ok=false when the model
	// has no stored fingerprint yet.
	SaveFingerprint(ctx context.Context, modelID, fingerprint string) error
	LatestFingerprint(ctx context.Context, modelID string) (fingerprint string, computedAt time.Time, ok bool, err error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
