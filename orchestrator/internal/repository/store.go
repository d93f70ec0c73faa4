package store

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the durable state of the audit pipeline: jobs, their checkpoints
// and findings, and the auditor definitions jobs are run with.
//
// Getters return nil, nil when the record does not exist.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// MarkJobProcessing moves a non-terminal job to PROCESSING. It reports
	// false when the job is already terminal.
	MarkJobProcessing(ctx context.Context, jobID string) (bool, error)
	// FinishJob writes a terminal outcome. Result fields and findings are
	// stored in the same transaction. It reports false when the job was
	// already terminal, in which case nothing is written.
	FinishJob(ctx context.Context, jobID string, outcome domain.JobOutcome) (bool, error)
	// ListJobs returns jobs in one of statuses last updated before the given time.
	ListJobs(ctx context.Context, statuses []domain.JobStatus, updatedBefore time.Time, limit int) ([]domain.Job, error)

	// UpsertCheckpoint creates or overwrites the checkpoint for (jobID, tag)
	// and bumps the job's updated_at.
	UpsertCheckpoint(ctx context.Context, jobID, tag string, status domain.JobStatus, result *string, elapsed *float64) error
	ListCheckpoints(ctx context.Context, jobID string) ([]domain.Checkpoint, error)

	ListFindings(ctx context.Context, jobID string) ([]domain.Finding, error)

	ListAuditors(ctx context.Context, category domain.Category) ([]domain.Auditor, error)
	UpsertAuditor(ctx context.Context, auditor *domain.Auditor) error

	Close() error
}

// Open returns the store for dbType ("sqlite" or "pgsql").
func Open(ctx context.Context, dbType, dsn string) (Store, error) {
	switch dbType {
	case "pgsql", "postgres":
		return NewPostgresStore(ctx, dsn)
	default:
		return NewSQLiteStore(dsn)
	}
}

func statusStrings(statuses []domain.JobStatus) []interface{} {
	out := make([]interface{}, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
