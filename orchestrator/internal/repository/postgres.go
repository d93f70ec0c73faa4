package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := seedAuditors(ctx, store); err != nil {
		zap.S().Named("store").Warnw("failed to seed auditors", "error", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			introduction TEXT,
			scope TEXT,
			conclusion TEXT,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			credits BIGINT NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			processing_time DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (job_id, tag)
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
			level TEXT NOT NULL,
			name TEXT NOT NULL,
			explanation TEXT NOT NULL,
			recommendation TEXT NOT NULL,
			reference TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_job ON findings(job_id)`,
		`CREATE TABLE IF NOT EXISTS auditors (
			category TEXT NOT NULL,
			tag TEXT NOT NULL,
			instruction TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (category, tag)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (job_id, category, status, input, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.JobID, string(job.Category), string(job.Status), job.Input, job.CreatedAt, job.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("job %s: %w", job.JobID, ErrAlreadyExists)
	}
	return err
}

const pgJobColumns = `job_id, category, status, input, processing_time, COALESCE(introduction, ''), COALESCE(scope, ''),
	COALESCE(conclusion, ''), input_tokens, output_tokens, credits, COALESCE(error, ''), created_at, updated_at`

func scanPgJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var category, status string
	if err := row.Scan(&job.JobID, &category, &status, &job.Input, &job.ProcessingTime,
		&job.Introduction, &job.Scope, &job.Conclusion, &job.InputTokens, &job.OutputTokens, &job.Credits,
		&job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Category = domain.Category(category)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = now() WHERE job_id = $2 AND status IN ($3, $4)`,
		string(domain.StatusProcessing), jobID, string(domain.StatusWaiting), string(domain.StatusProcessing))
	if err != nil {
		return false, err
	}
	return s.affectedOrMissing(ctx, tag, jobID)
}

func (s *PostgresStore) affectedOrMissing(ctx context.Context, tag pgconn.CommandTag, jobID string) (bool, error) {
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return false, nil
}

func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, outcome domain.JobOutcome) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var intro, scope, conclusion, errText *string
	if outcome.Result != nil {
		intro, scope, conclusion = &outcome.Result.Introduction, &outcome.Result.Scope, &outcome.Result.Conclusion
	}
	if outcome.Error != "" {
		errText = &outcome.Error
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, processing_time = $2, input_tokens = $3, output_tokens = $4, credits = $5,
			error = $6, introduction = $7, scope = $8, conclusion = $9, updated_at = now()
		WHERE job_id = $10 AND status NOT IN ($11, $12)`,
		string(outcome.Status), outcome.ProcessingTime, outcome.InputTokens, outcome.OutputTokens, outcome.Credits,
		errText, intro, scope, conclusion,
		jobID, string(domain.StatusSuccess), string(domain.StatusFailed))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return s.affectedOrMissing(ctx, tag, jobID)
	}

	if len(outcome.Findings) > 0 {
		batch := &pgx.Batch{}
		for _, f := range outcome.Findings {
			batch.Queue(
				`INSERT INTO findings (job_id, level, name, explanation, recommendation, reference) VALUES ($1, $2, $3, $4, $5, $6)`,
				jobID, string(f.Level), f.Name, f.Explanation, f.Recommendation, f.Reference)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("failed to insert findings: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, statuses []domain.JobStatus, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE status = ANY($1) AND updated_at < $2 ORDER BY updated_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, names, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpsertCheckpoint(ctx context.Context, jobID, tag string, status domain.JobStatus, result *string, elapsed *float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO checkpoints (job_id, tag, status, result, processing_time, updated_at) VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (job_id, tag) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			processing_time = EXCLUDED.processing_time,
			updated_at = EXCLUDED.updated_at`,
		jobID, tag, string(status), result, elapsed); err != nil {
		return fmt.Errorf("failed to upsert checkpoint %s/%s: %w", jobID, tag, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET updated_at = now() WHERE job_id = $1`, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, jobID string) ([]domain.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, tag, status, result, processing_time, updated_at FROM checkpoints WHERE job_id = $1 ORDER BY tag ASC`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		var status string
		if err := rows.Scan(&cp.JobID, &cp.Tag, &status, &cp.Result, &cp.ProcessingTime, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		cp.Status = domain.JobStatus(status)
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func (s *PostgresStore) ListFindings(ctx context.Context, jobID string) ([]domain.Finding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, level, name, explanation, recommendation, reference FROM findings WHERE job_id = $1 ORDER BY id ASC`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var f domain.Finding
		var level string
		if err := rows.Scan(&f.ID, &f.JobID, &level, &f.Name, &f.Explanation, &f.Recommendation, &f.Reference); err != nil {
			return nil, err
		}
		f.Level = domain.Severity(level)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (s *PostgresStore) ListAuditors(ctx context.Context, category domain.Category) ([]domain.Auditor, error) {
	query := `SELECT category, tag, instruction, active FROM auditors`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, string(category))
	}
	query += ` ORDER BY category ASC, created_at ASC, tag ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auditors []domain.Auditor
	for rows.Next() {
		var a domain.Auditor
		var cat string
		if err := rows.Scan(&cat, &a.Tag, &a.Instruction, &a.Active); err != nil {
			return nil, err
		}
		a.Category = domain.Category(cat)
		auditors = append(auditors, a)
	}
	return auditors, rows.Err()
}

func (s *PostgresStore) UpsertAuditor(ctx context.Context, auditor *domain.Auditor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auditors (category, tag, instruction, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (category, tag) DO UPDATE SET instruction = EXCLUDED.instruction, active = EXCLUDED.active`,
		string(auditor.Category), auditor.Tag, auditor.Instruction, auditor.Active)
	return err
}
