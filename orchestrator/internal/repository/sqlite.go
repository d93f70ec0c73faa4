package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := seedAuditors(context.Background(), store); err != nil {
		// Don't fail startup for this
		zap.S().Named("store").Warnw("failed to seed auditors", "error", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT NOT NULL,
			processing_time REAL NOT NULL DEFAULT 0,
			introduction TEXT,
			scope TEXT,
			conclusion TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			credits INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			job_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			processing_time REAL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (job_id, tag),
			FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			level TEXT NOT NULL,
			name TEXT NOT NULL,
			explanation TEXT NOT NULL,
			recommendation TEXT NOT NULL,
			reference TEXT NOT NULL,
			FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_job ON findings(job_id)`,
		`CREATE TABLE IF NOT EXISTS auditors (
			category TEXT NOT NULL,
			tag TEXT NOT NULL,
			instruction TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (category, tag)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job. Returns ErrAlreadyExists on a duplicate id.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, category, status, input, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Category, job.Status, job.Input, job.CreatedAt, job.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("job %s: %w", job.JobID, ErrAlreadyExists)
	}
	return err
}

const sqliteJobColumns = `job_id, category, status, input, processing_time, introduction, scope, conclusion,
	input_tokens, output_tokens, credits, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var intro, scope, conclusion, errText sql.NullString
	if err := row.Scan(&job.JobID, &job.Category, &job.Status, &job.Input, &job.ProcessingTime,
		&intro, &scope, &conclusion, &job.InputTokens, &job.OutputTokens, &job.Credits, &errText,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Introduction = intro.String
	job.Scope = scope.String
	job.Conclusion = conclusion.String
	job.Error = errText.String
	return &job, nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) MarkJobProcessing(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ? AND status IN (?, ?)`,
		domain.StatusProcessing, time.Now().UTC(), jobID, domain.StatusWaiting, domain.StatusProcessing)
	if err != nil {
		return false, err
	}
	return s.affectedOrMissing(ctx, res, jobID)
}

// affectedOrMissing distinguishes "guard rejected the update" from "no such job".
func (s *SQLiteStore) affectedOrMissing(ctx context.Context, res sql.Result, jobID string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
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

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, outcome domain.JobOutcome) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var intro, scope, conclusion sql.NullString
	if outcome.Result != nil {
		intro = sql.NullString{String: outcome.Result.Introduction, Valid: true}
		scope = sql.NullString{String: outcome.Result.Scope, Valid: true}
		conclusion = sql.NullString{String: outcome.Result.Conclusion, Valid: true}
	}
	var errText sql.NullString
	if outcome.Error != "" {
		errText = sql.NullString{String: outcome.Error, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, processing_time = ?, input_tokens = ?, output_tokens = ?, credits = ?,
			error = ?, introduction = ?, scope = ?, conclusion = ?, updated_at = ?
		WHERE job_id = ? AND status NOT IN (?, ?)`,
		outcome.Status, outcome.ProcessingTime, outcome.InputTokens, outcome.OutputTokens, outcome.Credits,
		errText, intro, scope, conclusion, time.Now().UTC(),
		jobID, domain.StatusSuccess, domain.StatusFailed)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		tx.Rollback()
		return s.affectedOrMissing(ctx, res, jobID)
	}

	for _, f := range outcome.Findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO findings (job_id, level, name, explanation, recommendation, reference) VALUES (?, ?, ?, ?, ?, ?)`,
			jobID, f.Level, f.Name, f.Explanation, f.Recommendation, f.Reference); err != nil {
			return false, fmt.Errorf("failed to insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, statuses []domain.JobStatus, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	for i := range statuses {
		placeholders[i] = "?"
	}
	args := statusStrings(statuses)
	args = append(args, updatedBefore.UTC())

	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE status IN (` + strings.Join(placeholders, ",") + `)
		AND updated_at < ? ORDER BY updated_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) UpsertCheckpoint(ctx context.Context, jobID, tag string, status domain.JobStatus, result *string, elapsed *float64) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (job_id, tag, status, result, processing_time, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, tag) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			processing_time = excluded.processing_time,
			updated_at = excluded.updated_at`,
		jobID, tag, status, result, elapsed, now); err != nil {
		return fmt.Errorf("failed to upsert checkpoint %s/%s: %w", jobID, tag, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE job_id = ?`, now, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, jobID string) ([]domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, tag, status, result, processing_time, updated_at FROM checkpoints WHERE job_id = ? ORDER BY tag ASC`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []domain.Checkpoint
	for rows.Next() {
		var cp domain.Checkpoint
		var result sql.NullString
		var elapsed sql.NullFloat64
		if err := rows.Scan(&cp.JobID, &cp.Tag, &cp.Status, &result, &elapsed, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		if result.Valid {
			cp.Result = &result.String
		}
		if elapsed.Valid {
			cp.ProcessingTime = &elapsed.Float64
		}
		checkpoints = append(checkpoints, cp)
	}
	return checkpoints, rows.Err()
}

func (s *SQLiteStore) ListFindings(ctx context.Context, jobID string) ([]domain.Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, level, name, explanation, recommendation, reference FROM findings WHERE job_id = ? ORDER BY id ASC`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []domain.Finding
	for rows.Next() {
		var f domain.Finding
		if err := rows.Scan(&f.ID, &f.JobID, &f.Level, &f.Name, &f.Explanation, &f.Recommendation, &f.Reference); err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// ListAuditors returns every definition of category, active or not.
// An empty category lists all of them.
func (s *SQLiteStore) ListAuditors(ctx context.Context, category domain.Category) ([]domain.Auditor, error) {
	query := `SELECT category, tag, instruction, active FROM auditors`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auditors []domain.Auditor
	for rows.Next() {
		var a domain.Auditor
		if err := rows.Scan(&a.Category, &a.Tag, &a.Instruction, &a.Active); err != nil {
			return nil, err
		}
		auditors = append(auditors, a)
	}
	return auditors, rows.Err()
}

func (s *SQLiteStore) UpsertAuditor(ctx context.Context, auditor *domain.Auditor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auditors (category, tag, instruction, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(category, tag) DO UPDATE SET instruction = excluded.instruction, active = excluded.active`,
		auditor.Category, auditor.Tag, auditor.Instruction, auditor.Active)
	return err
}
