package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
	"github.com/xiaot623/auditflow/orchestrator/internal/policy"
)

// SubmitJob validates and admits an audit, stores it WAITING and enqueues it.
func (s *Service) SubmitJob(ctx context.Context, req domain.SubmitRequest) (*domain.Job, error) {
	if !req.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, req.Category)
	}
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrEmptyInput
	}

	if s.policyEngine != nil {
		candidates, _, err := s.loadAuditors(ctx, req.Category)
		if err != nil && !errors.Is(err, ErrNoReviewer) {
			return nil, err
		}
		decision, err := s.policyEngine.Evaluate(ctx, policy.Input{
			Category:     string(req.Category),
			InputBytes:   len(req.Input),
			AuditorCount: len(candidates),
		})
		if err != nil {
			return nil, err
		}
		if !decision.Allowed() {
			return nil, fmt.Errorf("%w: %s", ErrBlockedByPolicy, strings.Join(decision.Reasons, "; "))
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	job := &domain.Job{
		JobID:    jobID,
		Category: req.Category,
		Status:   domain.StatusWaiting,
		Input:    req.Input,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, jobID); err != nil {
		// The job stays WAITING; the recovery sweep enqueues it again.
		zap.S().Named("service").Errorw("failed to enqueue job", "job_id", jobID, "error", err)
	}
	zap.S().Named("service").Infow("job submitted", "job_id", jobID, "category", req.Category, "input_bytes", len(req.Input))
	return job, nil
}

// CancelJob aborts a job. A job running in this process is cancelled through
// its context and ends FAILED once its in-flight calls return; any other
// unfinished job is marked FAILED directly.
func (s *Service) CancelJob(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return "", ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return job.Status, ErrJobFinished
	}

	s.mu.Lock()
	cancel, running := s.running[jobID]
	s.mu.Unlock()
	if running {
		cancel()
		zap.S().Named("service").Infow("cancelled running job", "job_id", jobID)
		return domain.StatusProcessing, nil
	}

	ok, err := s.store.FinishJob(ctx, jobID, domain.JobOutcome{
		Status: domain.StatusFailed,
		Error:  context.Canceled.Error(),
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrJobFinished
	}
	zap.S().Named("service").Infow("cancelled queued job", "job_id", jobID)
	return domain.StatusFailed, nil
}

// GetJob returns a job and, once it succeeded, its findings.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.JobResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	resp := &domain.JobResponse{Job: job}
	if job.Status == domain.StatusSuccess {
		if resp.Findings, err = s.store.ListFindings(ctx, jobID); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// ListCheckpoints is the polling view of a job's progress.
func (s *Service) ListCheckpoints(ctx context.Context, jobID string) (*domain.CheckpointsResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	checkpoints, err := s.store.ListCheckpoints(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if checkpoints == nil {
		checkpoints = []domain.Checkpoint{}
	}
	return &domain.CheckpointsResponse{JobID: jobID, Status: job.Status, Checkpoints: checkpoints}, nil
}

func (s *Service) ListFindings(ctx context.Context, jobID string) ([]domain.Finding, error) {
	return s.store.ListFindings(ctx, jobID)
}

// ListAuditors lists definitions of category, or of every category when empty.
func (s *Service) ListAuditors(ctx context.Context, category domain.Category) ([]domain.Auditor, error) {
	if category != "" && !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	auditors, err := s.store.ListAuditors(ctx, category)
	if err != nil {
		return nil, err
	}
	if auditors == nil {
		auditors = []domain.Auditor{}
	}
	return auditors, nil
}

// UpsertAuditor creates or replaces an auditor definition. The change
// applies to jobs started afterwards.
func (s *Service) UpsertAuditor(ctx context.Context, auditor *domain.Auditor) error {
	if !auditor.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, auditor.Category)
	}
	if auditor.Tag == "" {
		return ErrEmptyTag
	}
	if auditor.Active && strings.TrimSpace(auditor.Instruction) == "" {
		return ErrEmptyInstruction
	}
	return s.store.UpsertAuditor(ctx, auditor)
}
