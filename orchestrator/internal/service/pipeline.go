package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/orchestrator/internal/adapter/llm"
	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
	"github.com/xiaot623/auditflow/orchestrator/internal/metrics"
	"github.com/xiaot623/auditflow/orchestrator/internal/pricing"
)

const auditReportSchemaName = "audit_report"

// CandidateOutcome is the result of one candidate unit of work. A failed
// candidate is recorded here instead of being returned as an error.
type CandidateOutcome struct {
	Tag     string
	Status  domain.JobStatus
	Result  string
	Elapsed time.Duration
	// Reused is set when the result came from an earlier run's checkpoint.
	Reused bool
	Err    error
}

func (o CandidateOutcome) Succeeded() bool {
	return o.Status == domain.StatusSuccess
}

// Aggregate concatenates successful candidate results in order, each
// labelled with its position among the successes.
func Aggregate(outcomes []CandidateOutcome) string {
	var b strings.Builder
	n := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Auditor #%d Findings:\n%s", n, o.Result)
	}
	return b.String()
}

// RunQueuedJob runs a job picked from the queue. Finished jobs and jobs
// already running in this process are skipped.
func (s *Service) RunQueuedJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		zap.S().Named("pipeline").Debugw("skipping finished job", "job_id", jobID, "status", job.Status)
		return nil
	}

	_, err = s.RunJob(ctx, job.JobID, job.Category, job.Input)
	if errors.Is(err, ErrJobRunning) || errors.Is(err, ErrJobFinished) {
		return nil
	}
	return err
}

// RunJob drives one job through candidate fan-out, the join, reviewer
// synthesis and persistence of the result. Candidate failures are tolerated;
// a reviewer failure fails the job and is returned as *SynthesisError.
func (s *Service) RunJob(ctx context.Context, jobID string, category domain.Category, input string) (domain.JobStatus, error) {
	logger := zap.S().Named("pipeline").With("job_id", jobID, "category", category)

	if err := s.ensureJob(ctx, jobID, category, input); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.track(jobID, cancel) {
		return "", ErrJobRunning
	}
	defer s.untrack(jobID)

	ok, err := s.store.MarkJobProcessing(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to mark job processing: %w", err)
	}
	if !ok {
		return "", ErrJobFinished
	}

	metrics.JobStarted()
	defer metrics.JobStopped()

	started := s.now()
	meter := &pricing.Meter{}
	logger.Info("job started")

	candidates, reviewer, err := s.loadAuditors(ctx, category)
	if err != nil {
		return s.fail(ctx, jobID, started, meter, err)
	}

	reused, err := s.reusableCheckpoints(ctx, jobID)
	if err != nil {
		logger.Warnw("failed to load previous checkpoints, running every candidate", "error", err)
	}

	outcomes := s.runCandidates(ctx, jobID, candidates, input, meter, reused)
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	logger.Infow("candidates joined", "total", len(outcomes), "succeeded", succeeded)

	if err := ctx.Err(); err != nil {
		return s.fail(ctx, jobID, started, meter, err)
	}

	result, err := s.runSynthesis(ctx, jobID, reviewer, Aggregate(outcomes), meter)
	if err != nil {
		return s.fail(ctx, jobID, started, meter, err)
	}

	usage := meter.Total()
	finished, err := s.store.FinishJob(context.WithoutCancel(ctx), jobID, domain.JobOutcome{
		Status:         domain.StatusSuccess,
		ProcessingTime: s.now().Sub(started).Seconds(),
		InputTokens:    usage.Input,
		OutputTokens:   usage.Output,
		Credits:        s.rates.Credits(usage),
		Result:         result,
		Findings:       result.Flatten(jobID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist audit result: %w", err)
	}
	if !finished {
		return "", ErrJobFinished
	}

	metrics.IncreaseJobsTotalMetric(string(domain.StatusSuccess))
	logger.Infow("job succeeded", "elapsed", s.now().Sub(started), "input_tokens", usage.Input, "output_tokens", usage.Output)
	return domain.StatusSuccess, nil
}

// ensureJob creates the job record for callers that run a job without submitting it.
func (s *Service) ensureJob(ctx context.Context, jobID string, category domain.Category, input string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job != nil {
		if job.Status.IsTerminal() {
			return ErrJobFinished
		}
		return nil
	}
	return s.store.CreateJob(ctx, &domain.Job{
		JobID:    jobID,
		Category: category,
		Status:   domain.StatusWaiting,
		Input:    input,
	})
}

// loadAuditors splits the active definitions of category into candidates and the reviewer.
func (s *Service) loadAuditors(ctx context.Context, category domain.Category) ([]domain.Auditor, *domain.Auditor, error) {
	auditors, err := s.store.ListAuditors(ctx, category)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load auditors: %w", err)
	}
	var candidates []domain.Auditor
	var reviewer *domain.Auditor
	for i := range auditors {
		a := auditors[i]
		if !a.Active {
			continue
		}
		if a.Tag == domain.ReviewerTag {
			reviewer = &a
			continue
		}
		candidates = append(candidates, a)
	}
	if reviewer == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoReviewer, category)
	}
	return candidates, reviewer, nil
}

func (s *Service) reusableCheckpoints(ctx context.Context, jobID string) (map[string]domain.Checkpoint, error) {
	checkpoints, err := s.store.ListCheckpoints(ctx, jobID)
	if err != nil {
		return nil, err
	}
	reused := make(map[string]domain.Checkpoint)
	for _, cp := range checkpoints {
		if cp.Tag != domain.ReviewerTag && cp.Status == domain.StatusSuccess && cp.Result != nil {
			reused[cp.Tag] = cp
		}
	}
	return reused, nil
}

// runCandidates runs every candidate concurrently and returns once all of
// them reached a terminal checkpoint. Outcomes keep the order of candidates.
func (s *Service) runCandidates(ctx context.Context, jobID string, candidates []domain.Auditor, input string, meter *pricing.Meter, reused map[string]domain.Checkpoint) []CandidateOutcome {
	outcomes := make([]CandidateOutcome, len(candidates))
	var g errgroup.Group
	for i, auditor := range candidates {
		if cp, ok := reused[auditor.Tag]; ok {
			outcomes[i] = reusedOutcome(cp)
			s.publish(ctx, jobID, auditor.Tag, eventbus.StatusStart)
			s.publish(ctx, jobID, auditor.Tag, eventbus.StatusDone)
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.runCandidate(ctx, jobID, auditor, input, meter)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func reusedOutcome(cp domain.Checkpoint) CandidateOutcome {
	o := CandidateOutcome{Tag: cp.Tag, Status: domain.StatusSuccess, Result: *cp.Result, Reused: true}
	if cp.ProcessingTime != nil {
		o.Elapsed = time.Duration(*cp.ProcessingTime * float64(time.Second))
	}
	return o
}

func (s *Service) runCandidate(ctx context.Context, jobID string, auditor domain.Auditor, input string, meter *pricing.Meter) CandidateOutcome {
	s.publish(ctx, jobID, auditor.Tag, eventbus.StatusStart)
	s.checkpoint(ctx, jobID, auditor.Tag, domain.StatusProcessing, nil, nil)

	started := s.now()
	completion, err := s.executor.Execute(ctx, auditor.Instruction, input)
	elapsed := s.now().Sub(started)
	seconds := elapsed.Seconds()

	if err != nil {
		zap.S().Named("pipeline").Warnw("candidate failed",
			"job_id", jobID, "tag", auditor.Tag, "elapsed", elapsed, "error", err)
		s.checkpoint(ctx, jobID, auditor.Tag, domain.StatusFailed, nil, &seconds)
		s.publish(ctx, jobID, auditor.Tag, eventbus.StatusError)
		metrics.ObserveStep(metrics.StepKindCandidate, string(domain.StatusFailed), seconds)
		return CandidateOutcome{Tag: auditor.Tag, Status: domain.StatusFailed, Elapsed: elapsed, Err: err}
	}

	meter.Add(completion.Usage.InputTokens, completion.Usage.OutputTokens)
	metrics.AddTokens(completion.Usage.InputTokens, completion.Usage.OutputTokens)
	s.checkpoint(ctx, jobID, auditor.Tag, domain.StatusSuccess, &completion.Text, &seconds)
	s.publish(ctx, jobID, auditor.Tag, eventbus.StatusDone)
	metrics.ObserveStep(metrics.StepKindCandidate, string(domain.StatusSuccess), seconds)

	return CandidateOutcome{Tag: auditor.Tag, Status: domain.StatusSuccess, Result: completion.Text, Elapsed: elapsed}
}

func (s *Service) runSynthesis(ctx context.Context, jobID string, reviewer *domain.Auditor, aggregate string, meter *pricing.Meter) (*domain.AuditResult, error) {
	s.checkpoint(ctx, jobID, reviewer.Tag, domain.StatusProcessing, nil, nil)
	s.publish(ctx, jobID, reviewer.Tag, eventbus.StatusStart)

	started := s.now()
	raw, usage, err := s.executor.ExecuteStructured(ctx, reviewer.Instruction, aggregate, llm.Schema{
		Name:       auditReportSchemaName,
		Definition: domain.AuditResultSchema,
	})
	seconds := s.now().Sub(started).Seconds()
	meter.Add(usage.InputTokens, usage.OutputTokens)
	metrics.AddTokens(usage.InputTokens, usage.OutputTokens)

	var result *domain.AuditResult
	if err == nil {
		result, err = domain.ParseAuditResult(raw)
	}
	if err != nil {
		s.checkpoint(ctx, jobID, reviewer.Tag, domain.StatusFailed, nil, &seconds)
		s.publish(ctx, jobID, reviewer.Tag, eventbus.StatusError)
		metrics.ObserveStep(metrics.StepKindReviewer, string(domain.StatusFailed), seconds)
		return nil, &SynthesisError{JobID: jobID, Err: err}
	}

	text := string(raw)
	s.checkpoint(ctx, jobID, reviewer.Tag, domain.StatusSuccess, &text, &seconds)
	s.publish(ctx, jobID, reviewer.Tag, eventbus.StatusDone)
	metrics.ObserveStep(metrics.StepKindReviewer, string(domain.StatusSuccess), seconds)
	return result, nil
}

// fail marks the job FAILED with the elapsed time and usage so far. Credits
// are only charged for successful jobs.
func (s *Service) fail(ctx context.Context, jobID string, started time.Time, meter *pricing.Meter, cause error) (domain.JobStatus, error) {
	usage := meter.Total()
	_, err := s.store.FinishJob(context.WithoutCancel(ctx), jobID, domain.JobOutcome{
		Status:         domain.StatusFailed,
		ProcessingTime: s.now().Sub(started).Seconds(),
		InputTokens:    usage.Input,
		OutputTokens:   usage.Output,
		Error:          cause.Error(),
	})
	if err != nil {
		zap.S().Named("pipeline").Errorw("failed to mark job failed", "job_id", jobID, "error", err)
	}
	metrics.IncreaseJobsTotalMetric(string(domain.StatusFailed))
	zap.S().Named("pipeline").Warnw("job failed", "job_id", jobID, "error", cause)
	return domain.StatusFailed, cause
}
