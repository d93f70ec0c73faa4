package service

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
	"github.com/xiaot623/auditflow/orchestrator/internal/metrics"
)

const recoveryBatch = 100

var unfinished = []domain.JobStatus{domain.StatusWaiting, domain.StatusProcessing}

// RecoverJobs enqueues every unfinished job not running in this process.
// It is called once when the worker starts; resumed jobs reuse their
// successful candidate checkpoints.
func (s *Service) RecoverJobs(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, unfinished, s.now().Add(time.Second), 0)
	if err != nil {
		return 0, err
	}
	return s.requeue(ctx, jobs, "startup"), nil
}

// RunRecoveryMonitor periodically re-enqueues PROCESSING jobs that made no
// progress for longer than the configured stale period. WAITING jobs are
// already queued and are left alone.
func (s *Service) RunRecoveryMonitor(ctx context.Context) {
	interval := s.config.Worker.RecoveryInterval
	if interval <= 0 {
		return
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStaleJobs(ctx)
		}
	}
}

func (s *Service) sweepStaleJobs(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stale, err := s.store.ListJobs(sweepCtx, []domain.JobStatus{domain.StatusProcessing}, s.now().Add(-s.config.Worker.JobStaleAfter), recoveryBatch)
	if err != nil {
		zap.S().Named("recovery").Warnw("stale job sweep failed", "error", err)
		return
	}
	s.requeue(sweepCtx, stale, "stale")
}

func (s *Service) requeue(ctx context.Context, jobs []domain.Job, reason string) int {
	logger := zap.S().Named("recovery")
	n := 0
	for _, job := range jobs {
		if s.isRunning(job.JobID) {
			continue
		}
		if err := s.queue.Enqueue(ctx, job.JobID); err != nil {
			logger.Warnw("failed to re-enqueue job", "job_id", job.JobID, "error", err)
			continue
		}
		metrics.IncreaseJobsRecoveredMetric(reason)
		logger.Infow("re-enqueued job", "job_id", job.JobID, "status", job.Status, "reason", reason)
		n++
	}
	return n
}
