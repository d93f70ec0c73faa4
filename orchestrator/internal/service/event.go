package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

// publish emits a progress event. Failures are logged, never returned:
// progress delivery is best-effort.
func (s *Service) publish(ctx context.Context, jobID, name string, status eventbus.Status) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), eventbus.NewEvalEvent(jobID, name, status)); err != nil {
		zap.S().Named("pipeline").Warnw("failed to publish progress event",
			"job_id", jobID, "name", name, "status", status, "error", err)
	}
}

// checkpoint writes a step status. Writes outlive the job context so a
// cancelled step still records its terminal state.
func (s *Service) checkpoint(ctx context.Context, jobID, tag string, status domain.JobStatus, result *string, elapsed *float64) {
	if err := s.store.UpsertCheckpoint(context.WithoutCancel(ctx), jobID, tag, status, result, elapsed); err != nil {
		zap.S().Named("pipeline").Errorw("failed to write checkpoint",
			"job_id", jobID, "tag", tag, "status", status, "error", err)
	}
}
