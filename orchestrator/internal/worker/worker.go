// Package worker runs queued jobs with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/orchestrator/internal/queue"
)

const retryDelay = time.Second

// JobRunner executes one job to completion.
type JobRunner interface {
	RunQueuedJob(ctx context.Context, jobID string) error
}

type Worker struct {
	queue     queue.Queue
	runner    JobRunner
	semaphore chan struct{}
	wg        sync.WaitGroup
}

func NewWorker(q queue.Queue, runner JobRunner, maxConcurrency int) *Worker {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Worker{
		queue:     q,
		runner:    runner,
		semaphore: make(chan struct{}, maxConcurrency),
	}
}

// Start dequeues and runs jobs until ctx is done, then waits for running jobs.
func (w *Worker) Start(ctx context.Context) {
	logger := zap.S().Named("worker")
	logger.Infow("worker started", "concurrency", cap(w.semaphore))
	defer func() {
		w.wg.Wait()
		logger.Info("worker stopped")
	}()

	for {
		// Acquire before dequeuing so a saturated worker leaves jobs on the queue.
		select {
		case w.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}

		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			<-w.semaphore
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			logger.Warnw("failed to dequeue job", "error", err)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		w.wg.Add(1)
		go w.handle(ctx, jobID)
	}
}

func (w *Worker) handle(ctx context.Context, jobID string) {
	defer w.wg.Done()
	defer func() { <-w.semaphore }()

	if err := w.runner.RunQueuedJob(ctx, jobID); err != nil {
		zap.S().Named("worker").Warnw("job finished with error", "job_id", jobID, "error", err)
	}
}
