package service

import (
	"context"
	"sync"
	"time"

	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/orchestrator/internal/adapter/llm"
	"github.com/xiaot623/auditflow/orchestrator/internal/config"
	"github.com/xiaot623/auditflow/orchestrator/internal/policy"
	"github.com/xiaot623/auditflow/orchestrator/internal/pricing"
	"github.com/xiaot623/auditflow/orchestrator/internal/queue"
	"github.com/xiaot623/auditflow/orchestrator/internal/repository"
)

type Service struct {
	store        store.Store
	executor     llm.Executor
	bus          eventbus.Bus
	queue        queue.Queue
	config       *config.Config
	policyEngine *policy.Engine
	rates        pricing.Rates

	mu      sync.Mutex
	running map[string]context.CancelFunc
	now     func() time.Time
}

func New(store store.Store, executor llm.Executor, bus eventbus.Bus, jobQueue queue.Queue, cfg *config.Config, policyEngine *policy.Engine) *Service {
	return &Service{
		store:        store,
		executor:     executor,
		bus:          bus,
		queue:        jobQueue,
		config:       cfg,
		policyEngine: policyEngine,
		rates:        cfg.Rates(),
		running:      make(map[string]context.CancelFunc),
		now:          time.Now,
	}
}

// track registers a cancel func for a job driven by this process. It reports
// false when the job is already running here.
func (s *Service) track(jobID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[jobID]; ok {
		return false
	}
	s.running[jobID] = cancel
	return true
}

func (s *Service) untrack(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

func (s *Service) isRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	return ok
}

// RunningJobs returns the number of jobs driven by this process.
func (s *Service) RunningJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
