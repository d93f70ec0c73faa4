package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/internal/log"
	"github.com/xiaot623/auditflow/orchestrator/internal/adapter/llm"
	"github.com/xiaot623/auditflow/orchestrator/internal/config"
	"github.com/xiaot623/auditflow/orchestrator/internal/policy"
	"github.com/xiaot623/auditflow/orchestrator/internal/queue"
	"github.com/xiaot623/auditflow/orchestrator/internal/repository"
	"github.com/xiaot623/auditflow/orchestrator/internal/service"
	handler "github.com/xiaot623/auditflow/orchestrator/internal/transport/http"
	"github.com/xiaot623/auditflow/orchestrator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
	defer logger.Sync() //nolint:errcheck
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	if err := run(cfg); err != nil {
		zap.S().Fatalw("orchestrator exited", "error", err)
	}
}

func run(cfg *config.Config) error {
	logger := zap.S().Named("main")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting orchestrator",
		"http_port", cfg.Service.HTTPPort,
		"internal_port", cfg.Service.InternalPort,
		"db_type", cfg.Database.Type,
		"bus_type", cfg.Service.BusType,
		"queue_type", cfg.Worker.QueueType,
	)

	db, err := store.Open(ctx, cfg.Database.Type, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Service.BusType == "redis" || cfg.Worker.QueueType == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	var bus eventbus.Bus
	if cfg.Service.BusType == "redis" {
		bus = eventbus.NewRedisBus(rdb, cfg.Redis.EventChannel)
	} else {
		bus = eventbus.NewMemoryBus()
	}
	defer bus.Close()

	var jobQueue queue.Queue
	if cfg.Worker.QueueType == "redis" {
		jobQueue = queue.NewRedisQueue(rdb, cfg.Worker.QueueName, 5*time.Second)
	} else {
		jobQueue = queue.NewMemoryQueue(1024)
	}

	policyContent := policy.DefaultPolicy
	if cfg.Service.PolicyPath != "" {
		b, err := os.ReadFile(cfg.Service.PolicyPath)
		if err != nil {
			return fmt.Errorf("failed to read policy: %w", err)
		}
		policyContent = string(b)
	}
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	executor := llm.NewExecutor(cfg.LLM.Mode, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	svc := service.New(db, executor, bus, jobQueue, cfg, policyEngine)

	if n, err := svc.RecoverJobs(ctx); err != nil {
		logger.Errorw("startup recovery failed", "error", err)
	} else {
		logger.Infow("startup recovery finished", "requeued", n)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.NewWorker(jobQueue, svc, cfg.Worker.Concurrency).Start(ctx)
	}()
	go func() {
		defer wg.Done()
		svc.RunRecoveryMonitor(ctx)
	}()

	servers := []*echo.Echo{handler.NewExternalServer(svc, cfg)}
	addrs := []string{fmt.Sprintf(":%d", cfg.Service.HTTPPort)}
	if cfg.Service.InternalPort > 0 {
		servers = append(servers, handler.NewInternalServer(svc))
		addrs = append(addrs, fmt.Sprintf(":%d", cfg.Service.InternalPort))
	}

	errCh := make(chan error, len(servers))
	for i, e := range servers {
		go func(e *echo.Echo, addr string) {
			logger.Infow("http server listening", "addr", addr)
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server %s: %w", addr, err)
			}
		}(e, addrs[i])
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down orchestrator")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, e := range servers {
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("failed to shutdown http server gracefully", "error", err)
		}
	}

	// Running jobs see the cancelled context and end FAILED.
	wg.Wait()
	logger.Info("orchestrator stopped")
	return runErr
}
