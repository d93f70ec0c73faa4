package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/ingress/internal/config"
	internalhttp "github.com/xiaot623/auditflow/ingress/internal/http"
	"github.com/xiaot623/auditflow/ingress/internal/hub"
	"github.com/xiaot623/auditflow/ingress/internal/ws"
	"github.com/xiaot623/auditflow/internal/auth"
	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/internal/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.InitLog(log.ParseLevel(cfg.Server.LogLevel))
	defer logger.Sync() //nolint:errcheck
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	if err := run(cfg); err != nil {
		zap.S().Fatalw("ingress exited", "error", err)
	}
}

func run(cfg *config.Config) error {
	logger := zap.S().Named("main")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infow("starting ingress",
		"ws_port", cfg.Server.WSPort,
		"redis", cfg.Redis.Addr,
		"channel", cfg.Redis.EventChannel,
		"heartbeat_interval", cfg.WebSocket.HeartbeatInterval,
		"heartbeat_grace", cfg.WebSocket.HeartbeatGrace,
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	bus := eventbus.NewRedisBus(rdb, cfg.Redis.EventChannel)
	defer bus.Close()

	connectionHub := hub.NewHub(bus)
	verifier := auth.NewVerifier(cfg.Auth.Secret, auth.WithWindow(cfg.Auth.Window))
	wsServer := ws.NewServer(cfg, connectionHub, verifier)
	httpServer := internalhttp.NewServer(connectionHub, wsServer)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.WSPort)
		logger.Infow("http server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down ingress")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("failed to shutdown http server gracefully", "error", err)
	}
	connectionHub.Close()

	logger.Info("ingress stopped")
	return runErr
}
