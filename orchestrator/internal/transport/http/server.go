// Package http provides the HTTP server implementation for the orchestrator.
package http

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/internal/log"
	"github.com/xiaot623/auditflow/orchestrator/internal/config"
	"github.com/xiaot623/auditflow/orchestrator/internal/service"
	"github.com/xiaot623/auditflow/orchestrator/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/auditflow/orchestrator/internal/transport/http/v1"
)

// APIKeyHeader carries the shared key on /v1 routes.
const APIKeyHeader = "X-API-Key"

// NewExternalServer creates the public server: the audit API, health and metrics.
func NewExternalServer(svc *service.Service, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(log.EchoLogger(zap.L(), "http"))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1Handler := v1.NewHandler(svc)

	e.GET("/health", v1Handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group("/v1")
	if key := cfg.Service.APIKey; key != "" {
		g.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:" + APIKeyHeader,
			Validator: func(got string, _ echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1, nil
			},
		}))
	}
	v1Handler.RegisterRoutes(g)

	return e
}

// NewInternalServer creates the operator server.
func NewInternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(log.EchoLogger(zap.L(), "http-internal"))
	e.Use(middleware.Recover())

	internalHandler := internalapi.NewHandler(svc)
	internalHandler.RegisterRoutes(e)

	return e
}
