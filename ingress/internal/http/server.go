// Package http provides the HTTP server for ingress: the websocket endpoint,
// health and metrics.
package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiaot623/auditflow/ingress/internal/hub"
	"github.com/xiaot623/auditflow/ingress/internal/ws"
	"github.com/xiaot623/auditflow/internal/log"
)

// Server is the HTTP server for ingress.
type Server struct {
	echo *echo.Echo
	hub  *hub.Hub
}

// NewServer creates the ingress HTTP server.
func NewServer(h *hub.Hub, wsServer *ws.Server) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(log.EchoLogger(zap.L(), "http"))
	e.Use(middleware.Recover())

	s := &Server{
		echo: e,
		hub:  h,
	}

	// Register routes
	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server. Upgraded connections are not
// tracked by the server; close the hub for those.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": s.hub.ConnectionCount(),
		"jobs":        s.hub.JobCount(),
		"listening":   s.hub.ListenerRunning(),
	})
}
