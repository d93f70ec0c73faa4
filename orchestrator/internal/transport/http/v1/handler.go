// Package v1 provides the public audit API of the orchestrator.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/auditflow/orchestrator/internal/repository"
	"github.com/xiaot623/auditflow/orchestrator/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers external routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/audits", h.SubmitAudit)
	g.GET("/audits/:job_id", h.GetAudit)
	g.GET("/audits/:job_id/checkpoints", h.ListCheckpoints)
	g.POST("/audits/:job_id/cancel", h.CancelAudit)

	g.GET("/auditors", h.ListAuditors)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"version":      "0.1.0",
		"running_jobs": h.service.RunningJobs(),
	})
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// serviceError maps service and store errors to status codes.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidCategory), errors.Is(err, service.ErrEmptyInput):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrBlockedByPolicy):
		return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		return errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, service.ErrJobFinished):
		return errorJSON(c, http.StatusConflict, err.Error())
	default:
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
