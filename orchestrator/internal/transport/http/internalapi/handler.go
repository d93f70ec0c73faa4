// Package internalapi provides operator-only HTTP handlers for the orchestrator.
// These routes are served on the internal port and never exposed publicly.
package internalapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
	"github.com/xiaot623/auditflow/orchestrator/internal/service"
)

// Handler handles internal HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Auditor definitions
	e.PUT("/internal/auditors/:category/:tag", h.UpsertAuditor)

	// Recovery
	e.POST("/internal/jobs/recover", h.RecoverJobs)
}

type upsertAuditorRequest struct {
	Instruction string `json:"instruction"`
	Active      *bool  `json:"active"`
}

// UpsertAuditor creates or replaces one auditor definition.
// PUT /internal/auditors/:category/:tag
func (h *Handler) UpsertAuditor(c echo.Context) error {
	var req upsertAuditorRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	auditor := &domain.Auditor{
		Category:    domain.Category(c.Param("category")),
		Tag:         c.Param("tag"),
		Instruction: req.Instruction,
		Active:      true,
	}
	if req.Active != nil {
		auditor.Active = *req.Active
	}

	if err := h.service.UpsertAuditor(c.Request().Context(), auditor); err != nil {
		if errors.Is(err, service.ErrInvalidCategory) || errors.Is(err, service.ErrEmptyTag) || errors.Is(err, service.ErrEmptyInstruction) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, auditor)
}

// RecoverJobs re-enqueues every unfinished job not running here.
// POST /internal/jobs/recover
func (h *Handler) RecoverJobs(c echo.Context) error {
	n, err := h.service.RecoverJobs(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"requeued": n})
}
