package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

// SubmitAudit accepts an audit and queues it.
// POST /v1/audits
func (h *Handler) SubmitAudit(c echo.Context) error {
	var req domain.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Category == "" {
		return errorJSON(c, http.StatusBadRequest, "category is required")
	}

	job, err := h.service.SubmitJob(c.Request().Context(), req)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusAccepted, job)
}

// GetAudit returns a job, with findings once it succeeded.
// GET /v1/audits/:job_id
func (h *Handler) GetAudit(c echo.Context) error {
	resp, err := h.service.GetJob(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListCheckpoints is the polling fallback for clients that missed live events.
// GET /v1/audits/:job_id/checkpoints
func (h *Handler) ListCheckpoints(c echo.Context) error {
	resp, err := h.service.ListCheckpoints(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelAudit aborts an unfinished job.
// POST /v1/audits/:job_id/cancel
func (h *Handler) CancelAudit(c echo.Context) error {
	jobID := c.Param("job_id")
	status, err := h.service.CancelJob(c.Request().Context(), jobID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusAccepted, domain.CancelResponse{JobID: jobID, Status: status})
}
