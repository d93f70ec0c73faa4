package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/auditflow/orchestrator/internal/domain"
)

// ListAuditors lists auditor definitions.
// GET /v1/auditors?category=gas
func (h *Handler) ListAuditors(c echo.Context) error {
	auditors, err := h.service.ListAuditors(c.Request().Context(), domain.Category(c.QueryParam("category")))
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"auditors": auditors,
	})
}
