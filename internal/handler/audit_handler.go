package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type auditService interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
	ForEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]models.AuditLog, int, error)
	Export(ctx context.Context, from, to *time.Time, format string) ([]byte, string, string, error)
}

// AuditHandler exposes the audit trail.
type AuditHandler struct {
	audit auditService
}

// NewAuditHandler constructs handler.
func NewAuditHandler(audit auditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List godoc
// @Summary List audit logs
// @Tags Audit
// @Produce json
// @Param user_id query string false "Actor"
// @Param action query string false "Action"
// @Param entity_type query string false "Entity type"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	page, size, err := pageParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.AuditFilter{
		UserID:     c.Query("user_id"),
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		Page:       page,
		PageSize:   size,
	}
	if filter.From, err = queryTime(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		response.Error(c, err)
		return
	}
	logs, total, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, &response.Pagination{Page: page, PageSize: size, TotalCount: total})
}

// ForEntity godoc
// @Summary Audit history of one entity
// @Tags Audit
// @Produce json
// @Param entityType path string true "Entity type"
// @Param entityId path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /audit/{entityType}/{entityId} [get]
func (h *AuditHandler) ForEntity(c *gin.Context) {
	page, size, err := pageParams(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	logs, total, err := h.audit.ForEntity(c.Request.Context(), c.Param("entityType"), c.Param("entityId"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, &response.Pagination{Page: page, PageSize: size, TotalCount: total})
}

// Export godoc
// @Summary Export audit logs
// @Description The 100 most recent entries inside the optional window
// @Tags Audit
// @Produce text/csv
// @Produce application/pdf
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	from, err := queryTime(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := queryTime(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, contentType, filename, err := h.audit.Export(c.Request.Context(), from, to, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, filename, contentType, payload)
}

func pageParams(c *gin.Context) (int, int, error) {
	page, err := queryInt(c, "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := queryInt(c, "page_size")
	if err != nil {
		return 0, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size, nil
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp")
	}
	return &ts, nil
}
