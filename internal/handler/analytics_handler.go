package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type statisticsService interface {
	SubjectStatistics(ctx context.Context, subjectID string, viewer models.Viewer) (*models.SubjectStatistics, bool, error)
	Export(ctx context.Context, subjectID, format string, viewer models.Viewer) ([]byte, string, string, error)
}

type systemSnapshotter interface {
	Snapshot() models.SystemMetrics
}

// AnalyticsHandler exposes class statistics and marks sheet exports.
type AnalyticsHandler struct {
	stats   statisticsService
	metrics systemSnapshotter
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(stats statisticsService, metrics systemSnapshotter) *AnalyticsHandler {
	return &AnalyticsHandler{stats: stats, metrics: metrics}
}

// Statistics godoc
// @Summary Class statistics of a subject
// @Description Average, highest, lowest, pass percentage and grade distribution over non-draft records
// @Tags Analytics
// @Produce json
// @Param subjectId path string true "Subject (scheme) ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/subjects/{subjectId}/statistics [get]
func (h *AnalyticsHandler) Statistics(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	stats, cacheHit, err := h.stats.SubjectStatistics(c.Request.Context(), c.Param("subjectId"), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ResponseMeta(c))
}

// Export godoc
// @Summary Export marks sheet
// @Tags Analytics
// @Produce text/csv
// @Produce application/pdf
// @Param subjectId path string true "Subject (scheme) ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/subjects/{subjectId}/export [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	if h.stats == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	viewer, err := viewerFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, contentType, filename, err := h.stats.Export(c.Request.Context(), c.Param("subjectId"), c.DefaultQuery("format", "csv"), viewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, filename, contentType, payload)
}

// System godoc
// @Summary System metrics snapshot
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /analytics/system [get]
func (h *AnalyticsHandler) System(c *gin.Context) {
	if h.metrics == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
