package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type statisticsServiceMock struct {
	hit    bool
	format string
	viewer models.Viewer
}

func (m *statisticsServiceMock) SubjectStatistics(ctx context.Context, subjectID string, viewer models.Viewer) (*models.SubjectStatistics, bool, error) {
	m.viewer = viewer
	if viewer.Role == models.RoleHOD && viewer.Department != "CSE" {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "subject belongs to another department")
	}
	return &models.SubjectStatistics{SubjectID: subjectID, Statistics: models.ClassStatistics{TotalStudents: 2}}, m.hit, nil
}

func (m *statisticsServiceMock) Export(ctx context.Context, subjectID, format string, viewer models.Viewer) ([]byte, string, string, error) {
	m.format = format
	m.viewer = viewer
	if format == "xlsx" {
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	return []byte("Enrollment,Student\n"), "text/csv", "cs301_marks.csv", nil
}

type snapshotStub struct{}

func (snapshotStub) Snapshot() models.SystemMetrics {
	return models.SystemMetrics{CacheHits: 3, CacheMisses: 1, CacheHitRatio: 0.75}
}

func TestAnalyticsHandlerStatisticsReportsCacheHit(t *testing.T) {
	handler := NewAnalyticsHandler(&statisticsServiceMock{hit: true}, nil)

	c, w := newGinContext(http.MethodGet, "/analytics/subjects/sub-1/statistics", nil)
	c.Params = append(c.Params, ginParam("subjectId", "sub-1"))
	withClaims(c, "fac-1", models.RoleFaculty)
	middleware.WithResponseMeta()(c)
	handler.Statistics(c)

	require.Equal(t, http.StatusOK, w.Code)
	envelope := decodeEnvelope(t, w)
	assert.Contains(t, string(envelope["meta"]), `"cache_hit":true`)
	assert.Contains(t, string(envelope["meta"]), `"processing_time_ms"`)
	assert.Contains(t, string(envelope["data"]), `"subject_id":"sub-1"`)
}

func TestAnalyticsHandlerExport(t *testing.T) {
	svc := &statisticsServiceMock{}
	handler := NewAnalyticsHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/analytics/subjects/sub-1/export", nil)
	c.Params = append(c.Params, ginParam("subjectId", "sub-1"))
	withClaims(c, "fac-1", models.RoleFaculty)
	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", svc.format)
	assert.Equal(t, "fac-1", svc.viewer.UserID)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="cs301_marks.csv"`, w.Header().Get("Content-Disposition"))

	c, w = newGinContext(http.MethodGet, "/analytics/subjects/sub-1/export?format=xlsx", nil)
	withClaims(c, "fac-1", models.RoleFaculty)
	handler.Export(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsHandlerStatisticsPassesHODDepartment(t *testing.T) {
	svc := &statisticsServiceMock{}
	handler := NewAnalyticsHandler(svc, nil)

	c, w := newGinContext(http.MethodGet, "/analytics/subjects/sub-1/statistics", nil)
	c.Params = append(c.Params, ginParam("subjectId", "sub-1"))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "hod-2", Role: models.RoleHOD, Department: "ECE"})
	handler.Statistics(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ECE", svc.viewer.Department)

	c, w = newGinContext(http.MethodGet, "/analytics/subjects/sub-1/statistics", nil)
	handler.Statistics(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAnalyticsHandlerSystem(t *testing.T) {
	handler := NewAnalyticsHandler(nil, snapshotStub{})

	c, w := newGinContext(http.MethodGet, "/analytics/system", nil)
	handler.System(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cache_hit_ratio":0.75`)
}

func TestMetricsHandlerReady(t *testing.T) {
	healthy := NewMetricsHandler(nil, map[string]Pinger{"postgres": func(context.Context) error { return nil }})
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	degraded := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	degraded.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
