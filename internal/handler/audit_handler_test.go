package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
)

type auditServiceMock struct {
	from, to *time.Time
	format   string
}

func (m *auditServiceMock) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	return nil, 0, nil
}

func (m *auditServiceMock) ForEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]models.AuditLog, int, error) {
	return nil, 0, nil
}

func (m *auditServiceMock) Export(ctx context.Context, from, to *time.Time, format string) ([]byte, string, string, error) {
	m.from, m.to, m.format = from, to, format
	return []byte("Timestamp,User\n"), "text/csv", "audit_logs.csv", nil
}

func TestAuditHandlerExport(t *testing.T) {
	svc := &auditServiceMock{}
	handler := NewAuditHandler(svc)

	c, w := newGinContext(http.MethodGet, "/audit/export?from=2026-03-01T00:00:00Z", nil)
	handler.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", svc.format)
	require.NotNil(t, svc.from)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.from.UTC())
	assert.Nil(t, svc.to)
	assert.Equal(t, `attachment; filename="audit_logs.csv"`, w.Header().Get("Content-Disposition"))
}

func TestAuditHandlerExportRejectsBadTimestamp(t *testing.T) {
	handler := NewAuditHandler(&auditServiceMock{})

	c, w := newGinContext(http.MethodGet, "/audit/export?to=yesterday", nil)
	handler.Export(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
