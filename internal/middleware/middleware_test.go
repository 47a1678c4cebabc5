package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type staticValidator struct {
	claims *models.JWTClaims
}

func (v staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

type auditSink struct {
	mu      sync.Mutex
	entries []service.AuditEntry
}

func (s *auditSink) Record(ctx context.Context, entry service.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

type requestSink struct {
	paths    []string
	statuses []int
}

func (s *requestSink) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	s.paths = append(s.paths, path)
	s.statuses = append(s.statuses, status)
}

func newRouter(claims *models.JWTClaims, audit *auditSink, metrics *requestSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if metrics != nil {
		router.Use(Metrics(metrics))
	}
	protected := router.Group("/", JWT(staticValidator{claims: claims}))
	protected.GET("/schemes/:id/template",
		RequireRoles(models.RoleAdmin, models.RoleHOD, models.RoleFaculty),
		Audit(audit, models.AuditActionDownload, models.AuditEntityScheme, "id"),
		func(c *gin.Context) { c.String(http.StatusOK, "enrollmentNumber") })
	return router
}

func serve(router *gin.Engine, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/schemes/sub-1/template", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	router := newRouter(&models.JWTClaims{UserID: "fac-1", Role: models.RoleFaculty}, &auditSink{}, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "bad").Code)
}

func TestRequireRolesAndAudit(t *testing.T) {
	audit := &auditSink{}
	metrics := &requestSink{}

	student := newRouter(&models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}, audit, metrics)
	assert.Equal(t, http.StatusForbidden, serve(student, "good").Code)
	assert.Empty(t, audit.entries)

	faculty := newRouter(&models.JWTClaims{UserID: "fac-1", Role: models.RoleFaculty}, audit, metrics)
	w := serve(faculty, "good")
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, models.AuditActionDownload, entry.Action)
	assert.Equal(t, "sub-1", entry.EntityID)
	assert.Equal(t, "fac-1", entry.Actor.UserID)

	assert.Equal(t, []string{"/schemes/:id/template", "/schemes/:id/template"}, metrics.paths)
	assert.Equal(t, []int{http.StatusForbidden, http.StatusOK}, metrics.statuses)
}
