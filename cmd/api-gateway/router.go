package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/academic-records-api/api/swagger"
	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/pkg/config"
	"github.com/noah-isme/academic-records-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/academic-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academic-records-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, a *app, logr *zap.Logger) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", a.health.Health)
	r.GET("/ready", a.health.Ready)
	r.GET("/metrics", a.health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.RequireRoles(models.RoleAdmin)
	adminHOD := middleware.RequireRoles(models.RoleAdmin, models.RoleHOD)
	adminFaculty := middleware.RequireRoles(models.RoleAdmin, models.RoleFaculty)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleHOD, models.RoleFaculty)
	download := func(entity, idParam string) gin.HandlerFunc {
		return middleware.Audit(a.auditService, models.AuditActionDownload, entity, idParam)
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", a.auth.Login)
	api.POST("/auth/refresh", a.auth.Refresh)

	secured := api.Group("", middleware.JWT(a.authService))
	secured.POST("/auth/logout", a.auth.Logout)
	secured.GET("/auth/me", a.auth.Me)

	secured.GET("/users", adminHOD, a.users.List)
	secured.POST("/users", admin, a.users.Create)
	secured.GET("/users/:id", admin, a.users.Get)

	schemes := secured.Group("/schemes")
	schemes.GET("", a.schemes.List)
	schemes.GET("/mine", a.schemes.Mine)
	schemes.GET("/:id", a.schemes.Get)
	schemes.POST("", adminHOD, a.schemes.Create)
	schemes.PUT("/:id", adminHOD, a.schemes.Update)
	schemes.DELETE("/:id", admin, a.schemes.Delete)
	schemes.GET("/:id/template", staff, download(models.AuditEntityScheme, "id"), a.schemes.Template)

	marks := secured.Group("/marks")
	marks.GET("", a.marks.List)
	marks.POST("", adminFaculty, a.marks.Upsert)
	marks.POST("/bulk", adminFaculty, a.marks.BulkUpload)
	marks.POST("/recalculate/:subjectId", adminFaculty, a.marks.Recalculate)
	marks.GET("/jobs/:id", adminFaculty, a.marks.JobStatus)
	marks.GET("/:id", a.marks.Get)
	marks.PUT("/:id", adminFaculty, a.marks.Update)
	marks.DELETE("/:id", admin, a.marks.Delete)
	marks.PUT("/:id/submit", adminFaculty, a.marks.Submit)
	marks.PUT("/:id/approve", adminHOD, a.marks.Approve)

	attendance := secured.Group("/attendance")
	attendance.GET("", a.attendance.List)
	attendance.POST("", adminFaculty, a.attendance.Record)
	attendance.POST("/bulk", adminFaculty, a.attendance.Bulk)
	attendance.GET("/summary/:studentId", a.attendance.Summary)

	analytics := secured.Group("/analytics", staff)
	analytics.GET("/subjects/:subjectId/statistics", a.analytics.Statistics)
	analytics.GET("/subjects/:subjectId/export", download(models.AuditEntityStudentMarks, "subjectId"), a.analytics.Export)
	analytics.GET("/system", admin, a.analytics.System)

	audit := secured.Group("/audit", admin)
	audit.GET("", a.audit.List)
	audit.GET("/export", download(models.AuditEntityAuditLog, ""), a.audit.Export)
	audit.GET("/:entityType/:entityId", a.audit.ForEntity)

	return r
}
