package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
)

type auditRecorder interface {
	Record(ctx context.Context, entry service.AuditEntry)
}

// Audit records an audit entry after a successful request. The entity ID is read from the
// named path parameter. Used for read-side events, such as downloads, that services do not log.
func Audit(recorder auditRecorder, action, entityType, idParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if recorder == nil || c.Writer.Status() >= 400 {
			return
		}

		actor := models.AuditActor{IPAddress: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
		if claims, ok := Claims(c); ok {
			actor.UserID = claims.UserID
		}
		recorder.Record(c.Request.Context(), service.AuditEntry{
			Actor:      actor,
			Action:     action,
			EntityType: entityType,
			EntityID:   c.Param(idParam),
			NewValue: map[string]interface{}{
				"path":       c.FullPath(),
				"method":     c.Request.Method,
				"status":     c.Writer.Status(),
				"latency_ms": time.Since(start).Milliseconds(),
			},
			Description: c.Request.Method + " " + c.Request.URL.Path,
		})
	}
}
