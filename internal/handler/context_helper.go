package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

func viewerFromContext(c *gin.Context) (models.Viewer, error) {
	claims := claimsFromContext(c)
	if claims == nil {
		return models.Viewer{}, appErrors.ErrUnauthorized
	}
	return models.Viewer{UserID: claims.UserID, Role: claims.Role, Department: claims.Department}, nil
}

func actorFromContext(c *gin.Context) models.AuditActor {
	actor := models.AuditActor{IPAddress: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
	if claims := claimsFromContext(c); claims != nil {
		actor.UserID = claims.UserID
	}
	return actor
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be an integer")
	}
	return v, nil
}
