package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/badge-platform-api/internal/models"
	"github.com/noah-isme/badge-platform-api/internal/repository"
)

// Audit records an audit entry after successful requests. Route handlers emit
// richer domain audits through their services; this covers coarse access
// logging for sensitive route groups.
func Audit(repo *repository.AuditRepository, action, entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		var actorID *string
		if claims, ok := c.Get(ContextUserKey); ok {
			user := claims.(*models.JWTClaims)
			actorID = &user.UserID
		}

		body, _ := json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		})

		_ = repo.Record(c.Request.Context(), &models.AuditLog{
			ActorID:   actorID,
			Action:    action,
			Entity:    entity,
			EntityID:  c.FullPath(),
			Context:   body,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
	}
}
