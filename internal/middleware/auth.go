// Package middleware provides Gin HTTP middleware for authentication, rate
// limiting, security headers, request tracing and best-effort audit recording.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Tracing → Metrics → Logger → Security → CORS → Auth → RateLimit → Handler
//
// Security headers run before auth so they appear on all responses including
// 401s. Rate limiting runs after auth so buckets are keyed by the resolved
// actor rather than by a shared NAT address.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/academy-hub/audit-trail/internal/audit"
)

const (
	// ActorKey is the gin.Context key holding the resolved *audit.Actor.
	ActorKey = "actor"
	// UserIDKey holds the actor's user id as a plain string.
	UserIDKey = "user_id"
)

// ActorResolver turns a bearer credential into the calling actor.
type ActorResolver interface {
	Resolve(ctx context.Context, token string) (*audit.Actor, error)
}

// AuthMiddleware requires a bearer token and stores the resolved actor in the
// request context.
func AuthMiddleware(resolver ActorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		actor, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, audit.ErrUnauthorized):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or expired token",
				})
			case errors.Is(err, audit.ErrProfileNotFound):
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"error": "Profile not found",
				})
			default:
				slog.Error("failed to resolve actor", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to load profile",
				})
			}
			return
		}

		c.Set(ActorKey, actor)
		c.Set(UserIDKey, actor.UserID)
		c.Next()
	}
}

// GetActor returns the actor stored by AuthMiddleware, or nil.
func GetActor(c *gin.Context) *audit.Actor {
	v, exists := c.Get(ActorKey)
	if !exists {
		return nil
	}
	actor, _ := v.(*audit.Actor)
	return actor
}
