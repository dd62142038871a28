package middleware

import (
	"strings"

	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/jwt"
	"marketplace-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuthMiddleware
const (
	ClaimsKey = "claims"
	UserKey   = "userId"
	RoleKey   = "userRole"
)

// ClaimsFrom returns the identity attached by JWTAuthMiddleware
func ClaimsFrom(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

// RequireAnyRole returns middleware that requires the user to have at least one of the specified roles
func RequireAnyRole(roles ...jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
			c.Abort()
			return
		}

		for _, role := range roles {
			if claims.HasRole(role) {
				c.Next()
				return
			}
		}

		c.Error(errors.NewForbiddenError("INSUFFICIENT_ROLE", "Your role does not allow this operation"))
		c.Abort()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) string {
	token := c.GetHeader("Authorization")
	if token != "" {
		return strings.TrimPrefix(token, "Bearer ")
	}
	// Browsers cannot set headers on a websocket upgrade.
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

func authenticate(jwtService *jwt.Service, log *logger.Logger, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c, allowQuery)
		if token == "" {
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Warn("Invalid JWT token", "error", err.Error(), "path", c.Request.URL.Path)
			c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserKey, claims.UserID)
		c.Set(RoleKey, string(claims.Role))

		c.Next()
	}
}

// JWTAuthMiddleware checks that the request has a valid JWT and adds claims to the context
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return authenticate(jwtService, log, false)
}

// WSAuthMiddleware is JWTAuthMiddleware that also accepts ?token= for websocket upgrades
func WSAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return authenticate(jwtService, log, true)
}
