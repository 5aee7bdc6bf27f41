package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/config"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/ratelimit"
	"github.com/campusloop/loyalty/internal/roles"
	"github.com/campusloop/loyalty/internal/security"
)

// Context keys set by authMiddleware.
const (
	ctxUserKey  = "currentUser"
	ctxLevelKey = "currentLevel"
)

// currentUser returns the authenticated user from the request context.
func currentUser(c *gin.Context) *models.User {
	value, ok := c.Get(ctxUserKey)
	if !ok {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}

// currentLevel returns the authenticated user's privilege level.
func currentLevel(c *gin.Context) roles.Level {
	value, ok := c.Get(ctxLevelKey)
	if !ok {
		return roles.Regular
	}
	level, _ := value.(roles.Level)
	return level
}

// authMiddleware validates the bearer token and loads the caller.
func authMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).Where("utorid = ?", claims.Utorid).First(&user).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		c.Set(ctxUserKey, &user)
		c.Set(ctxLevelKey, roles.Of(&user))
		c.Next()
	}
}

// requireLevel rejects callers below the given privilege floor.
func requireLevel(floor roles.Level) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentLevel(c).AtLeast(floor) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient clearance"})
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware enforces the settings-configured per-user limit.
func rateLimitMiddleware(manager *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || manager == nil {
			c.Next()
			return
		}
		limit := ratelimit.DefaultSettingsLimit()
		if limit <= 0 {
			c.Next()
			return
		}
		result, errAllow := manager.Allow(c.Request.Context(), ratelimit.KeyForUser(user.Utorid), limit)
		if errAllow != nil {
			// Limiter trouble never blocks traffic.
			c.Next()
			return
		}
		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
