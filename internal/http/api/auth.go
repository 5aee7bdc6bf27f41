package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/config"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/security"
	internalsettings "github.com/campusloop/loyalty/internal/settings"
)

// AuthHandler serves login and password reset endpoints.
type AuthHandler struct {
	db     *gorm.DB         // Database handle for user lookups.
	jwtCfg config.JWTConfig // Token signing settings.
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// loginRequest captures the login payload.
type loginRequest struct {
	Utorid   string `json:"utorid"`   // User handle.
	Password string `json:"password"` // Plaintext password.
}

// Login verifies credentials and issues a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Utorid = strings.TrimSpace(body.Utorid)
	if body.Utorid == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid and password are required"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("utorid = ?", body.Utorid).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if user.Password == "" || !security.VerifyPassword(user.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expiresAt, errIssue := security.IssueUserToken(h.jwtCfg, &user)
	if errIssue != nil {
		log.WithError(errIssue).Error("issue token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}

	now := time.Now().UTC()
	if errTouch := h.db.WithContext(c.Request.Context()).Model(&user).Update("last_login", now).Error; errTouch != nil {
		log.WithError(errTouch).Warn("update last login failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

// resetRequest captures the reset request payload.
type resetRequest struct {
	Utorid string `json:"utorid"` // User handle.
}

// RequestReset mints a password reset token for the user.
func (h *AuthHandler) RequestReset(c *gin.Context) {
	var body resetRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Utorid = strings.TrimSpace(body.Utorid)
	if body.Utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid is required"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("utorid = ?", body.Utorid).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	ttl := time.Duration(internalsettings.ResetTokenTTLSeconds()) * time.Second
	token, expiry := security.NewResetToken(ttl)
	if errSave := h.db.WithContext(c.Request.Context()).Model(&user).Updates(map[string]any{
		"reset_token":        token,
		"reset_token_expiry": expiry.UTC(),
	}).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save reset token failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"resetToken": token,
		"expiresAt":  expiry.UTC().Format(time.RFC3339),
	})
}

// applyResetRequest captures the reset completion payload.
type applyResetRequest struct {
	Utorid   string `json:"utorid"`   // User handle.
	Password string `json:"password"` // New password.
}

// ApplyReset consumes a reset token and sets the new password.
func (h *AuthHandler) ApplyReset(c *gin.Context) {
	token := strings.TrimSpace(c.Param("resetToken"))
	var body applyResetRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Utorid = strings.TrimSpace(body.Utorid)
	if token == "" || body.Utorid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid and reset token are required"})
		return
	}
	if errPolicy := security.ValidatePasswordPolicy(body.Password); errPolicy != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password does not meet policy"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("reset_token = ?", token).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reset token not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if user.Utorid != body.Utorid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "reset token does not belong to user"})
		return
	}
	if user.ResetTokenExpiry == nil || time.Now().After(*user.ResetTokenExpiry) {
		c.JSON(http.StatusGone, gin.H{"error": "reset token expired"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errSave := h.db.WithContext(c.Request.Context()).Model(&user).Updates(map[string]any{
		"password":           hash,
		"reset_token":        nil,
		"reset_token_expiry": nil,
	}).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update password failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
