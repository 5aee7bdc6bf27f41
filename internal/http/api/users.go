package api

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	internaldb "github.com/campusloop/loyalty/internal/db"
	"github.com/campusloop/loyalty/internal/ledger"
	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/roles"
	"github.com/campusloop/loyalty/internal/security"
	internalsettings "github.com/campusloop/loyalty/internal/settings"
)

var (
	utoridPattern = regexp.MustCompile(`^[a-zA-Z0-9]{8}$`)
	emailPattern  = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@mail\.utoronto\.ca$`)
)

// UserHandler serves account endpoints and the self-service
// transfer/redemption operations.
type UserHandler struct {
	db     *gorm.DB       // Database handle for user records.
	engine *ledger.Engine // Transaction engine for point movement.
}

// NewUserHandler constructs a user handler.
func NewUserHandler(db *gorm.DB, engine *ledger.Engine) *UserHandler {
	return &UserHandler{db: db, engine: engine}
}

// formatUser renders a user for API responses.
func formatUser(user *models.User) gin.H {
	out := gin.H{
		"id":         user.ID,
		"utorid":     user.Utorid,
		"name":       user.Name,
		"email":      user.Email,
		"role":       user.Role,
		"points":     user.Points,
		"verified":   user.Verified,
		"suspicious": user.Suspicious,
		"avatarUrl":  user.AvatarURL,
		"createdAt":  user.CreatedAt.UTC().Format(time.RFC3339),
	}
	if user.Birthday != nil {
		out["birthday"] = user.Birthday.UTC().Format("2006-01-02")
	}
	if user.LastLogin != nil {
		out["lastLogin"] = user.LastLogin.UTC().Format(time.RFC3339)
	}
	return out
}

// registerRequest captures the payload for registering a member.
type registerRequest struct {
	Utorid string `json:"utorid"` // Eight alphanumeric characters.
	Name   string `json:"name"`   // Display name.
	Email  string `json:"email"`  // University email.
}

// Register creates a member account and mints its activation token.
func (h *UserHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Utorid = strings.TrimSpace(body.Utorid)
	body.Name = strings.TrimSpace(body.Name)
	body.Email = strings.TrimSpace(body.Email)

	if !utoridPattern.MatchString(body.Utorid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "utorid must be 8 alphanumeric characters"})
		return
	}
	if body.Name == "" || len(body.Name) > 50 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1-50 characters"})
		return
	}
	if !emailPattern.MatchString(body.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email must be a valid University of Toronto address"})
		return
	}

	var count int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("utorid = ? OR email = ?", body.Utorid, body.Email).Count(&count).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "utorid or email already registered"})
		return
	}

	ttl := time.Duration(internalsettings.ResetTokenTTLSeconds()) * time.Second
	token, expiry := security.NewResetToken(ttl)
	expiryUTC := expiry.UTC()
	user := models.User{
		Utorid:           body.Utorid,
		Name:             body.Name,
		Email:            body.Email,
		Role:             models.RoleRegular,
		ResetToken:       &token,
		ResetTokenExpiry: &expiryUTC,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"utorid":     user.Utorid,
		"name":       user.Name,
		"email":      user.Email,
		"verified":   user.Verified,
		"resetToken": token,
		"expiresAt":  expiryUTC.Format(time.RFC3339),
	})
}

// List returns users filtered by query parameters with pagination.
func (h *UserHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})

	if name := strings.TrimSpace(c.Query("name")); name != "" {
		pattern := internaldb.NormalizeLikePattern(h.db, "%"+name+"%")
		q = q.Where(
			h.db.Where(internaldb.CaseInsensitiveLikeExpr(h.db, "utorid"), pattern).
				Or(internaldb.CaseInsensitiveLikeExpr(h.db, "name"), pattern),
		)
	}
	if role := strings.ToLower(strings.TrimSpace(c.Query("role"))); role != "" {
		if !roles.Valid(role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role filter"})
			return
		}
		q = q.Where("role = ?", role)
	}
	if verified := strings.TrimSpace(c.Query("verified")); verified != "" {
		q = q.Where("verified = ?", verified == "true" || verified == "1")
	}
	if activated := strings.TrimSpace(c.Query("activated")); activated != "" {
		if activated == "true" || activated == "1" {
			q = q.Where("last_login IS NOT NULL")
		} else {
			q = q.Where("last_login IS NULL")
		}
	}

	page, limit, errPage := parsePagination(c)
	if errPage != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errPage.Error()})
		return
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}
	var rows []models.User
	if errFind := q.Order("id").Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	results := make([]gin.H, 0, len(rows))
	for i := range rows {
		results = append(results, formatUser(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": results})
}

// Me returns the caller's own account.
func (h *UserHandler) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, formatUser(user))
}

// updateMeRequest captures optional self-service profile updates.
type updateMeRequest struct {
	Name      *string `json:"name"`      // Optional display name.
	Email     *string `json:"email"`     // Optional email.
	Birthday  *string `json:"birthday"`  // Optional YYYY-MM-DD birthday.
	AvatarURL *string `json:"avatarUrl"` // Optional avatar location.
}

// UpdateMe applies profile updates to the caller's own account.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	user := currentUser(c)
	var body updateMeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" || len(name) > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1-50 characters"})
			return
		}
		updates["name"] = name
	}
	if body.Email != nil {
		email := strings.TrimSpace(*body.Email)
		if !emailPattern.MatchString(email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email must be a valid University of Toronto address"})
			return
		}
		updates["email"] = email
	}
	if body.Birthday != nil {
		birthday, errParse := time.Parse("2006-01-02", strings.TrimSpace(*body.Birthday))
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "birthday must be YYYY-MM-DD"})
			return
		}
		updates["birthday"] = birthday
	}
	if body.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*body.AvatarURL)
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if errSave := h.db.WithContext(c.Request.Context()).Model(user).Updates(updates).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	var reloaded models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", user.ID).First(&reloaded).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatUser(&reloaded))
}

// changePasswordRequest captures the password change payload.
type changePasswordRequest struct {
	Old string `json:"old"` // Current password.
	New string `json:"new"` // Replacement password.
}

// ChangePassword verifies the old password and stores the new one.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	user := currentUser(c)
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !security.VerifyPassword(user.Password, body.Old) {
		c.JSON(http.StatusForbidden, gin.H{"error": "current password is incorrect"})
		return
	}
	if errPolicy := security.ValidatePasswordPolicy(body.New); errPolicy != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password does not meet policy"})
		return
	}
	hash, errHash := security.HashPassword(body.New)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errSave := h.db.WithContext(c.Request.Context()).Model(user).Update("password", hash).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// Get returns a user by ID. Cashiers see a reduced view.
func (h *UserHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("userId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	if !roles.CanAudit(currentLevel(c)) {
		c.JSON(http.StatusOK, gin.H{
			"id":       user.ID,
			"utorid":   user.Utorid,
			"name":     user.Name,
			"points":   user.Points,
			"verified": user.Verified,
		})
		return
	}
	c.JSON(http.StatusOK, formatUser(&user))
}

// updateUserRequest captures manager-level account updates.
type updateUserRequest struct {
	Email      *string `json:"email"`      // Optional email.
	Verified   *bool   `json:"verified"`   // Optional verified flag.
	Suspicious *bool   `json:"suspicious"` // Optional cashier suspicion flag.
	Role       *string `json:"role"`       // Optional role change.
}

// Update applies manager-level changes to a user account.
func (h *UserHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("userId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	updates := map[string]any{}
	if body.Email != nil {
		email := strings.TrimSpace(*body.Email)
		if !emailPattern.MatchString(email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email must be a valid University of Toronto address"})
			return
		}
		updates["email"] = email
	}
	if body.Verified != nil {
		// Verification is one-way; accounts are never un-verified.
		if !*body.Verified {
			c.JSON(http.StatusBadRequest, gin.H{"error": "verified can only be set to true"})
			return
		}
		updates["verified"] = true
	}
	if body.Suspicious != nil {
		updates["suspicious"] = *body.Suspicious
	}
	if body.Role != nil {
		target, errRole := roles.Parse(*body.Role)
		if errRole != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		if !roles.CanAssignRole(currentLevel(c), target) {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot assign that role"})
			return
		}
		updates["role"] = target.String()
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if errSave := h.db.WithContext(c.Request.Context()).Model(&user).Updates(updates).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	var reloaded models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&reloaded).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatUser(&reloaded))
}

// redemptionRequest captures a member's cash-out request.
type redemptionRequest struct {
	Type   string `json:"type"`   // Must be "redemption".
	Amount int    `json:"amount"` // Points to redeem.
	Remark string `json:"remark"` // Optional note.
}

// CreateRedemption records a redemption request for the caller.
func (h *UserHandler) CreateRedemption(c *gin.Context) {
	user := currentUser(c)
	var body redemptionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Type != models.TransactionRedemption {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be redemption"})
		return
	}

	row, errCreate := h.engine.CreateRedemption(c.Request.Context(), ledger.RedemptionInput{
		Utorid: user.Utorid,
		Amount: body.Amount,
		Remark: body.Remark,
	})
	if errCreate != nil {
		respondLedgerError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, formatTransaction(row))
}

// ListOwnTransactions returns the caller's ledger entries.
func (h *UserHandler) ListOwnTransactions(c *gin.Context) {
	user := currentUser(c)
	listTransactions(c, h.db, &user.Utorid)
}

// transferRequest captures a member-to-member transfer payload.
type transferRequest struct {
	Type   string `json:"type"`   // Must be "transfer".
	Amount int    `json:"amount"` // Points to send.
	Remark string `json:"remark"` // Optional note.
}

// CreateTransfer sends points from the caller to another user.
func (h *UserHandler) CreateTransfer(c *gin.Context) {
	sender := currentUser(c)
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("userId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var body transferRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Type != models.TransactionTransfer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be transfer"})
		return
	}

	var recipient models.User
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&recipient).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipient not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	row, errCreate := h.engine.CreateTransfer(c.Request.Context(), ledger.TransferInput{
		Sender:    sender.Utorid,
		Recipient: recipient.Utorid,
		Amount:    body.Amount,
		Remark:    body.Remark,
	})
	if errCreate != nil {
		respondLedgerError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, formatTransaction(row))
}
