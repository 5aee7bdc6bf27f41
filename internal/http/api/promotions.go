package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/models"
	"github.com/campusloop/loyalty/internal/roles"
)

// PromotionHandler serves promotion CRUD endpoints.
type PromotionHandler struct {
	db *gorm.DB // Database handle for promotion records.
}

// NewPromotionHandler constructs a promotion handler.
func NewPromotionHandler(db *gorm.DB) *PromotionHandler {
	return &PromotionHandler{db: db}
}

// formatPromotion renders a promotion for API responses. Managers also
// see the consumption flag.
func formatPromotion(promo *models.Promotion, manager bool) gin.H {
	out := gin.H{
		"id":          promo.ID,
		"name":        promo.Name,
		"description": promo.Description,
		"type":        promo.Type,
		"startTime":   promo.StartTime.UTC().Format(time.RFC3339),
		"endTime":     promo.EndTime.UTC().Format(time.RFC3339),
	}
	if promo.MinSpending != nil {
		out["minSpending"] = *promo.MinSpending
	}
	if promo.Rate != nil {
		out["rate"] = *promo.Rate
	}
	if promo.Points != nil {
		out["points"] = *promo.Points
	}
	if manager {
		out["used"] = promo.Used
	}
	return out
}

// promotionRequest captures the payload for creating a promotion.
type promotionRequest struct {
	Name        string   `json:"name"`        // Promotion name.
	Description string   `json:"description"` // Promotion description.
	Type        string   `json:"type"`        // automatic or onetime.
	StartTime   string   `json:"startTime"`   // RFC3339 window start.
	EndTime     string   `json:"endTime"`     // RFC3339 window end.
	MinSpending *float64 `json:"minSpending"` // Optional minimum spend.
	Rate        *float64 `json:"rate"`        // Optional bonus multiplier.
	Points      *int     `json:"points"`      // Optional flat bonus.
}

// Create validates input and inserts a promotion.
func (h *PromotionHandler) Create(c *gin.Context) {
	var body promotionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	body.Description = strings.TrimSpace(body.Description)

	if body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if body.Type != models.PromotionAutomatic && body.Type != models.PromotionOneTime {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be automatic or onetime"})
		return
	}
	startTime, errStart := time.Parse(time.RFC3339, body.StartTime)
	if errStart != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid startTime format, use RFC3339"})
		return
	}
	endTime, errEnd := time.Parse(time.RFC3339, body.EndTime)
	if errEnd != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endTime format, use RFC3339"})
		return
	}
	if !endTime.After(startTime) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endTime must be after startTime"})
		return
	}
	if body.MinSpending != nil && *body.MinSpending <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minSpending must be positive"})
		return
	}
	if body.Rate != nil && *body.Rate <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be positive"})
		return
	}
	if body.Points != nil && *body.Points < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "points must not be negative"})
		return
	}

	promo := models.Promotion{
		Name:        body.Name,
		Description: body.Description,
		Type:        body.Type,
		MinSpending: body.MinSpending,
		Rate:        body.Rate,
		Points:      body.Points,
		StartTime:   startTime.UTC(),
		EndTime:     endTime.UTC(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&promo).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create promotion failed"})
		return
	}
	c.JSON(http.StatusCreated, formatPromotion(&promo, true))
}

// List returns promotions. Regular callers see only currently active
// ones; managers can filter by started/ended.
func (h *PromotionHandler) List(c *gin.Context) {
	manager := roles.CanManagePromotions(currentLevel(c))
	now := time.Now().UTC()
	q := h.db.WithContext(c.Request.Context()).Model(&models.Promotion{})

	if !manager {
		q = q.Where("start_time <= ? AND end_time >= ?", now, now)
	} else {
		started := strings.TrimSpace(c.Query("started"))
		ended := strings.TrimSpace(c.Query("ended"))
		if started != "" && ended != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "started and ended are mutually exclusive"})
			return
		}
		if started != "" {
			if started == "true" || started == "1" {
				q = q.Where("start_time <= ?", now)
			} else {
				q = q.Where("start_time > ?", now)
			}
		}
		if ended != "" {
			if ended == "true" || ended == "1" {
				q = q.Where("end_time < ?", now)
			} else {
				q = q.Where("end_time >= ?", now)
			}
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
	var rows []models.Promotion
	if errFind := q.Order("id").Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list promotions failed"})
		return
	}

	results := make([]gin.H, 0, len(rows))
	for i := range rows {
		results = append(results, formatPromotion(&rows[i], manager))
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": results})
}

// Get returns a promotion. Regular callers can only see active ones.
func (h *PromotionHandler) Get(c *gin.Context) {
	id, ok := parsePromotionID(c)
	if !ok {
		return
	}
	var promo models.Promotion
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&promo).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "promotion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	manager := roles.CanManagePromotions(currentLevel(c))
	if !manager && !promo.ActiveAt(time.Now()) {
		c.JSON(http.StatusNotFound, gin.H{"error": "promotion not found"})
		return
	}
	c.JSON(http.StatusOK, formatPromotion(&promo, manager))
}

// updatePromotionRequest captures optional promotion field updates.
type updatePromotionRequest struct {
	Name        *string  `json:"name"`        // Optional name.
	Description *string  `json:"description"` // Optional description.
	Type        *string  `json:"type"`        // Optional type.
	StartTime   *string  `json:"startTime"`   // Optional RFC3339 window start.
	EndTime     *string  `json:"endTime"`     // Optional RFC3339 window end.
	MinSpending *float64 `json:"minSpending"` // Optional minimum spend.
	Rate        *float64 `json:"rate"`        // Optional bonus multiplier.
	Points      *int     `json:"points"`      // Optional flat bonus.
}

// Update applies edits to a promotion. Financial terms lock once the
// window has opened.
func (h *PromotionHandler) Update(c *gin.Context) {
	id, ok := parsePromotionID(c)
	if !ok {
		return
	}
	var body updatePromotionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var promo models.Promotion
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&promo).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "promotion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	now := time.Now().UTC()
	started := !promo.StartTime.After(now)
	updates := map[string]any{}

	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if body.Type != nil || body.MinSpending != nil || body.Rate != nil || body.Points != nil || body.StartTime != nil {
		if started {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot change terms after the promotion has started"})
			return
		}
	}
	if body.Type != nil {
		if *body.Type != models.PromotionAutomatic && *body.Type != models.PromotionOneTime {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be automatic or onetime"})
			return
		}
		updates["type"] = *body.Type
	}
	if body.StartTime != nil {
		startTime, errParse := time.Parse(time.RFC3339, *body.StartTime)
		if errParse != nil || startTime.Before(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "startTime must be a future RFC3339 time"})
			return
		}
		updates["start_time"] = startTime.UTC()
	}
	if body.EndTime != nil {
		endTime, errParse := time.Parse(time.RFC3339, *body.EndTime)
		if errParse != nil || endTime.Before(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endTime must be a future RFC3339 time"})
			return
		}
		updates["end_time"] = endTime.UTC()
	}
	if body.MinSpending != nil {
		if *body.MinSpending <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minSpending must be positive"})
			return
		}
		updates["min_spending"] = *body.MinSpending
	}
	if body.Rate != nil {
		if *body.Rate <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be positive"})
			return
		}
		updates["rate"] = *body.Rate
	}
	if body.Points != nil {
		if *body.Points < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "points must not be negative"})
			return
		}
		updates["points"] = *body.Points
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	if errSave := h.db.WithContext(c.Request.Context()).Model(&promo).Updates(updates).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	var reloaded models.Promotion
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&reloaded).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatPromotion(&reloaded, true))
}

// Delete removes a promotion that has not started and is unreferenced.
func (h *PromotionHandler) Delete(c *gin.Context) {
	id, ok := parsePromotionID(c)
	if !ok {
		return
	}
	var promo models.Promotion
	if errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&promo).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "promotion not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !promo.StartTime.After(time.Now().UTC()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot delete a promotion that has started"})
		return
	}
	var linkCount int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Table("transaction_promotions").Where("promotion_id = ?", id).Count(&linkCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if linkCount > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "promotion is referenced by transactions"})
		return
	}
	if errDelete := h.db.WithContext(c.Request.Context()).Delete(&promo).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func parsePromotionID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("promotionId")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid promotion id"})
		return 0, false
	}
	return id, true
}
