package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusloop/loyalty/internal/models"
	internalsettings "github.com/campusloop/loyalty/internal/settings"
)

// SettingHandler serves the site settings endpoints.
type SettingHandler struct {
	db *gorm.DB // Database handle for setting rows.
}

// NewSettingHandler constructs a setting handler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

// List returns every stored setting.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := gin.H{}
	for _, row := range rows {
		out[row.Key] = json.RawMessage(row.Value)
	}
	c.JSON(http.StatusOK, out)
}

// Update upserts the submitted settings and refreshes the snapshot.
func (h *SettingHandler) Update(c *gin.Context) {
	var body map[string]json.RawMessage
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings to update"})
		return
	}

	now := time.Now().UTC()
	for key, value := range body {
		key = strings.TrimSpace(key)
		if key == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "setting key cannot be empty"})
			return
		}
		row := models.Setting{
			Key:       key,
			Value:     datatypes.JSON(value),
			UpdatedAt: now,
		}
		if errSave := h.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&row).Error; errSave != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "save setting failed"})
			return
		}
	}

	if errReload := internalsettings.Reload(); errReload != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload settings failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "settings updated"})
}
