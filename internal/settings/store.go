package settings

import (
	"encoding/json"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/models"
)

var (
	mu       sync.RWMutex
	conn     *gorm.DB
	snapshot map[string]json.RawMessage
)

// Bind attaches the settings store to a database connection and loads the
// initial snapshot. Handlers that write settings call Reload afterwards.
func Bind(db *gorm.DB) error {
	mu.Lock()
	conn = db
	mu.Unlock()
	return Reload()
}

// Reload refreshes the in-memory snapshot from the settings table.
func Reload() error {
	mu.RLock()
	db := conn
	mu.RUnlock()
	if db == nil {
		return nil
	}
	var rows []models.Setting
	if errFind := db.Find(&rows).Error; errFind != nil {
		return errFind
	}
	next := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		if len(row.Value) == 0 {
			continue
		}
		next[row.Key] = json.RawMessage(append([]byte(nil), row.Value...))
	}
	mu.Lock()
	snapshot = next
	mu.Unlock()
	return nil
}

// DBConfigValue returns the raw JSON value for a settings key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	mu.RLock()
	defer mu.RUnlock()
	value, ok := snapshot[key]
	if !ok || len(value) == 0 {
		return nil, false
	}
	return value, true
}

// SiteName returns the configured program display name.
func SiteName() string {
	raw, ok := DBConfigValue(SiteNameKey)
	if !ok {
		return DefaultSiteName
	}
	var name string
	if errUnmarshal := json.Unmarshal(raw, &name); errUnmarshal != nil {
		return DefaultSiteName
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultSiteName
	}
	return name
}

// ResetTokenTTLSeconds returns the configured reset token lifetime.
func ResetTokenTTLSeconds() int {
	raw, ok := DBConfigValue(ResetTokenTTLSecondsKey)
	if !ok {
		return DefaultResetTokenTTLSeconds
	}
	var ttl int
	if errUnmarshal := json.Unmarshal(raw, &ttl); errUnmarshal != nil || ttl <= 0 {
		return DefaultResetTokenTTLSeconds
	}
	return ttl
}
