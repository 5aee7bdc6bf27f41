package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a site-wide configuration value as JSON.
type Setting struct {
	Key   string         `gorm:"primaryKey;type:varchar(255)"` // Setting key.
	Value datatypes.JSON `gorm:"type:jsonb"`                   // JSON-encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
