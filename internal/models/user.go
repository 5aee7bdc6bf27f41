package models

import "time"

// Role identifies a user's privilege level. Levels are ordered; see the
// roles package for comparisons.
const (
	RoleRegular   = "regular"
	RoleCashier   = "cashier"
	RoleManager   = "manager"
	RoleSuperuser = "superuser"
)

// User represents a loyalty program member or staff account.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Utorid string `gorm:"type:varchar(20);not null;uniqueIndex"`  // Unique handle, immutable once created.
	Name   string `gorm:"type:varchar(255);not null"`             // Display name.
	Email  string `gorm:"type:varchar(255);not null;uniqueIndex"` // Email address.

	Password string `gorm:"type:text;not null"` // Bcrypt password hash.

	Role string `gorm:"type:varchar(16);not null;default:'regular';index"` // Privilege level.

	Points int `gorm:"not null;default:0"` // Current spendable point balance.

	Verified   bool `gorm:"not null;default:false"` // Whether the user may send transfers.
	Suspicious bool `gorm:"not null;default:false"` // Cashier flag: their purchases earn zero.

	Birthday  *time.Time `gorm:""`                  // Optional birthday.
	AvatarURL string     `gorm:"type:varchar(512)"` // Avatar location, upload handled elsewhere.
	LastLogin *time.Time `gorm:""`                  // Last successful login.

	ResetToken       *string    `gorm:"type:varchar(64);index"` // Pending password reset token.
	ResetTokenExpiry *time.Time `gorm:""`                       // Reset token expiry.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
