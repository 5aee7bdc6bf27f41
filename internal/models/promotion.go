package models

import "time"

// Promotion type discriminators.
const (
	// PromotionAutomatic applies on every eligible purchase.
	PromotionAutomatic = "automatic"
	// PromotionOneTime may be consumed by exactly one purchase.
	PromotionOneTime = "onetime"
)

// Promotion describes a bonus-point rule applied to purchases.
type Promotion struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(255);not null"` // Promotion name.
	Description string `gorm:"type:text;not null"`         // Promotion description.

	Type string `gorm:"type:varchar(16);not null;index"` // automatic or onetime.

	MinSpending *float64 `gorm:"type:decimal(10,2)"` // Minimum spend to qualify, nil for none.
	Rate        *float64 `gorm:"type:decimal(10,4)"` // Bonus multiplier: floor(spent * rate).
	Points      *int     `gorm:""`                   // Flat bonus points.

	StartTime time.Time `gorm:"not null;index"` // Eligibility window start.
	EndTime   time.Time `gorm:"not null;index"` // Eligibility window end.

	// Used records the global consumption of a one-time promotion. It is
	// claimed with a guarded update so two concurrent purchases cannot
	// both consume the same promotion.
	Used bool `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ActiveAt reports whether the promotion window covers the given time.
func (p *Promotion) ActiveAt(now time.Time) bool {
	return !now.Before(p.StartTime) && !now.After(p.EndTime)
}
