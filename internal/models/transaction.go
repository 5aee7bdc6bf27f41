package models

import "time"

// Transaction type discriminators.
const (
	TransactionPurchase   = "purchase"
	TransactionAdjustment = "adjustment"
	TransactionTransfer   = "transfer"
	TransactionRedemption = "redemption"
	TransactionEvent      = "event"
)

// Transaction is one row of the append-mostly points ledger. Rows are
// immutable after creation except for the suspicious flag, the remark,
// and processed_by on redemptions.
type Transaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Type string `gorm:"type:varchar(16);not null;index"` // Type discriminator.

	Utorid string `gorm:"type:varchar(20);not null;index"` // Owner of the ledger entry.

	// Amount is the signed point delta this row represents for its owner.
	// Purchases and event awards store the earned value, transfers store
	// the signed sent/received value, redemptions store the requested
	// debit as a negative number once processed semantics apply.
	Amount int `gorm:"not null;default:0"`

	Spent    *float64 `gorm:"type:decimal(10,2)"` // Purchase: currency spent.
	Earned   *int     `gorm:""`                   // Purchase/event: points earned.
	Sent     *int     `gorm:""`                   // Transfer: points sent (sender row).
	Redeemed *int     `gorm:""`                   // Redemption: points requested.

	RelatedID *uint64 `gorm:"index"` // Adjustment: audited transaction; event: event ID; transfer: counterpart row.

	Sender    string `gorm:"type:varchar(20)"` // Transfer: sending handle.
	Recipient string `gorm:"type:varchar(20)"` // Transfer: receiving handle.

	ProcessedBy *string `gorm:"type:varchar(20)"` // Redemption: cashier who fulfilled it; nil while pending.

	Suspicious bool   `gorm:"not null;default:false;index"` // Manager-toggleable reversal flag.
	Remark     string `gorm:"type:text"`                    // Free-text note, manager-editable.

	CreatedBy string `gorm:"type:varchar(20);not null;index"` // Handle of the creating actor.

	Promotions []Promotion `gorm:"many2many:transaction_promotions"` // Promotions consumed by a purchase.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// PromotionIDs flattens the consumed promotions into their IDs.
func (t *Transaction) PromotionIDs() []uint64 {
	out := make([]uint64, 0, len(t.Promotions))
	for _, promo := range t.Promotions {
		out = append(out, promo.ID)
	}
	return out
}
