package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/models"
)

// Drift reports a user whose stored balance disagrees with the balance
// recomputed from their transaction history.
type Drift struct {
	Utorid   string
	Stored   int
	Computed int
}

// Reconcile recomputes every balance from the ledger and returns the
// users whose stored points deviate. Deleted rows and manual database
// edits are the expected causes of drift.
func (e *Engine) Reconcile(ctx context.Context) ([]Drift, error) {
	var users []models.User
	if errFind := e.conn.WithContext(ctx).Order("utorid").Find(&users).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list users: %w", errFind)
	}

	computed := make(map[string]int, len(users))
	batchSize := 500
	var rows []models.Transaction
	errScan := e.conn.WithContext(ctx).FindInBatches(&rows, batchSize, func(tx *gorm.DB, batch int) error {
		for i := range rows {
			computed[rows[i].Utorid] += appliedDelta(&rows[i])
		}
		return nil
	}).Error
	if errScan != nil {
		return nil, fmt.Errorf("ledger: scan transactions: %w", errScan)
	}

	var drifts []Drift
	for _, user := range users {
		if user.Points != computed[user.Utorid] {
			drifts = append(drifts, Drift{
				Utorid:   user.Utorid,
				Stored:   user.Points,
				Computed: computed[user.Utorid],
			})
		}
	}
	return drifts, nil
}

// appliedDelta returns the balance effect a row has actually had on its
// owner: suspicious purchases earn nothing and redemptions only debit
// once processed.
func appliedDelta(row *models.Transaction) int {
	switch row.Type {
	case models.TransactionPurchase:
		if row.Suspicious {
			return 0
		}
		return row.Amount
	case models.TransactionRedemption:
		if row.ProcessedBy == nil {
			return 0
		}
		return row.Amount
	default:
		return row.Amount
	}
}
