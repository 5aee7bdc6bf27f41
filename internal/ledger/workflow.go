package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/models"
)

// SetSuspicious flips a purchase's suspicious flag and reverses or
// reapplies its earned points. The flip is a compare-and-set against
// the current value, so toggling to the value already held fails
// instead of double-applying the reversal.
func (e *Engine) SetSuspicious(ctx context.Context, transactionID uint64, suspicious bool) (*models.Transaction, error) {
	var row models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := lockForUpdate(tx).Where("id = ?", transactionID).First(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("transaction %d", transactionID)
			}
			return fmt.Errorf("ledger: find transaction: %w", errFind)
		}
		if row.Type != models.TransactionPurchase {
			return validationf("transaction %d is not a purchase", transactionID)
		}

		result := tx.Model(&models.Transaction{}).
			Where("id = ? AND suspicious = ?", transactionID, !suspicious).
			Update("suspicious", suspicious)
		if result.Error != nil {
			return fmt.Errorf("ledger: flip suspicious: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return conflictf("transaction %d suspicious flag already %t", transactionID, suspicious)
		}

		earned := 0
		if row.Earned != nil {
			earned = *row.Earned
		}
		delta := earned
		if suspicious {
			delta = -earned
		}
		if delta != 0 {
			if errApply := creditPoints(tx, row.Utorid, delta); errApply != nil {
				return errApply
			}
		}
		row.Suspicious = suspicious
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// UpdateRemark replaces a transaction's free-text note.
func (e *Engine) UpdateRemark(ctx context.Context, transactionID uint64, remark string) (*models.Transaction, error) {
	remark = strings.TrimSpace(remark)

	var row models.Transaction
	if errFind := e.conn.WithContext(ctx).Where("id = ?", transactionID).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, notFoundf("transaction %d", transactionID)
		}
		return nil, fmt.Errorf("ledger: find transaction: %w", errFind)
	}
	if errUpdate := e.conn.WithContext(ctx).Model(&row).Update("remark", remark).Error; errUpdate != nil {
		return nil, fmt.Errorf("ledger: update remark: %w", errUpdate)
	}
	row.Remark = remark
	return &row, nil
}

// DeleteTransaction removes a ledger row without reversing its balance
// effect. This is the audit-trail exception for managers; the
// reconciliation report will show the resulting drift.
func (e *Engine) DeleteTransaction(ctx context.Context, transactionID uint64) error {
	return e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Transaction
		if errFind := tx.Preload("Promotions").Where("id = ?", transactionID).First(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("transaction %d", transactionID)
			}
			return fmt.Errorf("ledger: find transaction: %w", errFind)
		}

		// A one-time promotion is claimed by the purchase that consumed
		// it, so deleting that purchase releases the claim.
		released := make([]uint64, 0, len(row.Promotions))
		for _, promo := range row.Promotions {
			if promo.Type == models.PromotionOneTime {
				released = append(released, promo.ID)
			}
		}

		if errClear := tx.Model(&row).Association("Promotions").Clear(); errClear != nil {
			return fmt.Errorf("ledger: clear promotion links: %w", errClear)
		}
		if len(released) > 0 {
			if errRelease := tx.Model(&models.Promotion{}).
				Where("id IN ?", released).
				Update("used", false).Error; errRelease != nil {
				return fmt.Errorf("ledger: release promotions: %w", errRelease)
			}
		}
		if errDelete := tx.Delete(&row).Error; errDelete != nil {
			return fmt.Errorf("ledger: delete transaction: %w", errDelete)
		}
		return nil
	})
}
