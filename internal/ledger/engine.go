package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campusloop/loyalty/internal/db"
	"github.com/campusloop/loyalty/internal/models"
)

// Engine is the state-transition authority for the points ledger. Every
// balance mutation it performs is paired with exactly one Transaction
// row inside a single database transaction.
type Engine struct {
	conn *gorm.DB
	now  func() time.Time
}

// New constructs an Engine on the given connection.
func New(conn *gorm.DB) *Engine {
	return &Engine{conn: conn, now: time.Now}
}

// lockForUpdate adds a row lock on dialects that support it. SQLite
// serializes writers on its own and rejects FOR UPDATE syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if db.IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// PurchaseInput describes a cashier-recorded purchase.
type PurchaseInput struct {
	CreatedBy         string
	CreatorSuspicious bool
	Utorid            string
	Spent             float64
	PromotionIDs      []uint64
	Remark            string
}

// CreatePurchase records a purchase, evaluates its promotions, and
// credits the earned points unless the creating cashier is flagged
// suspicious. Suspicious-created rows store the computed earned value
// with the row's own suspicious flag set, so a later manager toggle
// credits exactly once.
func (e *Engine) CreatePurchase(ctx context.Context, input PurchaseInput) (*models.Transaction, error) {
	if input.Spent <= 0 {
		return nil, validationf("spent must be positive, got %.2f", input.Spent)
	}
	input.Utorid = strings.TrimSpace(input.Utorid)

	var row models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if errFind := lockForUpdate(tx).Where("utorid = ?", input.Utorid).First(&target).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("user %s", input.Utorid)
			}
			return fmt.Errorf("ledger: find user: %w", errFind)
		}

		quote, errQuote := EvaluatePurchase(ctx, tx, input.Spent, input.PromotionIDs, e.now())
		if errQuote != nil {
			return errQuote
		}
		if errClaim := claimOneTimePromotions(tx, quote.Promotions); errClaim != nil {
			return errClaim
		}

		earned := quote.Earned()
		row = models.Transaction{
			Type:       models.TransactionPurchase,
			Utorid:     target.Utorid,
			Amount:     earned,
			Spent:      &input.Spent,
			Earned:     &earned,
			Suspicious: input.CreatorSuspicious,
			Remark:     input.Remark,
			CreatedBy:  input.CreatedBy,
			Promotions: quote.Promotions,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("ledger: create purchase: %w", errCreate)
		}
		if !row.Suspicious && earned != 0 {
			if errCredit := creditPoints(tx, target.Utorid, earned); errCredit != nil {
				return errCredit
			}
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// claimOneTimePromotions marks each one-time promotion consumed with a
// guarded update. Losing the claim to a concurrent purchase rolls the
// whole operation back.
func claimOneTimePromotions(tx *gorm.DB, promos []models.Promotion) error {
	for _, promo := range promos {
		if promo.Type != models.PromotionOneTime {
			continue
		}
		result := tx.Model(&models.Promotion{}).
			Where("id = ? AND used = ?", promo.ID, false).
			Update("used", true)
		if result.Error != nil {
			return fmt.Errorf("ledger: claim promotion %d: %w", promo.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return conflictf("promotion %d claimed concurrently", promo.ID)
		}
	}
	return nil
}

// AdjustmentInput describes a manager-created manual correction.
type AdjustmentInput struct {
	CreatedBy string
	Utorid    string
	Amount    int
	RelatedID uint64
	Remark    string
}

// CreateAdjustment applies a signed correction to a user's balance,
// linked to the transaction being audited.
func (e *Engine) CreateAdjustment(ctx context.Context, input AdjustmentInput) (*models.Transaction, error) {
	if input.Amount == 0 {
		return nil, validationf("adjustment amount must be non-zero")
	}
	input.Utorid = strings.TrimSpace(input.Utorid)

	var row models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if errFind := lockForUpdate(tx).Where("utorid = ?", input.Utorid).First(&target).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("user %s", input.Utorid)
			}
			return fmt.Errorf("ledger: find user: %w", errFind)
		}
		var related models.Transaction
		if errFind := tx.Select("id").Where("id = ?", input.RelatedID).First(&related).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("related transaction %d", input.RelatedID)
			}
			return fmt.Errorf("ledger: find related transaction: %w", errFind)
		}

		row = models.Transaction{
			Type:      models.TransactionAdjustment,
			Utorid:    target.Utorid,
			Amount:    input.Amount,
			RelatedID: &input.RelatedID,
			Remark:    input.Remark,
			CreatedBy: input.CreatedBy,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("ledger: create adjustment: %w", errCreate)
		}
		return creditPoints(tx, target.Utorid, input.Amount)
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// TransferInput describes a member-to-member transfer.
type TransferInput struct {
	Sender    string
	Recipient string
	Amount    int
	Remark    string
}

// CreateTransfer moves points between two users, writing a sender row
// and a recipient row that reference each other. Debit and credit apply
// together or not at all.
func (e *Engine) CreateTransfer(ctx context.Context, input TransferInput) (*models.Transaction, error) {
	if input.Amount < 0 {
		return nil, validationf("transfer amount must not be negative, got %d", input.Amount)
	}
	input.Sender = strings.TrimSpace(input.Sender)
	input.Recipient = strings.TrimSpace(input.Recipient)
	if input.Sender == input.Recipient {
		return nil, validationf("cannot transfer to self")
	}

	var senderRow models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sender models.User
		if errFind := lockForUpdate(tx).Where("utorid = ?", input.Sender).First(&sender).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("user %s", input.Sender)
			}
			return fmt.Errorf("ledger: find sender: %w", errFind)
		}
		if !sender.Verified {
			return authorizationf("sender %s is not verified", input.Sender)
		}
		var recipient models.User
		if errFind := lockForUpdate(tx).Where("utorid = ?", input.Recipient).First(&recipient).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("user %s", input.Recipient)
			}
			return fmt.Errorf("ledger: find recipient: %w", errFind)
		}

		if errDebit := debitPoints(tx, sender.Utorid, input.Amount); errDebit != nil {
			return errDebit
		}
		if errCredit := creditPoints(tx, recipient.Utorid, input.Amount); errCredit != nil {
			return errCredit
		}

		sent := input.Amount
		senderRow = models.Transaction{
			Type:      models.TransactionTransfer,
			Utorid:    sender.Utorid,
			Amount:    -input.Amount,
			Sent:      &sent,
			Sender:    sender.Utorid,
			Recipient: recipient.Utorid,
			Remark:    input.Remark,
			CreatedBy: sender.Utorid,
		}
		if errCreate := tx.Create(&senderRow).Error; errCreate != nil {
			return fmt.Errorf("ledger: create sender row: %w", errCreate)
		}
		recipientRow := models.Transaction{
			Type:      models.TransactionTransfer,
			Utorid:    recipient.Utorid,
			Amount:    input.Amount,
			Sender:    sender.Utorid,
			Recipient: recipient.Utorid,
			RelatedID: &senderRow.ID,
			Remark:    input.Remark,
			CreatedBy: sender.Utorid,
		}
		if errCreate := tx.Create(&recipientRow).Error; errCreate != nil {
			return fmt.Errorf("ledger: create recipient row: %w", errCreate)
		}
		if errLink := tx.Model(&senderRow).Update("related_id", recipientRow.ID).Error; errLink != nil {
			return fmt.Errorf("ledger: link transfer rows: %w", errLink)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &senderRow, nil
}

// RedemptionInput describes a member's cash-out request.
type RedemptionInput struct {
	Utorid string
	Amount int
	Remark string
}

// CreateRedemption records a redemption request. No points move until a
// cashier processes it.
func (e *Engine) CreateRedemption(ctx context.Context, input RedemptionInput) (*models.Transaction, error) {
	if input.Amount < 0 {
		return nil, validationf("redemption amount must not be negative, got %d", input.Amount)
	}
	input.Utorid = strings.TrimSpace(input.Utorid)

	var row models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if errFind := tx.Where("utorid = ?", input.Utorid).First(&owner).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("user %s", input.Utorid)
			}
			return fmt.Errorf("ledger: find user: %w", errFind)
		}
		if input.Amount > owner.Points {
			return insufficientf("balance %d below requested %d", owner.Points, input.Amount)
		}

		redeemed := input.Amount
		row = models.Transaction{
			Type:      models.TransactionRedemption,
			Utorid:    owner.Utorid,
			Amount:    -input.Amount,
			Redeemed:  &redeemed,
			Remark:    input.Remark,
			CreatedBy: owner.Utorid,
		}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("ledger: create redemption: %w", errCreate)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// ProcessRedemption fulfils a pending redemption: setting processedBy
// and debiting the owner happen in one transaction, and the
// processedBy write is a compare-and-set so two concurrent cashiers
// cannot both fulfil the same request.
func (e *Engine) ProcessRedemption(ctx context.Context, actor string, transactionID uint64) (*models.Transaction, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, validationf("missing processing actor")
	}

	var row models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errFind := lockForUpdate(tx).Where("id = ?", transactionID).First(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("transaction %d", transactionID)
			}
			return fmt.Errorf("ledger: find transaction: %w", errFind)
		}
		if row.Type != models.TransactionRedemption {
			return validationf("transaction %d is not a redemption", transactionID)
		}

		result := tx.Model(&models.Transaction{}).
			Where("id = ? AND processed_by IS NULL", transactionID).
			Update("processed_by", actor)
		if result.Error != nil {
			return fmt.Errorf("ledger: mark processed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return conflictf("redemption %d already processed", transactionID)
		}

		redeemed := 0
		if row.Redeemed != nil {
			redeemed = *row.Redeemed
		}
		if errDebit := debitPoints(tx, row.Utorid, redeemed); errDebit != nil {
			return errDebit
		}
		row.ProcessedBy = &actor
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &row, nil
}

// AwardEventInput describes an organizer handing out event points.
// A nil Utorid broadcasts the amount to every guest.
type AwardEventInput struct {
	CreatedBy string
	EventID   uint64
	Utorid    *string
	Amount    int
	Remark    string
}

// AwardEventPoints distributes points from an event's budget. The pool
// decrement is guarded, so concurrent awards cannot overdraw it.
func (e *Engine) AwardEventPoints(ctx context.Context, input AwardEventInput) ([]models.Transaction, error) {
	if input.Amount <= 0 {
		return nil, validationf("award amount must be positive, got %d", input.Amount)
	}

	var rows []models.Transaction
	errTx := e.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if errFind := tx.Preload("Guests").Where("id = ?", input.EventID).First(&event).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return notFoundf("event %d", input.EventID)
			}
			return fmt.Errorf("ledger: find event: %w", errFind)
		}

		recipients := make([]string, 0, len(event.Guests))
		if input.Utorid != nil {
			target := strings.TrimSpace(*input.Utorid)
			if !event.HasGuest(target) {
				return validationf("user %s is not a guest of event %d", target, input.EventID)
			}
			recipients = append(recipients, target)
		} else {
			if len(event.Guests) == 0 {
				return validationf("event %d has no guests to award", input.EventID)
			}
			for _, guest := range event.Guests {
				recipients = append(recipients, guest.Utorid)
			}
		}

		total := input.Amount * len(recipients)
		result := tx.Model(&models.Event{}).
			Where("id = ? AND points_remain >= ?", event.ID, total).
			Updates(map[string]any{
				"points_remain":  gorm.Expr("points_remain - ?", total),
				"points_awarded": gorm.Expr("points_awarded + ?", total),
			})
		if result.Error != nil {
			return fmt.Errorf("ledger: decrement event pool: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return insufficientf("event %d pool below %d", event.ID, total)
		}

		earned := input.Amount
		eventID := event.ID
		for _, recipient := range recipients {
			row := models.Transaction{
				Type:      models.TransactionEvent,
				Utorid:    recipient,
				Amount:    earned,
				Earned:    &earned,
				RelatedID: &eventID,
				Remark:    input.Remark,
				CreatedBy: input.CreatedBy,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return fmt.Errorf("ledger: create event award: %w", errCreate)
			}
			if errCredit := creditPoints(tx, recipient, earned); errCredit != nil {
				return errCredit
			}
			rows = append(rows, row)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return rows, nil
}

// creditPoints adds to a user's balance unconditionally.
func creditPoints(tx *gorm.DB, utorid string, amount int) error {
	result := tx.Model(&models.User{}).
		Where("utorid = ?", utorid).
		Update("points", gorm.Expr("points + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("ledger: credit %s: %w", utorid, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundf("user %s", utorid)
	}
	return nil
}

// debitPoints subtracts from a user's balance with a sufficiency guard.
// The guard and the write are one statement, so concurrent spends
// cannot both pass against a stale balance.
func debitPoints(tx *gorm.DB, utorid string, amount int) error {
	result := tx.Model(&models.User{}).
		Where("utorid = ? AND points >= ?", utorid, amount).
		Update("points", gorm.Expr("points - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("ledger: debit %s: %w", utorid, result.Error)
	}
	if result.RowsAffected == 0 {
		return insufficientf("user %s cannot cover %d", utorid, amount)
	}
	return nil
}
