package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/campusloop/loyalty/internal/models"
)

// pointsPerDollar is the base accrual rate: one point per $0.25 spent.
var pointsPerDollar = decimal.RequireFromString("0.25")

// BasePoints returns the promotion-free points for a purchase amount,
// rounded half away from zero.
func BasePoints(spent float64) int {
	return int(decimal.NewFromFloat(spent).Div(pointsPerDollar).Round(0).IntPart())
}

// Quote is the outcome of evaluating a purchase against its promotions.
// It is a pure computation; claiming one-time promotions happens later
// inside the engine's database transaction.
type Quote struct {
	Base       int
	Bonus      int
	Promotions []models.Promotion
}

// Earned is the total points the purchase yields.
func (q Quote) Earned() int { return q.Base + q.Bonus }

// EvaluatePurchase fetches the referenced promotions and computes the
// earned total for the spend. Any unknown, expired, unmet, or already
// consumed promotion rejects the whole purchase with no partial credit.
func EvaluatePurchase(ctx context.Context, tx *gorm.DB, spent float64, promotionIDs []uint64, now time.Time) (Quote, error) {
	quote := Quote{Base: BasePoints(spent)}
	if len(promotionIDs) == 0 {
		return quote, nil
	}

	// The fetch returns one row per distinct ID, so a duplicate in the
	// request makes the counts disagree and rejects the purchase along
	// with unknown IDs.
	var promos []models.Promotion
	if errFind := tx.WithContext(ctx).Where("id IN ?", promotionIDs).Find(&promos).Error; errFind != nil {
		return Quote{}, fmt.Errorf("ledger: load promotions: %w", errFind)
	}
	if len(promos) != len(promotionIDs) {
		return Quote{}, promotionf("unknown or duplicate promotion in request")
	}

	spentDec := decimal.NewFromFloat(spent)
	bonus := decimal.Zero
	for _, promo := range promos {
		if !promo.ActiveAt(now) {
			return Quote{}, promotionf("promotion %d outside its window", promo.ID)
		}
		if promo.MinSpending != nil && spent < *promo.MinSpending {
			return Quote{}, promotionf("promotion %d requires spending %.2f", promo.ID, *promo.MinSpending)
		}
		if promo.Type == models.PromotionOneTime && promo.Used {
			return Quote{}, promotionf("promotion %d already used", promo.ID)
		}
		if promo.Rate != nil {
			bonus = bonus.Add(spentDec.Mul(decimal.NewFromFloat(*promo.Rate)).Floor())
		}
		if promo.Points != nil {
			bonus = bonus.Add(decimal.NewFromInt(int64(*promo.Points)))
		}
	}
	quote.Bonus = int(bonus.IntPart())
	quote.Promotions = promos
	return quote, nil
}
