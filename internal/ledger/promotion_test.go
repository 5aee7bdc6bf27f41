package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusloop/loyalty/internal/models"
)

func TestBasePoints(t *testing.T) {
	cases := []struct {
		spent float64
		want  int
	}{
		{100, 400},
		{0.25, 1},
		{0.30, 1},
		{0.37, 1},
		{0.38, 2},
		{19.99, 80},
	}
	for _, tc := range cases {
		if got := BasePoints(tc.spent); got != tc.want {
			t.Fatalf("BasePoints(%v) = %d, want %d", tc.spent, got, tc.want)
		}
	}
}

func TestEvaluatePurchaseStacking(t *testing.T) {
	e := newTestEngine(t)
	rate := 2.0
	flat := 50
	ratePromo := seedPromotion(t, e, models.Promotion{Type: models.PromotionAutomatic, Rate: &rate})
	flatPromo := seedPromotion(t, e, models.Promotion{Type: models.PromotionAutomatic, Points: &flat})

	quote, err := EvaluatePurchase(context.Background(), e.conn, 100, []uint64{ratePromo.ID, flatPromo.ID}, time.Now())
	if err != nil {
		t.Fatalf("EvaluatePurchase: %v", err)
	}
	if quote.Base != 400 {
		t.Fatalf("base = %d, want 400", quote.Base)
	}
	if quote.Bonus != 250 {
		t.Fatalf("bonus = %d, want 250", quote.Bonus)
	}
	if quote.Earned() != 650 {
		t.Fatalf("earned = %d, want 650", quote.Earned())
	}
}

func TestEvaluatePurchaseUnknownID(t *testing.T) {
	e := newTestEngine(t)
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionAutomatic})

	_, err := EvaluatePurchase(context.Background(), e.conn, 10, []uint64{promo.ID, promo.ID + 99}, time.Now())
	if !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("expected promotion eligibility error, got %v", err)
	}
}

func TestEvaluatePurchaseWindow(t *testing.T) {
	e := newTestEngine(t)
	expired := seedPromotion(t, e, models.Promotion{
		Type:      models.PromotionAutomatic,
		StartTime: time.Now().Add(-2 * time.Hour),
		EndTime:   time.Now().Add(-time.Hour),
	})

	_, err := EvaluatePurchase(context.Background(), e.conn, 10, []uint64{expired.ID}, time.Now())
	if !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("expected promotion eligibility error, got %v", err)
	}
}

func TestEvaluatePurchaseMinSpending(t *testing.T) {
	e := newTestEngine(t)
	minSpend := 50.0
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionAutomatic, MinSpending: &minSpend})

	if _, err := EvaluatePurchase(context.Background(), e.conn, 49.99, []uint64{promo.ID}, time.Now()); !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("expected promotion eligibility error, got %v", err)
	}
	if _, err := EvaluatePurchase(context.Background(), e.conn, 50, []uint64{promo.ID}, time.Now()); err != nil {
		t.Fatalf("boundary spend should qualify: %v", err)
	}
}

func TestEvaluatePurchaseDuplicateIDs(t *testing.T) {
	e := newTestEngine(t)
	flat := 25
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionAutomatic, Points: &flat})

	// Listing the same promotion twice must not apply it once quietly.
	_, err := EvaluatePurchase(context.Background(), e.conn, 10, []uint64{promo.ID, promo.ID}, time.Now())
	if !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("expected promotion eligibility error, got %v", err)
	}
}

func TestEvaluatePurchaseUsedOneTime(t *testing.T) {
	e := newTestEngine(t)
	flat := 10
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionOneTime, Points: &flat, Used: true})

	_, err := EvaluatePurchase(context.Background(), e.conn, 10, []uint64{promo.ID}, time.Now())
	if !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("expected promotion eligibility error, got %v", err)
	}
}
