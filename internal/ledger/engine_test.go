package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/campusloop/loyalty/internal/models"
)

func TestCreatePurchaseBaseEarning(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 0, false)

	row, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy: "cashier1",
		Utorid:    "member01",
		Spent:     100,
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if row.Earned == nil || *row.Earned != 400 {
		t.Fatalf("earned = %v, want 400", row.Earned)
	}
	if got := balanceOf(t, e, "member01"); got != 400 {
		t.Fatalf("balance = %d, want 400", got)
	}
}

func TestCreatePurchaseRejectsNonPositiveSpend(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 0, false)

	if _, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy: "cashier1",
		Utorid:    "member01",
		Spent:     0,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreatePurchaseSuspiciousCreator(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 0, false)

	row, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy:         "cashier1",
		CreatorSuspicious: true,
		Utorid:            "member01",
		Spent:             100,
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if row.Earned == nil || *row.Earned != 400 {
		t.Fatalf("computed earned should be stored, got %v", row.Earned)
	}
	if !row.Suspicious {
		t.Fatal("row should carry the suspicious flag")
	}
	if got := balanceOf(t, e, "member01"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}

	// Clearing the flag later credits the stored value exactly once.
	if _, errToggle := e.SetSuspicious(context.Background(), row.ID, false); errToggle != nil {
		t.Fatalf("SetSuspicious: %v", errToggle)
	}
	if got := balanceOf(t, e, "member01"); got != 400 {
		t.Fatalf("balance after clearing = %d, want 400", got)
	}
}

func TestCreatePurchaseOneTimeExclusivity(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 0, false)
	seedUser(t, e, "member02", 0, false)
	flat := 25
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionOneTime, Points: &flat})

	first, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy:    "cashier1",
		Utorid:       "member01",
		Spent:        10,
		PromotionIDs: []uint64{promo.ID},
	})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if first.Earned == nil || *first.Earned != 40+25 {
		t.Fatalf("earned = %v, want 65", first.Earned)
	}

	_, err = e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy:    "cashier1",
		Utorid:       "member02",
		Spent:        10,
		PromotionIDs: []uint64{promo.ID},
	})
	if !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("expected promotion eligibility error, got %v", err)
	}
	if got := balanceOf(t, e, "member02"); got != 0 {
		t.Fatalf("rejected purchase must not credit, balance = %d", got)
	}

	var linkCount int64
	if errCount := e.conn.Table("transaction_promotions").Count(&linkCount).Error; errCount != nil {
		t.Fatalf("count links: %v", errCount)
	}
	if linkCount != 1 {
		t.Fatalf("promotion links = %d, want 1", linkCount)
	}
}

func TestCreatePurchaseRejectsDuplicatePromotionIDs(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 0, false)
	flat := 25
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionAutomatic, Points: &flat})

	_, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy:    "cashier1",
		Utorid:       "member01",
		Spent:        10,
		PromotionIDs: []uint64{promo.ID, promo.ID},
	})
	if !errors.Is(err, ErrPromotionEligibility) {
		t.Fatalf("duplicate promotion ids should reject the purchase, got %v", err)
	}
	if got := balanceOf(t, e, "member01"); got != 0 {
		t.Fatalf("rejected purchase must not credit, balance = %d", got)
	}
}

func TestCreateAdjustment(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 100, false)
	purchase, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy: "cashier1", Utorid: "member01", Spent: 5,
	})
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	row, err := e.CreateAdjustment(context.Background(), AdjustmentInput{
		CreatedBy: "manager1",
		Utorid:    "member01",
		Amount:    -30,
		RelatedID: purchase.ID,
	})
	if err != nil {
		t.Fatalf("CreateAdjustment: %v", err)
	}
	if row.Amount != -30 {
		t.Fatalf("amount = %d, want -30", row.Amount)
	}
	if got := balanceOf(t, e, "member01"); got != 100+20-30 {
		t.Fatalf("balance = %d, want 90", got)
	}

	if _, err := e.CreateAdjustment(context.Background(), AdjustmentInput{
		CreatedBy: "manager1", Utorid: "member01", Amount: 5, RelatedID: purchase.ID + 99,
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for dangling relatedId, got %v", err)
	}
}

func TestCreateTransferConservation(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "sender01", 500, true)
	seedUser(t, e, "recip01", 10, false)

	row, err := e.CreateTransfer(context.Background(), TransferInput{
		Sender:    "sender01",
		Recipient: "recip01",
		Amount:    200,
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if row.Sent == nil || *row.Sent != 200 {
		t.Fatalf("sent = %v, want 200", row.Sent)
	}
	if balanceOf(t, e, "sender01") != 300 || balanceOf(t, e, "recip01") != 210 {
		t.Fatalf("balances = %d/%d, want 300/210",
			balanceOf(t, e, "sender01"), balanceOf(t, e, "recip01"))
	}

	var rows []models.Transaction
	if errFind := e.conn.Where("type = ?", models.TransactionTransfer).Order("id").Find(&rows).Error; errFind != nil {
		t.Fatalf("list transfer rows: %v", errFind)
	}
	if len(rows) != 2 {
		t.Fatalf("transfer rows = %d, want 2", len(rows))
	}
	if rows[0].RelatedID == nil || *rows[0].RelatedID != rows[1].ID {
		t.Fatal("sender row should reference recipient row")
	}
	if rows[1].RelatedID == nil || *rows[1].RelatedID != rows[0].ID {
		t.Fatal("recipient row should reference sender row")
	}
}

func TestCreateTransferRequiresVerifiedSender(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "sender01", 500, false)
	seedUser(t, e, "recip01", 0, false)

	if _, err := e.CreateTransfer(context.Background(), TransferInput{
		Sender: "sender01", Recipient: "recip01", Amount: 10,
	}); !errors.Is(err, ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestCreateTransferBoundary(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "sender01", 100, true)
	seedUser(t, e, "recip01", 0, false)

	if _, err := e.CreateTransfer(context.Background(), TransferInput{
		Sender: "sender01", Recipient: "recip01", Amount: 101,
	}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if balanceOf(t, e, "sender01") != 100 || balanceOf(t, e, "recip01") != 0 {
		t.Fatal("failed transfer must not move points")
	}

	if _, err := e.CreateTransfer(context.Background(), TransferInput{
		Sender: "sender01", Recipient: "recip01", Amount: 100,
	}); err != nil {
		t.Fatalf("exact-balance transfer should succeed: %v", err)
	}
	if balanceOf(t, e, "sender01") != 0 || balanceOf(t, e, "recip01") != 100 {
		t.Fatal("exact-balance transfer should drain sender")
	}
}

func TestRedemptionTwoPhase(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 500, false)

	row, err := e.CreateRedemption(context.Background(), RedemptionInput{
		Utorid: "member01",
		Amount: 200,
	})
	if err != nil {
		t.Fatalf("CreateRedemption: %v", err)
	}
	if row.ProcessedBy != nil {
		t.Fatal("new redemption must be pending")
	}
	if got := balanceOf(t, e, "member01"); got != 500 {
		t.Fatalf("creation must not debit, balance = %d", got)
	}

	processed, err := e.ProcessRedemption(context.Background(), "cashier1", row.ID)
	if err != nil {
		t.Fatalf("ProcessRedemption: %v", err)
	}
	if processed.ProcessedBy == nil || *processed.ProcessedBy != "cashier1" {
		t.Fatalf("processedBy = %v, want cashier1", processed.ProcessedBy)
	}
	if got := balanceOf(t, e, "member01"); got != 300 {
		t.Fatalf("balance = %d, want 300", got)
	}

	if _, err := e.ProcessRedemption(context.Background(), "cashier2", row.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("second processing should conflict, got %v", err)
	}
	if got := balanceOf(t, e, "member01"); got != 300 {
		t.Fatalf("double processing must not debit again, balance = %d", got)
	}
}

func TestCreateRedemptionBoundary(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 100, false)

	if _, err := e.CreateRedemption(context.Background(), RedemptionInput{
		Utorid: "member01", Amount: 101,
	}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := e.CreateRedemption(context.Background(), RedemptionInput{
		Utorid: "member01", Amount: 100,
	}); err != nil {
		t.Fatalf("exact-balance request should succeed: %v", err)
	}
}

func TestProcessRedemptionRejectsOtherTypes(t *testing.T) {
	e := newTestEngine(t)
	seedUser(t, e, "member01", 0, false)
	purchase, err := e.CreatePurchase(context.Background(), PurchaseInput{
		CreatedBy: "cashier1", Utorid: "member01", Spent: 1,
	})
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	if _, err := e.ProcessRedemption(context.Background(), "cashier1", purchase.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func seedEvent(t *testing.T, e *Engine, pool int, guests ...*models.User) *models.Event {
	t.Helper()
	event := models.Event{
		Name:         "orientation",
		Description:  "welcome night",
		Location:     "main hall",
		PointsRemain: pool,
		Published:    true,
	}
	for _, guest := range guests {
		event.Guests = append(event.Guests, *guest)
	}
	if err := e.conn.Create(&event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return &event
}

func TestAwardEventBroadcast(t *testing.T) {
	e := newTestEngine(t)
	guests := []*models.User{
		seedUser(t, e, "guest01", 0, false),
		seedUser(t, e, "guest02", 0, false),
		seedUser(t, e, "guest03", 0, false),
		seedUser(t, e, "guest04", 0, false),
	}
	event := seedEvent(t, e, 1000, guests...)

	rows, err := e.AwardEventPoints(context.Background(), AwardEventInput{
		CreatedBy: "organizer1",
		EventID:   event.ID,
		Amount:    50,
	})
	if err != nil {
		t.Fatalf("AwardEventPoints: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	for _, guest := range guests {
		if got := balanceOf(t, e, guest.Utorid); got != 50 {
			t.Fatalf("guest %s balance = %d, want 50", guest.Utorid, got)
		}
	}

	var reloaded models.Event
	if errFind := e.conn.Where("id = ?", event.ID).First(&reloaded).Error; errFind != nil {
		t.Fatalf("reload event: %v", errFind)
	}
	if reloaded.PointsRemain != 800 || reloaded.PointsAwarded != 200 {
		t.Fatalf("pool = %d/%d, want 800/200", reloaded.PointsRemain, reloaded.PointsAwarded)
	}
}

func TestAwardEventSingleRecipient(t *testing.T) {
	e := newTestEngine(t)
	guest := seedUser(t, e, "guest01", 0, false)
	seedUser(t, e, "outsider", 0, false)
	event := seedEvent(t, e, 100, guest)

	target := "guest01"
	if _, err := e.AwardEventPoints(context.Background(), AwardEventInput{
		CreatedBy: "organizer1",
		EventID:   event.ID,
		Utorid:    &target,
		Amount:    60,
	}); err != nil {
		t.Fatalf("AwardEventPoints: %v", err)
	}
	if got := balanceOf(t, e, "guest01"); got != 60 {
		t.Fatalf("balance = %d, want 60", got)
	}

	stranger := "outsider"
	if _, err := e.AwardEventPoints(context.Background(), AwardEventInput{
		CreatedBy: "organizer1",
		EventID:   event.ID,
		Utorid:    &stranger,
		Amount:    10,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("non-guest award should fail validation, got %v", err)
	}

	// Awarding again to the same guest is allowed; only the pool limits it.
	if _, err := e.AwardEventPoints(context.Background(), AwardEventInput{
		CreatedBy: "organizer1",
		EventID:   event.ID,
		Utorid:    &target,
		Amount:    50,
	}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw should fail with insufficient funds, got %v", err)
	}
	if _, err := e.AwardEventPoints(context.Background(), AwardEventInput{
		CreatedBy: "organizer1",
		EventID:   event.ID,
		Utorid:    &target,
		Amount:    40,
	}); err != nil {
		t.Fatalf("within-pool repeat award should succeed: %v", err)
	}
}

func TestAwardEventBroadcastNeedsGuests(t *testing.T) {
	e := newTestEngine(t)
	event := seedEvent(t, e, 100)

	if _, err := e.AwardEventPoints(context.Background(), AwardEventInput{
		CreatedBy: "organizer1",
		EventID:   event.ID,
		Amount:    10,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("broadcast without guests should fail, got %v", err)
	}
}
