package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/campusloop/loyalty/internal/models"
)

// capConnections limits the pool to one connection so the in-memory
// database never reports busy to a racing writer. The goroutines still
// race through the engine; the guarded updates decide the loser.
func capConnections(t *testing.T, e *Engine) {
	t.Helper()
	sqlDB, err := e.conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
}

func TestConcurrentTransfersSingleWinner(t *testing.T) {
	e := newTestEngine(t)
	capConnections(t, e)
	seedUser(t, e, "sender01", 100, true)
	seedUser(t, e, "recip01", 0, false)
	seedUser(t, e, "recip02", 0, false)

	recipients := []string{"recip01", "recip02"}
	errs := make([]error, len(recipients))
	var wg sync.WaitGroup
	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient string) {
			defer wg.Done()
			_, errs[i] = e.CreateTransfer(context.Background(), TransferInput{
				Sender: "sender01", Recipient: recipient, Amount: 100,
			})
		}(i, recipient)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("loser %d failed with %v, want insufficient funds", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if got := balanceOf(t, e, "sender01"); got != 0 {
		t.Fatalf("sender balance = %d, want 0", got)
	}
	if total := balanceOf(t, e, "recip01") + balanceOf(t, e, "recip02"); total != 100 {
		t.Fatalf("recipients received %d total, want 100", total)
	}
}

func TestConcurrentProcessRedemptionSingleWinner(t *testing.T) {
	e := newTestEngine(t)
	capConnections(t, e)
	seedUser(t, e, "member01", 500, false)

	row, err := e.CreateRedemption(context.Background(), RedemptionInput{
		Utorid: "member01", Amount: 200,
	})
	if err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	cashiers := []string{"cashier1", "cashier2"}
	errs := make([]error, len(cashiers))
	var wg sync.WaitGroup
	for i, cashier := range cashiers {
		wg.Add(1)
		go func(i int, cashier string) {
			defer wg.Done()
			_, errs[i] = e.ProcessRedemption(context.Background(), cashier, row.ID)
		}(i, cashier)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("loser %d failed with %v, want conflict", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if got := balanceOf(t, e, "member01"); got != 300 {
		t.Fatalf("balance = %d, want a single 200 debit to 300", got)
	}
}

func TestConcurrentOneTimePromotionClaim(t *testing.T) {
	e := newTestEngine(t)
	capConnections(t, e)
	seedUser(t, e, "member01", 0, false)
	seedUser(t, e, "member02", 0, false)
	flat := 25
	promo := seedPromotion(t, e, models.Promotion{Type: models.PromotionOneTime, Points: &flat})

	buyers := []string{"member01", "member02"}
	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			_, errs[i] = e.CreatePurchase(context.Background(), PurchaseInput{
				CreatedBy:    "cashier1",
				Utorid:       buyer,
				Spent:        10,
				PromotionIDs: []uint64{promo.ID},
			})
		}(i, buyer)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		if err == nil {
			winners++
			continue
		}
		// The loser is rejected before the claim when the winner already
		// committed, or at the guarded claim when it has not.
		if !errors.Is(err, ErrPromotionEligibility) && !errors.Is(err, ErrConflict) {
			t.Fatalf("loser %d failed with %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	var linkCount int64
	if errCount := e.conn.Table("transaction_promotions").Count(&linkCount).Error; errCount != nil {
		t.Fatalf("count links: %v", errCount)
	}
	if linkCount != 1 {
		t.Fatalf("promotion links = %d, want 1", linkCount)
	}
	if total := balanceOf(t, e, "member01") + balanceOf(t, e, "member02"); total != 40+25 {
		t.Fatalf("credited total = %d, want 65 for the single winner", total)
	}
}
