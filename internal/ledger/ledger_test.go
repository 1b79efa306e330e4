package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/sportsbook-core/internal/domain"
	"github.com/radieske/sportsbook-core/internal/shared/apperr"
	"github.com/radieske/sportsbook-core/internal/storage"
	"github.com/radieske/sportsbook-core/internal/storage/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.AddCustomer("c1")
	return New(store, zaptest.NewLogger(t), nil), store
}

func TestBalanceIsDerivedFromEntries(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	if _, err := l.Deposit(ctx, "c1", d("100"), "DEP-1"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Debit(ctx, "c1", d("30.555"), domain.RefBetStake, "BET-1"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := l.CreditPayout(ctx, "c1", d("56.50"), "BET-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := l.RefundStake(ctx, "c1", d("10"), "BET-2"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	bal, err := l.Balance(ctx, "c1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	// 100 - 30.56 + 56.50 + 10
	if !bal.Equal(d("135.94")) {
		t.Fatalf("balance = %s", bal)
	}

	entries, _ := l.List(ctx, "c1", storage.Page{})
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
		if e.Currency != "SEK" {
			t.Fatalf("currency = %s", e.Currency)
		}
	}
	if !sum.Equal(bal) {
		t.Fatalf("sum of entries %s != balance %s", sum, bal)
	}
	if entries[0].Type != domain.EntryRefund {
		t.Fatalf("expected newest entry first, got %s", entries[0].Type)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	_, _ = l.Deposit(ctx, "c1", d("20"), "DEP-1")

	_, err := l.Debit(ctx, "c1", d("20.01"), domain.RefBetStake, "BET-1")
	var ife *apperr.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !ife.Available.Equal(d("20")) || !ife.Required.Equal(d("20.01")) {
		t.Fatalf("unexpected error fields %+v", ife)
	}
	bal, _ := l.Balance(ctx, "c1")
	if !bal.Equal(d("20")) {
		t.Fatalf("balance changed after failed debit: %s", bal)
	}
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	for _, amt := range []string{"0", "-5"} {
		if _, err := l.Debit(ctx, "c1", d(amt), domain.RefBetStake, "x"); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("debit %s: expected invalid argument, got %v", amt, err)
		}
		if _, err := l.CreditPayout(ctx, "c1", d(amt), "x"); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("credit %s: expected invalid argument, got %v", amt, err)
		}
	}
}

func TestSubCentAmountsAreRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	_, _ = l.Deposit(ctx, "c1", d("100"), "DEP-1")

	if _, err := l.Deposit(ctx, "c1", d("0.004"), "DEP-2"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("deposit: expected invalid argument, got %v", err)
	}
	if _, err := l.Debit(ctx, "c1", d("0.004"), domain.RefBetStake, "BET-1"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("debit: expected invalid argument, got %v", err)
	}
	if _, err := l.CreditPayout(ctx, "c1", d("0.001"), "BET-1"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("credit: expected invalid argument, got %v", err)
	}
	if _, err := l.RefundStake(ctx, "c1", d("0.0049"), "BET-1"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("refund: expected invalid argument, got %v", err)
	}

	entries, _ := l.List(ctx, "c1", storage.Page{})
	if len(entries) != 1 {
		t.Fatalf("expected only the initial deposit, got %d entries", len(entries))
	}
	for _, e := range entries {
		if !e.Amount.IsPositive() {
			t.Fatalf("non-positive entry persisted: %s", e.Amount.StringFixed(2))
		}
	}
}

func TestDepositIsIdempotentByExternalRef(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	first, err := l.Deposit(ctx, "c1", d("100"), "DEP-1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	again, err := l.Deposit(ctx, "c1", d("100.00"), "DEP-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("retry should return the original entry: %d vs %d", again.ID, first.ID)
	}
	if _, err := l.Deposit(ctx, "c1", d("200"), "DEP-1"); !errors.Is(err, apperr.ErrIdempotencyConflict) {
		t.Fatalf("expected conflict for different amount, got %v", err)
	}
	if _, err := l.Deposit(ctx, "c1", d("5"), " "); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for blank ref, got %v", err)
	}

	bal, _ := l.Balance(ctx, "c1")
	if !bal.Equal(d("100")) {
		t.Fatalf("balance = %s, deposit credited twice?", bal)
	}
}

func TestConcurrentDepositRetriesCreditOnce(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Deposit(ctx, "c1", d("25"), "DEP-RETRY"); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	bal, _ := l.Balance(ctx, "c1")
	if !bal.Equal(d("25")) {
		t.Fatalf("balance = %s", bal)
	}
}

func TestDepositUnknownCustomer(t *testing.T) {
	l, _ := newLedger(t)
	if _, err := l.Deposit(context.Background(), "ghost", d("1"), "DEP"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t)
	_, _ = l.Deposit(ctx, "c1", d("100"), "DEP-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, "c1", d("10"), domain.RefBetStake, "BET"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, apperr.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", ok)
	}
	bal, _ := l.Balance(ctx, "c1")
	if !bal.IsZero() {
		t.Fatalf("balance = %s", bal)
	}
}
