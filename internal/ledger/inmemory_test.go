package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestInMemoryLedger_CreateWalletOnce(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	w, err := l.CreateWallet(ctx, "u1", "")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if !w.Balance.IsZero() || w.Currency != DefaultCurrency {
		t.Fatalf("unexpected wallet %+v", w)
	}
	if _, err := l.CreateWallet(ctx, "u1", "USD"); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}

func TestInMemoryLedger_BalanceOfMissingWalletIsZero(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	bal, err := l.Balance(ctx, "ghost")
	if err != nil || !bal.IsZero() {
		t.Fatalf("expected zero balance, got %s err=%v", bal, err)
	}
	if _, err := l.Wallet(ctx, "ghost"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("balance read must not create a wallet, got %v", err)
	}
	if _, err := l.Credit(ctx, "ghost", "m1", dec(10)); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestInMemoryLedger_RejectsInvalidAmounts(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.CreateWallet(ctx, "u1", "")

	for _, amount := range []decimal.Decimal{decimal.Zero, dec(-5), decimal.RequireFromString("1.00005")} {
		if _, err := l.Credit(ctx, "u1", "c-"+amount.String(), amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("credit %s: expected ErrInvalidAmount, got %v", amount, err)
		}
		if _, err := l.Debit(ctx, "u1", "d-"+amount.String(), amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("debit %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestInMemoryLedger_CreditThenBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	created, _ := l.CreateWallet(ctx, "u1", "")

	bal, err := l.Credit(ctx, "u1", "seed", dec(100))
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if !bal.Equal(dec(100)) {
		t.Fatalf("expected 100, got %s", bal)
	}
	w, _ := l.Wallet(ctx, "u1")
	if w.UpdatedAt.Before(created.UpdatedAt) {
		t.Fatalf("updatedAt did not advance")
	}
}

func TestInMemoryLedger_DebitNeverOverdraws(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "u1", dec(100))

	bal, err := l.Debit(ctx, "u1", "w1", dec(150))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !bal.Equal(dec(100)) {
		t.Fatalf("balance changed on rejected debit: %s", bal)
	}
	if applied, _ := l.Applied(ctx, "w1"); applied {
		t.Fatalf("rejected debit must not be recorded")
	}
}

func TestInMemoryLedger_RandomSequenceKeepsBalanceNonNegative(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.CreateWallet(ctx, "u1", "")
	rng := rand.New(rand.NewSource(42))

	expected := decimal.Zero
	for i := 0; i < 2_000; i++ {
		amount := decimal.New(rng.Int63n(10_000)+1, -2)
		id := fmt.Sprintf("m-%d", i)
		if rng.Intn(2) == 0 {
			bal, err := l.Credit(ctx, "u1", id, amount)
			if err != nil {
				t.Fatalf("credit %d: %v", i, err)
			}
			expected = expected.Add(amount)
			if !bal.Equal(expected) {
				t.Fatalf("step %d: expected %s, got %s", i, expected, bal)
			}
			continue
		}
		bal, err := l.Debit(ctx, "u1", id, amount)
		switch {
		case err == nil:
			expected = expected.Sub(amount)
		case errors.Is(err, ErrInsufficientFunds):
			if !expected.LessThan(amount) {
				t.Fatalf("step %d: debit of %s rejected with balance %s", i, amount, expected)
			}
		default:
			t.Fatalf("debit %d: %v", i, err)
		}
		if bal.IsNegative() || !bal.Equal(expected) {
			t.Fatalf("step %d: expected %s, got %s", i, expected, bal)
		}
	}
}

func TestInMemoryLedger_CreditDebitRoundTrip(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "u1", decimal.RequireFromString("12.34"))

	for i, raw := range []string{"0.01", "1", "99.99", "12.34"} {
		amount := decimal.RequireFromString(raw)
		if _, err := l.Credit(ctx, "u1", fmt.Sprintf("c%d", i), amount); err != nil {
			t.Fatalf("credit: %v", err)
		}
		bal, err := l.Debit(ctx, "u1", fmt.Sprintf("d%d", i), amount)
		if err != nil {
			t.Fatalf("debit: %v", err)
		}
		if !bal.Equal(decimal.RequireFromString("12.34")) {
			t.Fatalf("round trip of %s ended at %s", raw, bal)
		}
	}
}

func TestInMemoryLedger_DuplicateMutationIsIdempotent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "u1", dec(50))

	first, err := l.Credit(ctx, "u1", "corr-1:credit", dec(25))
	if err != nil {
		t.Fatalf("initial credit failed: %v", err)
	}
	second, err := l.Credit(ctx, "u1", "corr-1:credit", dec(25))
	if !errors.Is(err, ErrDuplicateMutation) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if !first.Equal(second) || !second.Equal(dec(75)) {
		t.Fatalf("duplicate changed balance: first=%s second=%s", first, second)
	}

	if _, err := l.Debit(ctx, "u1", "corr-2:debit", dec(5)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	bal, err := l.Debit(ctx, "u1", "corr-2:debit", dec(5))
	if !errors.Is(err, ErrDuplicateMutation) || !bal.Equal(dec(70)) {
		t.Fatalf("expected duplicate debit at 70, got %s err=%v", bal, err)
	}
}

func TestInMemoryLedger_TransferMaintainsBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "u1", dec(100))
	l.CreateWallet(ctx, "u2", "")

	res, err := l.Transfer(ctx, "u1", "u2", "corr-1:transfer", dec(40))
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !res.FromBalance.Equal(dec(60)) || !res.ToBalance.Equal(dec(40)) {
		t.Fatalf("expected 60/40, got %s/%s", res.FromBalance, res.ToBalance)
	}

	again, err := l.Transfer(ctx, "u1", "u2", "corr-1:transfer", dec(40))
	if !errors.Is(err, ErrDuplicateMutation) {
		t.Fatalf("expected duplicate transfer, got %v", err)
	}
	if !again.FromBalance.Equal(dec(60)) || !again.ToBalance.Equal(dec(40)) {
		t.Fatalf("duplicate transfer moved money: %s/%s", again.FromBalance, again.ToBalance)
	}
	if applied, _ := l.Applied(ctx, "corr-1:transfer"); !applied {
		t.Fatalf("expected transfer to be recorded as applied")
	}
}

func TestInMemoryLedger_TransferRejections(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "u1", dec(10))
	l.CreateWallet(ctx, "u2", "")

	if _, err := l.Transfer(ctx, "u1", "u2", "t1", dec(11)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := l.Transfer(ctx, "u1", "ghost", "t2", dec(1)); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	if _, err := l.Transfer(ctx, "u1", "u1", "t3", dec(1)); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	if bal, _ := l.Balance(ctx, "u1"); !bal.Equal(dec(10)) {
		t.Fatalf("rejected transfers changed balance: %s", bal)
	}
}

func TestInMemoryLedger_ConcurrentDebitsSerializePerOwner(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	SeedBalance(l, "u1", dec(100))

	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Debit(ctx, "u1", fmt.Sprintf("debit-%d", i), dec(70))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 1 || rejected.Load() != 1 {
		t.Fatalf("expected exactly one debit to succeed, got %d ok / %d rejected", succeeded.Load(), rejected.Load())
	}
	if bal, _ := l.Balance(ctx, "u1"); !bal.Equal(dec(30)) {
		t.Fatalf("expected 30, got %s", bal)
	}
}

func TestInMemoryLedger_ConcurrentTransfers(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	owners := []string{"a", "b", "c", "d", "e"}
	for _, o := range owners {
		SeedBalance(l, o, dec(1_000))
	}

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := owners[i%len(owners)]
			to := owners[(i+1+i/len(owners))%len(owners)]
			if from == to {
				return
			}
			_, err := l.Transfer(ctx, from, to, fmt.Sprintf("tx-%d", i), dec(int64(i%7+1)))
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("transfer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, o := range owners {
		bal, _ := l.Balance(ctx, o)
		if bal.IsNegative() {
			t.Fatalf("owner %s went negative: %s", o, bal)
		}
		total = total.Add(bal)
	}
	if !total.Equal(dec(5_000)) {
		t.Fatalf("ledger not balanced, total=%s", total)
	}
}
