package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundflow/internal/ledger"
)

func TestServiceCreateAndBalance(t *testing.T) {
	led := ledger.NewInMemory()
	svc := NewService(NewMemoryRepository(), led)

	ctx := context.Background()
	ownerID := uuid.NewString()
	w, err := svc.Create(ctx, ownerID, "USD")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if w.OwnerID != ownerID || w.Currency != "USD" {
		t.Fatalf("unexpected wallet %+v", w)
	}
	if _, err := svc.Create(ctx, ownerID, "USD"); !errors.Is(err, ledger.ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}

	ledger.SeedBalance(led, ownerID, decimal.NewFromInt(2_500))

	balance, err := svc.Balance(ctx, ownerID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(2_500)) || balance.Currency != "USD" {
		t.Fatalf("expected balance 2500 USD, got %s %s", balance.Amount, balance.Currency)
	}
}

func TestServiceRejectsUnsupportedCurrency(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	if _, err := svc.Create(context.Background(), "u1", "XAF"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestFirstPaymentMethodBecomesDefault(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	ctx := context.Background()

	first, err := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindCard, Number: "4111111111111111"})
	if err != nil {
		t.Fatalf("add method: %v", err)
	}
	if !first.IsDefault || first.MaskedDetails != "****1111" {
		t.Fatalf("unexpected first method %+v", first)
	}

	second, err := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindDigitalWallet})
	if err != nil {
		t.Fatalf("add method: %v", err)
	}
	if second.IsDefault || second.MaskedDetails != "N/A" {
		t.Fatalf("unexpected second method %+v", second)
	}

	other, _ := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u2", Kind: KindCard, Number: "12"})
	if !other.IsDefault || other.MaskedDetails != "****12" {
		t.Fatalf("each owner gets its own default, got %+v", other)
	}
}

func TestSetDefaultKeepsSingleDefault(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	ctx := context.Background()

	a, _ := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindCard, Number: "1111"})
	b, _ := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindCard, Number: "2222"})

	if _, err := svc.SetDefaultPaymentMethod(ctx, "u1", b.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	methods, _ := svc.PaymentMethods(ctx, "u1")
	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
			if m.ID != b.ID {
				t.Fatalf("expected %s to be default, got %s", b.ID, m.ID)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("expected exactly one default, got %d", defaults)
	}

	if _, err := svc.SetDefaultPaymentMethod(ctx, "u2", a.ID); !errors.Is(err, ErrPaymentMethodNotFound) {
		t.Fatalf("another owner's method must not be selectable, got %v", err)
	}
}

func TestRemovingDefaultPromotesOldest(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	ctx := context.Background()

	first, _ := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindCard, Number: "1111"})
	time.Sleep(time.Millisecond)
	second, _ := svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindCard, Number: "2222"})
	time.Sleep(time.Millisecond)
	svc.AddPaymentMethod(ctx, AddPaymentMethodInput{OwnerID: "u1", Kind: KindCard, Number: "3333"})

	if err := svc.RemovePaymentMethod(ctx, "u1", first.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err := svc.PaymentMethod(ctx, "u1", second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsDefault {
		t.Fatalf("expected oldest remaining method to become default")
	}
	if err := svc.RemovePaymentMethod(ctx, "u1", first.ID); !errors.Is(err, ErrPaymentMethodNotFound) {
		t.Fatalf("expected ErrPaymentMethodNotFound, got %v", err)
	}
}

func TestAddPaymentMethodRejectsUnknownKind(t *testing.T) {
	svc := NewService(NewMemoryRepository(), ledger.NewInMemory())
	if _, err := svc.AddPaymentMethod(context.Background(), AddPaymentMethodInput{OwnerID: "u1", Kind: "cash"}); !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
}
