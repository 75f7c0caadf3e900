package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/fundflow/internal/ledger"
)

// Service exposes wallet and payment method operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// Create provisions the owner's wallet. Each owner holds at most one wallet.
func (s *Service) Create(ctx context.Context, ownerID, currency string) (ledger.Wallet, error) {
	if currency == "" {
		currency = ledger.DefaultCurrency
	}
	if !SupportedCurrency(currency) {
		return ledger.Wallet{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return s.ledger.CreateWallet(ctx, ownerID, currency)
}

// Get retrieves the owner's wallet.
func (s *Service) Get(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	return s.ledger.Wallet(ctx, ownerID)
}

// Balance returns the ledger balance for the owner. A missing wallet reads as zero
// in the default currency.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	amount, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	currency := ledger.DefaultCurrency
	if w, err := s.ledger.Wallet(ctx, ownerID); err == nil {
		currency = w.Currency
	}
	return Balance{OwnerID: ownerID, Amount: amount, Currency: currency, AsOf: time.Now().UTC()}, nil
}

// AddPaymentMethodInput captures the data required to register a payment method.
type AddPaymentMethodInput struct {
	OwnerID string
	Kind    string
	Number  string
}

// AddPaymentMethod registers a method; only the masked number is kept.
func (s *Service) AddPaymentMethod(ctx context.Context, input AddPaymentMethodInput) (PaymentMethod, error) {
	if input.Kind != KindCard && input.Kind != KindDigitalWallet {
		return PaymentMethod{}, fmt.Errorf("%w: kind %q", ErrInvalidPaymentMethod, input.Kind)
	}
	now := time.Now().UTC()
	return s.repo.Add(ctx, PaymentMethod{
		ID:            uuid.NewString(),
		OwnerID:       input.OwnerID,
		Kind:          input.Kind,
		MaskedDetails: MaskDetails(input.Number),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// PaymentMethods lists the owner's methods, oldest first.
func (s *Service) PaymentMethods(ctx context.Context, ownerID string) ([]PaymentMethod, error) {
	return s.repo.List(ctx, ownerID)
}

// PaymentMethod returns one method if it belongs to the owner.
func (s *Service) PaymentMethod(ctx context.Context, ownerID, id string) (PaymentMethod, error) {
	return s.repo.Get(ctx, ownerID, id)
}

// RemovePaymentMethod deletes one of the owner's methods.
func (s *Service) RemovePaymentMethod(ctx context.Context, ownerID, id string) error {
	return s.repo.Remove(ctx, ownerID, id)
}

// SetDefaultPaymentMethod selects the owner's default method.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, ownerID, id string) (PaymentMethod, error) {
	return s.repo.SetDefault(ctx, ownerID, id)
}
