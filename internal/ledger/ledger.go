package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundflow/internal/money"
)

var (
	// ErrInsufficientFunds occurs when the wallet lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateMutation indicates the provided mutation identifier was already
	// committed and therefore the operation was treated as idempotent.
	ErrDuplicateMutation = errors.New("duplicate mutation")

	// ErrWalletExists is returned when a wallet is created twice for the same owner.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrWalletNotFound is returned when a mutation targets an owner without a wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInvalidAmount rejects zero or negative amounts and amounts finer than money.Scale.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrSelfTransfer rejects transfers whose source and destination are the same owner.
	ErrSelfTransfer = errors.New("cannot transfer to the same wallet")
)

// DefaultCurrency is assigned to wallets created without an explicit currency.
const DefaultCurrency = "RUB"

// Wallet is the balance record held for a single owner.
type Wallet struct {
	OwnerID   string          `json:"ownerId"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// TransferResult captures the outcome of an atomic transfer between two wallets.
type TransferResult struct {
	MutationID  string
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
}

// Ledger defines the contract implemented by ledger backends (in-memory and Postgres).
//
// Every mutation carries a mutation id. Re-applying a committed id changes nothing
// and returns the current balance together with ErrDuplicateMutation.
type Ledger interface {
	CreateWallet(ctx context.Context, ownerID, currency string) (Wallet, error)
	Wallet(ctx context.Context, ownerID string) (Wallet, error)
	Balance(ctx context.Context, ownerID string) (decimal.Decimal, error)
	Credit(ctx context.Context, ownerID, mutationID string, amount decimal.Decimal) (decimal.Decimal, error)
	Debit(ctx context.Context, ownerID, mutationID string, amount decimal.Decimal) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID, mutationID string, amount decimal.Decimal) (TransferResult, error)
	Applied(ctx context.Context, mutationID string) (bool, error)
}

func validAmount(amount decimal.Decimal) error {
	if err := money.Validate(amount); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	return nil
}
