package messaging

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundflow/internal/money"
)

// Kind is the wire discriminator of a payload.
type Kind string

const (
	KindCreditRequest     Kind = "credit-request"
	KindDebitRequest      Kind = "debit-request"
	KindTransferRequest   Kind = "transfer-request"
	KindCreditInstruction Kind = "credit-instruction"
	KindDebitInstruction  Kind = "debit-instruction"
)

// Payload is the closed set of messages exchanged between the wallet and payment
// services. The unexported validate method keeps implementations inside this package.
type Payload interface {
	Kind() Kind
	validate() error
}

var validate = validator.New()

// CreditRequest asks the payment service to credit a wallet.
type CreditRequest struct {
	UserID         string          `json:"userId" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	SourceCreditID string          `json:"sourceCreditId,omitempty"`
}

// DebitRequest asks the payment service to debit a wallet.
type DebitRequest struct {
	UserID        string          `json:"userId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	SourceDebitID string          `json:"sourceDebitId,omitempty"`
}

// TransferRequest asks the payment service to move funds between two wallets.
type TransferRequest struct {
	FromUserID string          `json:"fromUserId" validate:"required"`
	ToUserID   string          `json:"toUserId" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency" validate:"required,len=3"`
}

// CreditInstruction is an authoritative order to credit a wallet. Legs is 2 when the
// instruction is one half of a transfer.
type CreditInstruction struct {
	UserID   string          `json:"userId" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Legs     int             `json:"legs" validate:"min=1,max=2"`
}

// DebitInstruction is an authoritative order to debit a wallet.
type DebitInstruction struct {
	UserID   string          `json:"userId" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Legs     int             `json:"legs" validate:"min=1,max=2"`
}

func (CreditRequest) Kind() Kind     { return KindCreditRequest }
func (DebitRequest) Kind() Kind      { return KindDebitRequest }
func (TransferRequest) Kind() Kind   { return KindTransferRequest }
func (CreditInstruction) Kind() Kind { return KindCreditInstruction }
func (DebitInstruction) Kind() Kind  { return KindDebitInstruction }

func (p CreditRequest) validate() error     { return check(p, p.Amount) }
func (p DebitRequest) validate() error      { return check(p, p.Amount) }
func (p TransferRequest) validate() error   { return check(p, p.Amount) }
func (p CreditInstruction) validate() error { return check(p, p.Amount) }
func (p DebitInstruction) validate() error  { return check(p, p.Amount) }

func check(p Payload, amount decimal.Decimal) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%s: %w", p.Kind(), err)
	}
	if err := money.Validate(amount); err != nil {
		return fmt.Errorf("%s: %w", p.Kind(), err)
	}
	return nil
}

// IsInstruction reports whether the kind is applied by the ledger owner rather than routed.
func (k Kind) IsInstruction() bool {
	return k == KindCreditInstruction || k == KindDebitInstruction
}

// Kinds lists every declared payload kind.
func Kinds() []Kind {
	return []Kind{
		KindCreditRequest,
		KindDebitRequest,
		KindTransferRequest,
		KindCreditInstruction,
		KindDebitInstruction,
	}
}
