package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Payment method kinds.
const (
	KindCard          = "card"
	KindDigitalWallet = "digital-wallet"
)

var (
	// ErrPaymentMethodNotFound is returned when the method does not exist or belongs to another owner.
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	// ErrUnsupportedCurrency rejects currencies outside RUB, USD and EUR.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidPaymentMethod rejects unknown payment method kinds.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
)

// PaymentMethod is a funding source registered by an owner.
type PaymentMethod struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Kind          string    `json:"kind"`
	MaskedDetails string    `json:"maskedDetails"`
	IsDefault     bool      `json:"isDefault"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Balance encapsulates available funds for an owner's wallet.
type Balance struct {
	OwnerID  string          `json:"ownerId"`
	Amount   decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"asOf"`
}

// SupportedCurrency reports whether wallets and requests may use the currency.
func SupportedCurrency(currency string) bool {
	switch currency {
	case "RUB", "USD", "EUR":
		return true
	default:
		return false
	}
}

// MaskDetails keeps the last four characters of an instrument number.
func MaskDetails(number string) string {
	if number == "" {
		return "N/A"
	}
	if len(number) > 4 {
		number = number[len(number)-4:]
	}
	return "****" + number
}
