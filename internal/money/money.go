// Package money holds the amount rules shared by the ledger, the wire payloads and the
// coordinator. Scale matches the NUMERIC(20, 4) amount columns.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits an amount may carry.
const Scale int32 = 4

var (
	// ErrNotPositive rejects zero and negative amounts.
	ErrNotPositive = errors.New("amount must be positive")
	// ErrTooPrecise rejects amounts with more than Scale fractional digits.
	ErrTooPrecise = fmt.Errorf("amount has more than %d decimal places", Scale)
)

// Validate reports whether amount is positive and fits Scale. Trailing zeros beyond
// Scale are accepted.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNotPositive
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return ErrTooPrecise
	}
	return nil
}
