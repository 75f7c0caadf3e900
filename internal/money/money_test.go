package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidate(t *testing.T) {
	cases := map[string]error{
		"10":        nil,
		"0.0001":    nil,
		"1.10000":   nil,
		"0":         ErrNotPositive,
		"-1":        ErrNotPositive,
		"1.00005":   ErrTooPrecise,
		"0.00001":   ErrTooPrecise,
		"12.345678": ErrTooPrecise,
	}
	for raw, want := range cases {
		amount := decimal.RequireFromString(raw)
		if err := Validate(amount); !errors.Is(err, want) {
			t.Fatalf("%s: expected %v, got %v", raw, want, err)
		}
	}
}
