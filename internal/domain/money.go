/**
 * @description
 * Money parsing and formatting helpers. API clients send amounts as decimal
 * strings or JSON numbers in major currency units; the ledger stores int64
 * cents. shopspring/decimal does the conversion so no floating-point value
 * ever touches a balance.
 */

package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmountNotPositive is returned for zero or negative amounts.
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	// ErrAmountPrecision is returned for amounts with sub-cent precision.
	ErrAmountPrecision = errors.New("amount has more than two decimal places")
	// ErrAmountMalformed is returned when the amount cannot be parsed at all.
	ErrAmountMalformed = errors.New("amount is not a valid decimal number")
)

// AmountField is a raw JSON amount value. It accepts both `"150.00"` and
// `150.00` on the wire; callers convert it to cents with Cents.
type AmountField string

func (a *AmountField) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*a = AmountField(s)
	return nil
}

// Cents parses the field into integer cents, rejecting non-positive and
// sub-cent values.
func (a AmountField) Cents() (int64, error) {
	return ParseAmount(string(a))
}

// ParseAmount converts a decimal string in major units into int64 cents.
func ParseAmount(raw string) (int64, error) {
	if raw == "" || raw == "null" {
		return 0, ErrAmountMalformed
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, ErrAmountMalformed
	}
	if !d.IsPositive() {
		return 0, ErrAmountNotPositive
	}
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, ErrAmountPrecision
	}
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: value out of range", ErrAmountMalformed)
	}
	return cents.IntPart(), nil
}

// FormatAmount renders int64 cents back into a major-unit decimal string,
// e.g. 30000 -> "300.00".
func FormatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}
