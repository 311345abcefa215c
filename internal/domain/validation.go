package domain

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of decimal places kept for balances and amounts.
	AmountScale = 2
	// AmountIntegerDigits bounds the integer part, matching NUMERIC(18,2) columns.
	AmountIntegerDigits = 16
)

var (
	// Regex pattern for validating decimal amounts with up to 16 integer digits and 2 decimal places
	amountPattern = regexp.MustCompile(`^\d{1,16}(\.\d{1,2})?$`)

	// amountLimit is the smallest value that no longer fits the storage precision.
	amountLimit = decimal.New(1, AmountIntegerDigits)
)

// ParseAmount parses a decimal string such as "3000.00" into an amount.
// Returns ErrInvalidAmount unless the text is a positive decimal with up to 16 integer
// digits and 2 decimal places.
func ParseAmount(value string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(value) {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal with up to 2 decimal places", ErrInvalidAmount, value)
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount checks that amount is strictly positive and exact at 2 decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if amount.GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: more than %d integer digits", ErrInvalidAmount, AmountIntegerDigits)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// ValidateBalance checks that balance is a representable, non-negative ledger balance.
func ValidateBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: balance cannot be negative", ErrInvalidAmount)
	}
	if balance.GreaterThanOrEqual(amountLimit) {
		return fmt.Errorf("%w: more than %d integer digits", ErrInvalidAmount, AmountIntegerDigits)
	}
	if !balance.Equal(balance.Truncate(AmountScale)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// FormatAmount renders an amount with exactly 2 decimal places.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(AmountScale)
}

// ValidateCurrencyCode validates that a currency code follows ISO 4217 format.
func ValidateCurrencyCode(code string) error {
	if code == "" {
		return fmt.Errorf("currency code cannot be empty")
	}

	if len(code) != 3 {
		return fmt.Errorf("currency code must be 3 characters (ISO 4217)")
	}

	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("currency code must contain only uppercase letters")
		}
	}

	return nil
}
