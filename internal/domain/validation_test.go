package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"integer", "3000", "3000.00", false},
		{"two decimals", "100.50", "100.50", false},
		{"one decimal", "0.5", "0.50", false},
		{"smallest unit", "0.01", "0.01", false},
		{"zero", "0", "", true},
		{"zero with decimals", "0.00", "", true},
		{"negative", "-1.00", "", true},
		{"three decimals", "1.005", "", true},
		{"exponent", "1e3", "", true},
		{"empty", "", "", true},
		{"letters", "ten", "", true},
		{"leading dot", ".50", "", true},
		{"largest storable", "9999999999999999.99", "9999999999999999.99", false},
		{"too many integer digits", "10000000000000000", "", true},
		{"overflows storage", "12345678901234567890.00", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if FormatAmount(got) != tt.want {
				t.Errorf("expected %s, got %s", tt.want, FormatAmount(got))
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  decimal.Decimal
		wantErr bool
	}{
		{"positive", decimal.RequireFromString("15.25"), false},
		{"trailing zeros beyond scale", decimal.RequireFromString("15.2500"), false},
		{"zero", decimal.Zero, true},
		{"negative", decimal.RequireFromString("-0.01"), true},
		{"sub-cent", decimal.RequireFromString("0.001"), true},
		{"beyond storage precision", decimal.RequireFromString("10000000000000000"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if tt.wantErr && !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("expected ErrInvalidAmount, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateBalance(t *testing.T) {
	if err := ValidateBalance(decimal.Zero); err != nil {
		t.Errorf("zero balance must be valid: %v", err)
	}
	if err := ValidateBalance(decimal.RequireFromString("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative balance, got %v", err)
	}
	if err := ValidateBalance(decimal.RequireFromString("1.234")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for sub-cent balance, got %v", err)
	}
	if err := ValidateBalance(decimal.RequireFromString("10000000000000000.00")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for oversized balance, got %v", err)
	}
}

func TestValidateCurrencyCode(t *testing.T) {
	valid := []string{"INR", "USD", "RUB"}
	invalid := []string{"", "inr", "RUPEE", "U$D"}

	for _, code := range valid {
		if err := ValidateCurrencyCode(code); err != nil {
			t.Errorf("expected %q to be valid: %v", code, err)
		}
	}
	for _, code := range invalid {
		if err := ValidateCurrencyCode(code); err == nil {
			t.Errorf("expected %q to be invalid", code)
		}
	}
}

func TestAccountStatusRules(t *testing.T) {
	tests := []struct {
		status     AccountStatus
		canSend    bool
		canReceive bool
	}{
		{AccountStatusActive, true, true},
		{AccountStatusFrozen, false, true},
		{AccountStatusClosed, false, false},
	}

	for _, tt := range tests {
		if got := tt.status.CanSend(); got != tt.canSend {
			t.Errorf("%s.CanSend() = %v, want %v", tt.status, got, tt.canSend)
		}
		if got := tt.status.CanReceive(); got != tt.canReceive {
			t.Errorf("%s.CanReceive() = %v, want %v", tt.status, got, tt.canReceive)
		}
	}
	if AccountStatus("DORMANT").Valid() {
		t.Error("unknown status must not be valid")
	}
}

func TestAccountDebit(t *testing.T) {
	acc := &Account{ID: "A", Balance: decimal.RequireFromString("10.00")}

	if err := acc.Debit(decimal.RequireFromString("10.01"), acc.UpdatedAt); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := acc.Debit(decimal.RequireFromString("10.00"), acc.UpdatedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acc.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", acc.Balance)
	}
}
