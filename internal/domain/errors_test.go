package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsSlotUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "slot full",
			err:  ErrSlotFull,
			want: true,
		},
		{
			name: "wrapped slot closed",
			err:  fmt.Errorf("%w: day is closed", ErrSlotClosed),
			want: true,
		},
		{
			name: "mode disabled",
			err:  errors.Join(ErrModeDisabled, errors.New("pickup")),
			want: true,
		},
		{
			name: "slot not found is a validation error",
			err:  ErrSlotNotFound,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsSlotUnavailable(tt.err)
			if got != tt.want {
				t.Errorf("IsSlotUnavailable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "validation",
			err:  fmt.Errorf("%w: cart is empty", ErrValidation),
			want: true,
		},
		{
			name: "unknown slot",
			err:  fmt.Errorf("%w: slot %q", ErrSlotNotFound, "night"),
			want: true,
		},
		{
			name: "unauthorized",
			err:  ErrUnauthorized,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidation(tt.err)
			if got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTransactionConflict(t *testing.T) {
	if !IsTransactionConflict(fmt.Errorf("reserve: %w", ErrTransactionConflict)) {
		t.Fatal("wrapped transaction conflict must be detected")
	}
	if IsTransactionConflict(ErrSlotFull) {
		t.Fatal("slot full is not a transaction conflict")
	}
	if !IsUnauthorized(fmt.Errorf("checkout: %w", ErrUnauthorized)) {
		t.Fatal("wrapped unauthorized must be detected")
	}
}
