package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPaymentStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{"pending to completed", PaymentStatusPending, PaymentStatusCompleted, true},
		{"pending to failed", PaymentStatusPending, PaymentStatusFailed, true},
		{"completed to failed", PaymentStatusCompleted, PaymentStatusFailed, false},
		{"failed to completed", PaymentStatusFailed, PaymentStatusCompleted, false},
		{"completed to pending", PaymentStatusCompleted, PaymentStatusPending, false},
		{"pending to pending", PaymentStatusPending, PaymentStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("%s.CanTransitionTo(%s) = %v; want %v", tt.from, tt.to, got, tt.allowed)
			}
			err := ValidatePaymentTransition(tt.from, tt.to)
			if tt.allowed && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.allowed && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	if PaymentStatusPending.IsTerminal() {
		t.Error("pending must not be terminal")
	}
	if !PaymentStatusCompleted.IsTerminal() || !PaymentStatusFailed.IsTerminal() {
		t.Error("completed and failed must be terminal")
	}
}

func TestEnrollmentStatusTransitions(t *testing.T) {
	if !EnrollmentStatusCancelled.CanTransitionTo(EnrollmentStatusActive) {
		t.Error("cancelled enrollment should be re-activatable")
	}
	if EnrollmentStatusCompleted.CanTransitionTo(EnrollmentStatusActive) {
		t.Error("completed enrollment must not go back to active")
	}
	if err := ValidateEnrollmentTransition(EnrollmentStatusCompleted, EnrollmentStatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCourseEffectivePrice(t *testing.T) {
	tests := []struct {
		name     string
		course   Course
		expected string
		free     bool
	}{
		{
			name:     "discount wins",
			course:   Course{Price: decimal.NewFromInt(1000), DiscountedPrice: decimal.NewNullDecimal(decimal.NewFromInt(800))},
			expected: "800",
		},
		{
			name:     "list price without discount",
			course:   Course{Price: decimal.NewFromInt(1000)},
			expected: "1000",
		},
		{
			name:     "zero price is free",
			course:   Course{Price: decimal.Zero},
			expected: "0",
			free:     true,
		},
		{
			name:     "discount to zero is free",
			course:   Course{Price: decimal.NewFromInt(500), DiscountedPrice: decimal.NewNullDecimal(decimal.Zero)},
			expected: "0",
			free:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.course.EffectivePrice().String(); got != tt.expected {
				t.Errorf("EffectivePrice() = %s; want %s", got, tt.expected)
			}
			if got := tt.course.IsFree(); got != tt.free {
				t.Errorf("IsFree() = %v; want %v", got, tt.free)
			}
		})
	}
}

func TestScheduledTaskNextDue(t *testing.T) {
	due := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	daily := "FREQ=DAILY"

	recurring := ScheduledTask{Due: due, TaskType: ScheduledTaskTypeRecurring, RecurringInterval: &daily}
	next := recurring.NextDue(due)
	if want := due.Add(24 * time.Hour); !next.Equal(want) {
		t.Errorf("NextDue() = %v; want %v", next, want)
	}

	oneTime := ScheduledTask{Due: due, TaskType: ScheduledTaskTypeOneTime}
	if !oneTime.NextDue(due).IsZero() {
		t.Error("one-time task must not have a next due")
	}
}
