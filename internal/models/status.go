package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not allowed by the transition table
var ErrInvalidTransition = errors.New("invalid status transition")

// PaymentStatus is the lifecycle state of a Payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed},
}

// IsTerminal reports whether no further transition is permitted
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// CanTransitionTo reports whether s -> next is in the transition table
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidatePaymentTransition returns ErrInvalidTransition when from -> to is not allowed
func ValidatePaymentTransition(from, to PaymentStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("payment %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}

// EnrollmentStatus is the lifecycle state of an Enrollment
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusActive:    {EnrollmentStatusCompleted, EnrollmentStatusCancelled},
	EnrollmentStatusCancelled: {EnrollmentStatusActive},
}

// CanTransitionTo reports whether s -> next is in the transition table
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateEnrollmentTransition returns ErrInvalidTransition when from -> to is not allowed
func ValidateEnrollmentTransition(from, to EnrollmentStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("enrollment %s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}
