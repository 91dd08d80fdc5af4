package services

import (
	"context"
	"errors"
	"fmt"
	"net"

	"coursemarket_echo/internal/models"
)

// ErrGatewayTimeout is returned when a gateway call exceeds its deadline.
// Callers report it as "processing", never as a failed payment.
var ErrGatewayTimeout = errors.New("payment gateway timed out")

// ValidationError rejects a request before anything is written
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GatewaySessionError means no usable payment session could be created
type GatewaySessionError struct {
	Gateway string
	Reason  string
	Err     error
}

func (e *GatewaySessionError) Error() string {
	msg := fmt.Sprintf("%s session: %s", e.Gateway, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewaySessionError) Unwrap() error { return e.Err }

// ReconciliationConflictError records a gateway report that disagrees with a
// Payment already in a terminal state. The terminal state is kept.
type ReconciliationConflictError struct {
	TransactionID string
	Local         models.PaymentStatus
	Reported      models.PaymentStatus
	Source        string
}

func (e *ReconciliationConflictError) Error() string {
	return fmt.Sprintf("payment %s is %s but %s reported %s", e.TransactionID, e.Local, e.Source, e.Reported)
}

// PartialWriteError marks a free enrollment whose companion Payment write failed
type PartialWriteError struct {
	Op  string
	Err error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write during %s: %v", e.Op, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// IsProcessing reports whether err should be shown to the user as
// "processing, check back" instead of a failure
func IsProcessing(err error) bool {
	var sessionErr *GatewaySessionError
	return errors.Is(err, ErrGatewayTimeout) || errors.As(err, &sessionErr)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrGatewayTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// gatewayCallError normalizes a transport error: timeouts wrap ErrGatewayTimeout
func gatewayCallError(gateway, op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s %s: %w", gateway, op, ErrGatewayTimeout)
	}
	return fmt.Errorf("%s %s: %w", gateway, op, err)
}
