package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
)

const (
	GatewaySSLCommerz = "sslcommerz"
	GatewayMidtrans   = "midtrans"
	GatewayBKash      = "bkash"
)

// SessionRequest carries everything a gateway needs to open a checkout
type SessionRequest struct {
	TransactionID string
	CourseID      uint
	CourseTitle   string
	StudentID     uint
	Amount        decimal.Decimal
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	SuccessURL    string
	FailURL       string
	CancelURL     string
	CallbackURL   string
}

// Session is a created checkout. SessionID is what Verify expects and what
// the local Payment stores as its transaction id.
type Session struct {
	SessionID   string
	RedirectURL string
	Request     interface{}
	Response    interface{}
}

// VerifyResult is the gateway's answer to a status query. Success is false
// when the gateway could not give a definitive answer.
type VerifyResult struct {
	Success       bool
	Status        models.PaymentStatus
	GatewayStatus string
}

// CallbackPayload is the raw callback as received over HTTP
type CallbackPayload struct {
	Values url.Values
	Body   []byte
}

// CallbackResult is a callback translated to local terms. CourseID and
// UserID are filled when the gateway echoes them back.
type CallbackResult struct {
	TransactionID string
	Status        models.PaymentStatus
	GatewayStatus string
	CourseID      uint
	UserID        uint
}

// PaymentGateway is implemented by each payment rail. Implementations hold no
// persistent state.
type PaymentGateway interface {
	Name() string
	Method() models.PaymentMethod
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	Verify(ctx context.Context, sessionID string) (*VerifyResult, error)
	ParseCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error)
}

// NewGateways builds every gateway that has credentials configured and
// returns them keyed by name, along with the one selected for new sessions
func NewGateways(cfg config.PaymentConfig, log *logger.Logger) (map[string]PaymentGateway, PaymentGateway, error) {
	gateways := make(map[string]PaymentGateway)

	if cfg.SSLCommerz.StoreID != "" {
		gateways[GatewaySSLCommerz] = NewSSLCommerzGateway(cfg.SSLCommerz, cfg.GatewayTimeout, log)
	}
	if cfg.BKash.AppKey != "" {
		gateways[GatewayBKash] = NewBKashGateway(cfg.BKash, cfg.GatewayTimeout, log)
	}
	if cfg.Midtrans.ServerKey != "" {
		gateways[GatewayMidtrans] = NewMidtransGateway(cfg.Midtrans, cfg.GatewayTimeout, log)
	}

	active, ok := gateways[cfg.Gateway]
	if !ok {
		return gateways, nil, fmt.Errorf("payment gateway %q is not configured", cfg.Gateway)
	}
	return gateways, active, nil
}

// confirmFailure checks a failure report that arrived on an unauthenticated
// route against the gateway's own status query. Only a definitive answer is
// kept; anything else leaves the payment pending for a later callback or verify.
func confirmFailure(ctx context.Context, gw PaymentGateway, log *logger.Logger, result *CallbackResult) *CallbackResult {
	reported := result.GatewayStatus
	verified, err := gw.Verify(ctx, result.TransactionID)
	if err != nil || !verified.Success {
		log.Warn("Could not confirm failure report, leaving pending",
			"transaction_id", result.TransactionID,
			"reported", reported,
			"error", err,
		)
		result.Status = models.PaymentStatusPending
		return result
	}
	if verified.Status != models.PaymentStatusFailed {
		log.Warn("Failure report contradicted by gateway",
			"transaction_id", result.TransactionID,
			"reported", reported,
			"gateway_status", verified.GatewayStatus,
		)
	}
	result.Status = verified.Status
	result.GatewayStatus = verified.GatewayStatus
	return result
}
