package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
)

// MidtransGateway is a second card rail using Snap checkout
type MidtransGateway struct {
	serverKey  string
	snapClient snap.Client
	coreClient coreapi.Client
	log        *logger.Logger
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	CustomField1      string `json:"custom_field1"`
	CustomField2      string `json:"custom_field2"`
}

func NewMidtransGateway(cfg config.MidtransConfig, timeout time.Duration, log *logger.Logger) *MidtransGateway {
	env := midtrans.Sandbox
	if cfg.Production {
		env = midtrans.Production
	}

	// clients pick up the shared http client when constructed
	midtrans.DefaultGoHttpClient = &http.Client{Timeout: timeout}
	midtrans.ServerKey = cfg.ServerKey
	midtrans.ClientKey = cfg.ClientKey
	midtrans.Environment = env

	g := &MidtransGateway{serverKey: cfg.ServerKey, log: log.With("gateway", GatewayMidtrans)}
	g.snapClient.New(cfg.ServerKey, env)
	g.coreClient.New(cfg.ServerKey, env)
	return g
}

func (g *MidtransGateway) Name() string { return GatewayMidtrans }

func (g *MidtransGateway) Method() models.PaymentMethod { return models.PaymentMethodCardRail }

func (g *MidtransGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "request failed", Err: gatewayCallError(g.Name(), "create session", err)}
	}

	amount := req.Amount.Round(0).IntPart()
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.TransactionID,
			GrossAmt: amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    fmt.Sprintf("course-%d", req.CourseID),
				Name:  req.CourseTitle,
				Price: amount,
				Qty:   1,
			},
		},
		Callbacks: &snap.Callbacks{
			Finish: req.SuccessURL,
		},
		CustomField1: strconv.FormatUint(uint64(req.CourseID), 10),
		CustomField2: strconv.FormatUint(uint64(req.StudentID), 10),
	}

	resp, merr := g.snapClient.CreateTransaction(snapReq)
	if merr != nil {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "request failed", Err: midtransError("create session", merr)}
	}
	if resp == nil || !isUsableRedirect(resp.RedirectURL) {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "no usable redirect url"}
	}

	return &Session{
		SessionID:   req.TransactionID,
		RedirectURL: resp.RedirectURL,
		Request:     snapReq,
		Response:    resp,
	}, nil
}

func (g *MidtransGateway) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, gatewayCallError(g.Name(), "verify", err)
	}
	resp, merr := g.coreClient.CheckTransaction(sessionID)
	if merr != nil {
		if merr.StatusCode == http.StatusNotFound {
			// Snap only registers the order once the customer picks a channel
			return &VerifyResult{Success: true, Status: models.PaymentStatusPending, GatewayStatus: "not_found"}, nil
		}
		return nil, midtransError("verify", merr)
	}
	return &VerifyResult{
		Success:       true,
		Status:        mapMidtransStatus(resp.TransactionStatus, resp.FraudStatus),
		GatewayStatus: resp.TransactionStatus,
	}, nil
}

// ParseCallback reads an HTTP notification. Notifications are signed, so no
// extra round trip to the gateway is needed.
func (g *MidtransGateway) ParseCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	var n midtransNotification
	if err := json.Unmarshal(payload.Body, &n); err != nil {
		return nil, &ValidationError{Field: "body", Message: "invalid notification json"}
	}
	if n.OrderID == "" {
		return nil, &ValidationError{Field: "order_id", Message: "missing from notification"}
	}
	if !verifyMidtransSignature(n, g.serverKey) {
		g.log.Warn("Notification signature mismatch", "order_id", n.OrderID)
		return nil, &ValidationError{Field: "signature_key", Message: "signature mismatch"}
	}

	return &CallbackResult{
		TransactionID: n.OrderID,
		Status:        mapMidtransStatus(n.TransactionStatus, n.FraudStatus),
		GatewayStatus: n.TransactionStatus,
		CourseID:      parseUintOrZero(n.CustomField1),
		UserID:        parseUintOrZero(n.CustomField2),
	}, nil
}

func mapMidtransStatus(transactionStatus, fraudStatus string) models.PaymentStatus {
	switch transactionStatus {
	case "settlement":
		return models.PaymentStatusCompleted
	case "capture":
		if fraudStatus == "" || fraudStatus == "accept" {
			return models.PaymentStatusCompleted
		}
		if fraudStatus == "deny" {
			return models.PaymentStatusFailed
		}
		return models.PaymentStatusPending
	case "deny", "cancel", "expire", "failure":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

// midtransSignature is SHA512(order_id + status_code + gross_amount + server_key)
func midtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func verifyMidtransSignature(n midtransNotification, serverKey string) bool {
	expected := midtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(n.SignatureKey)) == 1
}

func midtransError(op string, merr *midtrans.Error) error {
	if merr.RawError != nil {
		return gatewayCallError(GatewayMidtrans, op, merr.RawError)
	}
	return fmt.Errorf("%s %s: %s (http %d)", GatewayMidtrans, op, merr.Message, merr.StatusCode)
}
