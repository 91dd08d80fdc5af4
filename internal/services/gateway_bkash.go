package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
)

const bkashSuccessCode = "0000"

// BKashGateway is the mobile wallet rail using bKash tokenized checkout
type BKashGateway struct {
	cfg    config.BKashConfig
	client *resty.Client
	log    *logger.Logger

	mu          sync.Mutex
	idToken     string
	tokenExpiry time.Time
}

type bkashTokenResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	IDToken       string `json:"id_token"`
	ExpiresIn     int    `json:"expires_in"`
}

type bkashCreateRequest struct {
	Mode                  string `json:"mode"`
	PayerReference        string `json:"payerReference"`
	CallbackURL           string `json:"callbackURL"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Intent                string `json:"intent"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
}

type bkashPaymentResponse struct {
	StatusCode            string `json:"statusCode"`
	StatusMessage         string `json:"statusMessage"`
	ErrorCode             string `json:"errorCode"`
	ErrorMessage          string `json:"errorMessage"`
	PaymentID             string `json:"paymentID"`
	BKashURL              string `json:"bkashURL"`
	TrxID                 string `json:"trxID"`
	TransactionStatus     string `json:"transactionStatus"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
}

func (r *bkashPaymentResponse) ok() bool {
	return r.StatusCode == bkashSuccessCode && r.ErrorCode == ""
}

func (r *bkashPaymentResponse) reason() string {
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	return r.StatusMessage
}

func NewBKashGateway(cfg config.BKashConfig, timeout time.Duration, log *logger.Logger) *BKashGateway {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &BKashGateway{cfg: cfg, client: client, log: log.With("gateway", GatewayBKash)}
}

func (g *BKashGateway) Name() string { return GatewayBKash }

func (g *BKashGateway) Method() models.PaymentMethod { return models.PaymentMethodWalletRail }

// token returns a cached grant token, requesting a fresh one when expired
func (g *BKashGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.idToken, nil
	}

	var out bkashTokenResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("username", g.cfg.Username).
		SetHeader("password", g.cfg.Password).
		SetBody(map[string]string{
			"app_key":    g.cfg.AppKey,
			"app_secret": g.cfg.AppSecret,
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/tokenized/checkout/token/grant")
	if err != nil {
		return "", gatewayCallError(g.Name(), "grant token", err)
	}
	if resp.IsError() || out.IDToken == "" {
		return "", fmt.Errorf("%s grant token: %s (http %d)", g.Name(), out.StatusMessage, resp.StatusCode())
	}

	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	g.idToken = out.IDToken
	// refresh a minute early so an in-flight call never carries a stale token
	g.tokenExpiry = time.Now().Add(ttl - time.Minute)
	return g.idToken, nil
}

func (g *BKashGateway) call(ctx context.Context, path string, body interface{}) (*bkashPaymentResponse, error) {
	token, err := g.token(ctx)
	if err != nil {
		return nil, err
	}
	var out bkashPaymentResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetHeader("X-APP-Key", g.cfg.AppKey).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		ForceContentType("application/json").
		Post(path)
	if err != nil {
		return nil, gatewayCallError(g.Name(), path, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", g.Name(), path, resp.StatusCode())
	}
	return &out, nil
}

// CreateSession creates a tokenized checkout payment. The bKash paymentID is
// the session id.
func (g *BKashGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body := bkashCreateRequest{
		Mode:                  "0011",
		PayerReference:        firstNonEmpty(req.CustomerPhone, fmt.Sprintf("student-%d", req.StudentID)),
		CallbackURL:           req.CallbackURL,
		Amount:                req.Amount.StringFixed(2),
		Currency:              req.Currency,
		Intent:                "sale",
		MerchantInvoiceNumber: req.TransactionID,
	}

	out, err := g.call(ctx, "/tokenized/checkout/create", body)
	if err != nil {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "request failed", Err: err}
	}
	if !out.ok() {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "rejected: " + out.reason()}
	}
	if out.PaymentID == "" || !isUsableRedirect(out.BKashURL) {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "no usable redirect url"}
	}

	return &Session{
		SessionID:   out.PaymentID,
		RedirectURL: out.BKashURL,
		Request:     body,
		Response:    out,
	}, nil
}

// Verify queries payment status by paymentID
func (g *BKashGateway) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	out, err := g.call(ctx, "/tokenized/checkout/payment/status", map[string]string{"paymentID": sessionID})
	if err != nil {
		return nil, err
	}
	if !out.ok() {
		return &VerifyResult{Success: false, Status: models.PaymentStatusPending, GatewayStatus: out.reason()}, nil
	}
	return &VerifyResult{
		Success:       true,
		Status:        mapBKashStatus(out.TransactionStatus),
		GatewayStatus: out.TransactionStatus,
	}, nil
}

// ParseCallback handles the browser redirect bKash sends to callbackURL. A
// "success" redirect still has to be executed before money moves.
func (g *BKashGateway) ParseCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	paymentID := payload.Values.Get("paymentID")
	if paymentID == "" {
		return nil, &ValidationError{Field: "paymentID", Message: "missing from callback"}
	}
	status := strings.ToLower(payload.Values.Get("status"))

	result := &CallbackResult{TransactionID: paymentID, GatewayStatus: status}
	switch status {
	case "failure", "cancel":
		// the redirect is browser supplied; an abandoned checkout stays pending
		return confirmFailure(ctx, g, g.log, result), nil
	case "success":
	default:
		result.Status = models.PaymentStatusPending
		return result, nil
	}

	out, err := g.call(ctx, "/tokenized/checkout/execute", map[string]string{"paymentID": paymentID})
	if err == nil && out.ok() {
		result.Status = mapBKashStatus(out.TransactionStatus)
		result.GatewayStatus = out.TransactionStatus
		return result, nil
	}
	if err != nil && isTimeout(err) {
		return nil, err
	}

	// execute refuses payments that were already executed; ask for status instead
	verify, verr := g.Verify(ctx, paymentID)
	if verr != nil {
		return nil, verr
	}
	result.Status = verify.Status
	result.GatewayStatus = verify.GatewayStatus
	if !verify.Success {
		result.Status = models.PaymentStatusPending
	}
	return result, nil
}

func mapBKashStatus(status string) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return models.PaymentStatusCompleted
	case "failed", "cancelled", "expired", "declined":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
