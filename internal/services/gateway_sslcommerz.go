package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"coursemarket_echo/internal/config"
	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
)

const (
	sslcommerzLiveURL    = "https://securepay.sslcommerz.com"
	sslcommerzSandboxURL = "https://sandbox.sslcommerz.com"
)

// SSLCommerzGateway is the card/bank rail backed by SSLCommerz hosted checkout
type SSLCommerzGateway struct {
	cfg    config.SSLCommerzConfig
	client *resty.Client
	log    *logger.Logger
}

type sslSessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

type sslTransactionQueryResponse struct {
	APIConnect     string                  `json:"APIConnect"`
	NoOfTransFound int                     `json:"no_of_trans_found"`
	Element        []sslTransactionElement `json:"element"`
}

type sslTransactionElement struct {
	ValID    string `json:"val_id"`
	Status   string `json:"status"`
	TranID   string `json:"tran_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type sslValidationResponse struct {
	Status   string `json:"status"`
	TranID   string `json:"tran_id"`
	ValID    string `json:"val_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func NewSSLCommerzGateway(cfg config.SSLCommerzConfig, timeout time.Duration, log *logger.Logger) *SSLCommerzGateway {
	baseURL := sslcommerzLiveURL
	if cfg.Sandbox {
		baseURL = sslcommerzSandboxURL
	}
	return newSSLCommerzGateway(cfg, baseURL, timeout, log)
}

func newSSLCommerzGateway(cfg config.SSLCommerzConfig, baseURL string, timeout time.Duration, log *logger.Logger) *SSLCommerzGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &SSLCommerzGateway{cfg: cfg, client: client, log: log.With("gateway", GatewaySSLCommerz)}
}

func (g *SSLCommerzGateway) Name() string { return GatewaySSLCommerz }

func (g *SSLCommerzGateway) Method() models.PaymentMethod { return models.PaymentMethodCardRail }

// CreateSession opens a hosted checkout. The local transaction id is sent as
// tran_id, so it doubles as the session id.
func (g *SSLCommerzGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	form := map[string]string{
		"store_id":         g.cfg.StoreID,
		"store_passwd":     g.cfg.StorePassword,
		"total_amount":     req.Amount.StringFixed(2),
		"currency":         req.Currency,
		"tran_id":          req.TransactionID,
		"success_url":      req.SuccessURL,
		"fail_url":         req.FailURL,
		"cancel_url":       req.CancelURL,
		"ipn_url":          req.CallbackURL,
		"cus_name":         req.CustomerName,
		"cus_email":        req.CustomerEmail,
		"cus_phone":        req.CustomerPhone,
		"cus_add1":         "N/A",
		"cus_city":         "N/A",
		"cus_country":      "Bangladesh",
		"shipping_method":  "NO",
		"product_name":     req.CourseTitle,
		"product_category": "course",
		"product_profile":  "non-physical-goods",
		"value_a":          strconv.FormatUint(uint64(req.CourseID), 10),
		"value_b":          strconv.FormatUint(uint64(req.StudentID), 10),
	}

	var out sslSessionResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/gwprocess/v4/api.php")
	if err != nil {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "request failed", Err: gatewayCallError(g.Name(), "create session", err)}
	}
	if resp.IsError() {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode())}
	}
	if !strings.EqualFold(out.Status, "SUCCESS") {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "rejected: " + out.FailedReason}
	}
	if !isUsableRedirect(out.GatewayPageURL) {
		return nil, &GatewaySessionError{Gateway: g.Name(), Reason: "no usable redirect url"}
	}

	delete(form, "store_passwd")
	return &Session{
		SessionID:   req.TransactionID,
		RedirectURL: out.GatewayPageURL,
		Request:     form,
		Response:    out,
	}, nil
}

// Verify queries the transactions SSLCommerz holds for a tran_id
func (g *SSLCommerzGateway) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	var out sslTransactionQueryResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tran_id":      sessionID,
			"store_id":     g.cfg.StoreID,
			"store_passwd": g.cfg.StorePassword,
			"format":       "json",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/validator/api/merchantTransIDvalidationAPI.php")
	if err != nil {
		return nil, gatewayCallError(g.Name(), "verify", err)
	}
	if resp.IsError() || !strings.EqualFold(out.APIConnect, "DONE") {
		return &VerifyResult{Success: false, Status: models.PaymentStatusPending, GatewayStatus: out.APIConnect}, nil
	}

	result := &VerifyResult{Success: true, Status: models.PaymentStatusPending}
	for _, el := range out.Element {
		status := mapSSLCommerzStatus(el.Status)
		switch {
		case status == models.PaymentStatusCompleted:
			return &VerifyResult{Success: true, Status: status, GatewayStatus: el.Status}, nil
		case status == models.PaymentStatusFailed && result.GatewayStatus == "":
			result.Status = status
			result.GatewayStatus = el.Status
		case status == models.PaymentStatusPending:
			// a live attempt outranks earlier failed ones
			result.Status = status
			result.GatewayStatus = el.Status
		}
	}
	return result, nil
}

// ParseCallback handles the IPN form post. A VALID status is only trusted
// after the validation API confirms the val_id, a failure only after the
// transaction query agrees.
func (g *SSLCommerzGateway) ParseCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	values := payload.Values
	tranID := values.Get("tran_id")
	if tranID == "" {
		return nil, &ValidationError{Field: "tran_id", Message: "missing from callback"}
	}

	result := &CallbackResult{
		TransactionID: tranID,
		GatewayStatus: values.Get("status"),
		Status:        mapSSLCommerzStatus(values.Get("status")),
		CourseID:      parseUintOrZero(values.Get("value_a")),
		UserID:        parseUintOrZero(values.Get("value_b")),
	}

	switch result.Status {
	case models.PaymentStatusFailed:
		return confirmFailure(ctx, g, g.log, result), nil
	case models.PaymentStatusPending:
		return result, nil
	}

	valID := values.Get("val_id")
	if valID == "" {
		return nil, &ValidationError{Field: "val_id", Message: "missing from valid callback"}
	}

	var out sslValidationResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"val_id":       valID,
			"store_id":     g.cfg.StoreID,
			"store_passwd": g.cfg.StorePassword,
			"format":       "json",
		}).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/validator/api/validationserverAPI.php")
	if err != nil {
		return nil, gatewayCallError(g.Name(), "validate callback", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s validate callback: unexpected status %d", g.Name(), resp.StatusCode())
	}
	if mapSSLCommerzStatus(out.Status) != models.PaymentStatusCompleted || out.TranID != tranID {
		g.log.Warn("Callback failed validation", "tran_id", tranID, "validation_status", out.Status)
		return nil, &ValidationError{Field: "val_id", Message: "callback could not be validated"}
	}
	result.GatewayStatus = out.Status
	return result, nil
}

func mapSSLCommerzStatus(status string) models.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "VALID", "VALIDATED":
		return models.PaymentStatusCompleted
	case "FAILED", "CANCELLED", "EXPIRED":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

func isUsableRedirect(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func parseUintOrZero(raw string) uint {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
