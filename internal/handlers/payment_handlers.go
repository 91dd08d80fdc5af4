package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

const maxCallbackBody = 1 << 20

// PaymentHandler exposes gateway callbacks, browser landing routes and the
// client's delayed verification
type PaymentHandler struct {
	store       store.Store
	payments    *services.PaymentService
	verifyDelay time.Duration
	log         *logger.Logger
}

func NewPaymentHandler(st store.Store, payments *services.PaymentService, verifyDelay time.Duration, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{store: st, payments: payments, verifyDelay: verifyDelay, log: log}
}

type VerifyRequest struct {
	TransactionID string `json:"tran_id" form:"tran_id" validate:"required,max=100"`
}

// LandingResponse is what the browser gets back after a gateway redirect.
// It carries no payment details since these routes are public.
type LandingResponse struct {
	State         services.ReconcileState `json:"state"`
	TransactionID string                  `json:"tran_id"`
	CourseID      uint                    `json:"course_id,omitempty"`
	Message       string                  `json:"message"`
	VerifyAfterMs int64                   `json:"verify_after_ms,omitempty"`
	VerifyURL     string                  `json:"verify_url,omitempty"`
	RetryURL      string                  `json:"retry_url,omitempty"`
}

// GatewayCallback receives server to server notifications (IPN)
func (h *PaymentHandler) GatewayCallback(c echo.Context) error {
	payload, err := readCallbackPayload(c)
	if err != nil {
		return err
	}

	result, err := h.payments.HandleCallback(c.Request().Context(), c.Param("gateway"), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  result.State,
	})
}

// BKashCallback is where bKash sends the browser after checkout. The payment
// is executed and reconciled before the browser lands on a result page.
func (h *PaymentHandler) BKashCallback(c echo.Context) error {
	paymentID := c.QueryParam("paymentID")
	result, err := h.payments.HandleCallback(c.Request().Context(), services.GatewayBKash, services.CallbackPayload{Values: c.QueryParams()})

	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		return err
	}

	target := "/payment/success"
	q := url.Values{}
	q.Set("tran_id", paymentID)
	if err != nil {
		// the success page reports processing and the client verifies later
		h.log.Warn("bKash callback not reconciled", "payment_id", paymentID, "error", err)
	} else {
		if result.Payment.CourseID != nil {
			q.Set("course_id", strconv.FormatUint(uint64(*result.Payment.CourseID), 10))
		}
		if result.State == services.ReconcileFailed {
			target = "/payment/failed"
		}
	}
	return c.Redirect(http.StatusSeeOther, target+"?"+q.Encode())
}

// PaymentSuccess reports local state after the gateway's success redirect.
// A still-pending payment tells the client to verify once after a delay.
func (h *PaymentHandler) PaymentSuccess(c echo.Context) error {
	tranID := c.FormValue("tran_id")
	if tranID == "" {
		return &services.ValidationError{Field: "tran_id", Message: "is required"}
	}

	result, err := h.payments.PaymentState(c.Request().Context(), tranID)
	if err != nil {
		return err
	}

	resp := landingFor(result.Payment, result.State, tranID, parseUintValue(c.FormValue("course_id")))
	switch result.State {
	case services.ReconcileCompleted:
		resp.Message = "Payment confirmed. You are enrolled."
	case services.ReconcileFailed:
		resp.Message = "The payment did not go through."
	default:
		resp.Message = "Payment received, confirming with the provider."
		resp.VerifyAfterMs = h.verifyDelay.Milliseconds()
		resp.VerifyURL = "/api/payments/verify"
	}
	return c.JSON(http.StatusOK, resp)
}

// PaymentFailed handles the failed and cancelled redirects. The browser's
// word never changes the payment: a completed payment is reported as
// completed, and a pending one as processing until the gateway decides.
func (h *PaymentHandler) PaymentFailed(c echo.Context) error {
	tranID := c.FormValue("tran_id")
	courseID := parseUintValue(c.FormValue("course_id"))

	state := services.ReconcileFailed
	var payment *models.Payment
	if tranID != "" {
		result, err := h.payments.PaymentState(c.Request().Context(), tranID)
		switch {
		case err == nil:
			payment = result.Payment
			state = result.State
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	resp := landingFor(payment, state, tranID, courseID)
	switch state {
	case services.ReconcileCompleted:
		resp.Message = "Payment confirmed. You are enrolled."
	case services.ReconcileProcessing:
		resp.Message = "The payment was not confirmed yet. Check back shortly."
		resp.VerifyAfterMs = h.verifyDelay.Milliseconds()
		resp.VerifyURL = "/api/payments/verify"
	default:
		resp.Message = "The payment was not completed. You can try again."
	}
	return c.JSON(http.StatusOK, resp)
}

func landingFor(payment *models.Payment, state services.ReconcileState, tranID string, courseID uint) LandingResponse {
	if payment != nil && payment.CourseID != nil {
		courseID = *payment.CourseID
	}
	resp := LandingResponse{State: state, TransactionID: tranID, CourseID: courseID}
	if state == services.ReconcileFailed && courseID != 0 {
		resp.RetryURL = fmt.Sprintf("/api/courses/%d/enroll", courseID)
	}
	return resp
}

// Verify is the client's single delayed check
func (h *PaymentHandler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if err := h.authorize(c, req.TransactionID); err != nil {
		return err
	}

	result, err := h.payments.VerifyPayment(c.Request().Context(), req.TransactionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Status returns the local state of the caller's payment
func (h *PaymentHandler) Status(c echo.Context) error {
	tranID := c.Param("tran_id")
	if err := h.authorize(c, tranID); err != nil {
		return err
	}
	result, err := h.payments.PaymentState(c.Request().Context(), tranID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// authorize hides payments of other users behind a not found
func (h *PaymentHandler) authorize(c echo.Context, tranID string) error {
	user, err := requireProfile(c, h.store)
	if err != nil {
		return err
	}
	var payment models.Payment
	if err := h.store.First(c.Request().Context(), &payment, store.Filter{"transaction_id": tranID}, ""); err != nil {
		return err
	}
	if payment.UserID == nil || *payment.UserID != user.ID {
		return fmt.Errorf("payment %s: %w", tranID, store.ErrNotFound)
	}
	return nil
}

// readCallbackPayload keeps the raw body for JSON notifications and merges
// form fields with the query string for form posts
func readCallbackPayload(c echo.Context) (services.CallbackPayload, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
	if err != nil {
		return services.CallbackPayload{}, echo.NewHTTPError(http.StatusBadRequest, "Unreadable callback body")
	}

	values := url.Values{}
	for k, vs := range c.QueryParams() {
		values[k] = append(values[k], vs...)
	}
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationForm) {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return services.CallbackPayload{}, echo.NewHTTPError(http.StatusBadRequest, "Malformed form body")
		}
		for k, vs := range form {
			values[k] = append(values[k], vs...)
		}
	}
	return services.CallbackPayload{Values: values, Body: body}, nil
}
