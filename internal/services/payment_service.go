package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

// ReconcileState is what the student is told about a payment
type ReconcileState string

const (
	ReconcileCompleted  ReconcileState = "completed"
	ReconcileFailed     ReconcileState = "failed"
	ReconcileProcessing ReconcileState = "processing"
)

type ReconcileResult struct {
	Payment    *models.Payment    `json:"payment"`
	Enrollment *models.Enrollment `json:"enrollment,omitempty"`
	State      ReconcileState     `json:"state"`
	Changed    bool               `json:"changed"`
}

// Checkout is a freshly opened gateway session and its pending Payment
type Checkout struct {
	Payment     *models.Payment
	Session     *models.PaymentSession
	RedirectURL string
}

type PaymentService struct {
	store     store.Store
	gateways  map[string]PaymentGateway
	active    PaymentGateway
	appURL    string
	timeout   time.Duration
	followUps FollowUps
	log       *logger.Logger
}

// NewPaymentService builds the reconciliation service. active opens new
// sessions; gateways resolves callbacks and verifications for any payment
// by the gateway recorded on it.
func NewPaymentService(st store.Store, gateways map[string]PaymentGateway, active PaymentGateway, appURL string, timeout time.Duration, followUps FollowUps, log *logger.Logger) *PaymentService {
	if followUps == nil {
		followUps = noFollowUps{}
	}
	return &PaymentService{
		store:     st,
		gateways:  gateways,
		active:    active,
		appURL:    appURL,
		timeout:   timeout,
		followUps: followUps,
		log:       log,
	}
}

// StartCheckout records a pending Payment and opens a session with the
// active gateway. A rejected session fails the Payment; a timed-out one
// leaves it pending because the gateway may still have created it.
func (s *PaymentService) StartCheckout(ctx context.Context, course *models.Course, student *models.User) (*Checkout, error) {
	if s.active == nil {
		return nil, &GatewaySessionError{Gateway: "none", Reason: "no payment gateway configured"}
	}
	gw := s.active

	tranID := "CM-" + uuid.NewString()
	courseID, userID := course.ID, student.ID
	payment := &models.Payment{
		CourseID:      &courseID,
		UserID:        &userID,
		Amount:        course.EffectivePrice(),
		Currency:      course.Currency,
		Status:        models.PaymentStatusPending,
		PaymentMethod: gw.Method(),
		Gateway:       gw.Name(),
		TransactionID: &tranID,
		PaymentDate:   time.Now(),
	}
	if err := s.store.Insert(ctx, payment); err != nil {
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	req := SessionRequest{
		TransactionID: tranID,
		CourseID:      course.ID,
		CourseTitle:   course.Title,
		StudentID:     student.ID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		CustomerName:  student.Name,
		CustomerEmail: student.Email,
		CustomerPhone: student.Phone,
		SuccessURL:    s.redirectURL("/payment/success", course.ID, tranID),
		FailURL:       s.redirectURL("/payment/failed", course.ID, tranID),
		CancelURL:     s.redirectURL("/payment/cancel", course.ID, tranID),
		CallbackURL:   s.callbackURL(gw.Name()),
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := gw.CreateSession(sctx, req)
	if err != nil {
		s.log.Warn("Payment session creation failed",
			"gateway", gw.Name(),
			"transaction_id", tranID,
			"error", err,
		)
		if !errors.Is(err, ErrGatewayTimeout) {
			s.failRejectedSession(ctx, payment)
		}
		return nil, err
	}

	if session.SessionID != tranID {
		sessionID := session.SessionID
		if _, err := s.store.Update(ctx, &models.Payment{},
			store.Filter{"id": payment.ID, "status": models.PaymentStatusPending},
			map[string]interface{}{"transaction_id": sessionID},
		); err != nil {
			return nil, fmt.Errorf("store session id on payment %d: %w", payment.ID, err)
		}
		payment.TransactionID = &sessionID
	}

	audit := &models.PaymentSession{
		PaymentID:        payment.ID,
		CourseID:         course.ID,
		UserID:           student.ID,
		Gateway:          gw.Name(),
		SessionID:        session.SessionID,
		RedirectURL:      session.RedirectURL,
		RequestMetadata:  marshalMetadata(session.Request),
		ResponseMetadata: marshalMetadata(session.Response),
	}
	if err := s.store.Insert(ctx, audit); err != nil {
		s.log.Warn("Failed to store payment session audit", "payment_id", payment.ID, "error", err)
	}

	s.log.Info("Payment session created",
		"gateway", gw.Name(),
		"payment_id", payment.ID,
		"transaction_id", payment.TranID(),
		"amount", payment.Amount.String(),
	)

	return &Checkout{Payment: payment, Session: audit, RedirectURL: session.RedirectURL}, nil
}

func (s *PaymentService) failRejectedSession(ctx context.Context, payment *models.Payment) {
	if _, err := s.store.Update(ctx, &models.Payment{},
		store.Filter{"id": payment.ID, "status": models.PaymentStatusPending},
		map[string]interface{}{"status": models.PaymentStatusFailed, "gateway_status": "session_rejected"},
	); err != nil {
		s.log.Error("Failed to mark rejected session payment", "payment_id", payment.ID, "error", err)
		return
	}
	payment.Status = models.PaymentStatusFailed
	payment.GatewayStatus = "session_rejected"
}

func (s *PaymentService) redirectURL(path string, courseID uint, tranID string) string {
	q := url.Values{}
	q.Set("course_id", strconv.FormatUint(uint64(courseID), 10))
	q.Set("tran_id", tranID)
	return s.appURL + path + "?" + q.Encode()
}

// callbackURL is where the gateway reports back. bKash sends the browser
// there, the others post server to server.
func (s *PaymentService) callbackURL(gateway string) string {
	if gateway == GatewayBKash {
		return s.appURL + "/payment/callback/" + gateway
	}
	return s.appURL + "/payment/ipn/" + gateway
}

// HandleCallback applies a gateway callback or IPN. Callbacks for a payment
// that is already terminal change nothing.
func (s *PaymentService) HandleCallback(ctx context.Context, gatewayName string, payload CallbackPayload) (*ReconcileResult, error) {
	gw, ok := s.gateways[gatewayName]
	if !ok {
		return nil, &ValidationError{Field: "gateway", Message: "unknown payment gateway " + gatewayName}
	}

	history := s.recordCallback(ctx, gatewayName, payload)

	parsed, err := gw.ParseCallback(ctx, payload)
	if err != nil {
		s.finishCallback(ctx, history, "", "rejected")
		return nil, err
	}

	payment, err := s.locatePayment(ctx, parsed)
	if err != nil {
		s.finishCallback(ctx, history, parsed.TransactionID, "unmatched")
		return nil, err
	}

	result, err := s.applyStatus(ctx, payment, parsed.Status, parsed.GatewayStatus, "callback")
	if err != nil {
		s.finishCallback(ctx, history, parsed.TransactionID, "error")
		return nil, err
	}
	s.finishCallback(ctx, history, parsed.TransactionID, string(result.State))
	return result, nil
}

// VerifyPayment is the client's single delayed check after returning from the
// gateway. Terminal payments never reach the gateway, and any gateway trouble
// leaves the payment pending and reports processing.
func (s *PaymentService) VerifyPayment(ctx context.Context, transactionID string) (*ReconcileResult, error) {
	payment, err := s.findByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsTerminal() {
		return s.settle(ctx, payment, false)
	}

	gw, ok := s.gateways[payment.Gateway]
	if !ok {
		s.log.Warn("No gateway configured for pending payment", "payment_id", payment.ID, "gateway", payment.Gateway)
		return &ReconcileResult{Payment: payment, State: ReconcileProcessing}, nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	verified, err := gw.Verify(vctx, transactionID)
	if err != nil {
		s.log.Warn("Payment verification failed, leaving pending",
			"gateway", gw.Name(),
			"transaction_id", transactionID,
			"timeout", errors.Is(err, ErrGatewayTimeout),
			"error", err,
		)
		return &ReconcileResult{Payment: payment, State: ReconcileProcessing}, nil
	}
	if !verified.Success || verified.Status == models.PaymentStatusPending {
		return &ReconcileResult{Payment: payment, State: ReconcileProcessing}, nil
	}

	return s.applyStatus(ctx, payment, verified.Status, verified.GatewayStatus, "verify")
}

// PaymentState reports the local state of a payment without asking the gateway
func (s *PaymentService) PaymentState(ctx context.Context, transactionID string) (*ReconcileResult, error) {
	payment, err := s.findByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	result := &ReconcileResult{Payment: payment, State: stateOf(payment.Status)}
	if payment.Status == models.PaymentStatusCompleted && payment.CourseID != nil && payment.UserID != nil {
		enrollment, err := findEnrollment(ctx, s.store, *payment.CourseID, *payment.UserID)
		if err != nil {
			return nil, err
		}
		result.Enrollment = enrollment
	}
	return result, nil
}

func (s *PaymentService) findByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.store.First(ctx, &payment, store.Filter{"transaction_id": transactionID}, ""); err != nil {
		return nil, fmt.Errorf("payment %s: %w", transactionID, err)
	}
	return &payment, nil
}

// locatePayment finds the payment a callback is about: by transaction id, or
// else the newest pending payment of the course and user that has no
// transaction id yet, which is then given this one
func (s *PaymentService) locatePayment(ctx context.Context, cb *CallbackResult) (*models.Payment, error) {
	var payment models.Payment
	err := s.store.First(ctx, &payment, store.Filter{"transaction_id": cb.TransactionID}, "")
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("payment %s: %w", cb.TransactionID, err)
	}
	if cb.CourseID == 0 || cb.UserID == 0 {
		return nil, fmt.Errorf("payment %s: %w", cb.TransactionID, store.ErrNotFound)
	}

	err = s.store.First(ctx, &payment, store.Filter{
		"course_id":      cb.CourseID,
		"user_id":        cb.UserID,
		"status":         models.PaymentStatusPending,
		"transaction_id": nil,
	}, "created_at desc, id desc")
	if err != nil {
		return nil, fmt.Errorf("payment %s by course %d and user %d: %w", cb.TransactionID, cb.CourseID, cb.UserID, err)
	}

	n, err := s.store.Update(ctx, &models.Payment{},
		store.Filter{"id": payment.ID, "transaction_id": nil},
		map[string]interface{}{"transaction_id": cb.TransactionID},
	)
	if err != nil {
		return nil, fmt.Errorf("back-fill transaction id on payment %d: %w", payment.ID, err)
	}
	if n == 0 {
		// someone else claimed it first; reload to see what they wrote
		if err := s.store.First(ctx, &payment, store.Filter{"id": payment.ID}, ""); err != nil {
			return nil, err
		}
		return &payment, nil
	}
	txID := cb.TransactionID
	payment.TransactionID = &txID
	return &payment, nil
}

// applyStatus moves a pending payment to the reported terminal status with a
// conditional update, so concurrent callbacks and verifies apply it once
func (s *PaymentService) applyStatus(ctx context.Context, payment *models.Payment, reported models.PaymentStatus, gatewayStatus, source string) (*ReconcileResult, error) {
	if reported == models.PaymentStatusPending {
		return &ReconcileResult{Payment: payment, State: stateOf(payment.Status)}, nil
	}

	if payment.Status.IsTerminal() {
		s.reportConflict(payment, reported, source)
		return s.settle(ctx, payment, false)
	}

	if err := models.ValidatePaymentTransition(payment.Status, reported); err != nil {
		return nil, err
	}

	n, err := s.store.Update(ctx, &models.Payment{},
		store.Filter{"id": payment.ID, "status": models.PaymentStatusPending},
		map[string]interface{}{
			"status":         reported,
			"gateway_status": gatewayStatus,
			"payment_date":   time.Now(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("update payment %d: %w", payment.ID, err)
	}

	var current models.Payment
	if err := s.store.First(ctx, &current, store.Filter{"id": payment.ID}, ""); err != nil {
		return nil, fmt.Errorf("reload payment %d: %w", payment.ID, err)
	}
	if n == 0 {
		s.reportConflict(&current, reported, source)
	} else {
		s.log.Info("Payment reconciled",
			"payment_id", current.ID,
			"transaction_id", current.TranID(),
			"status", current.Status,
			"source", source,
		)
	}
	return s.settle(ctx, &current, n > 0)
}

func (s *PaymentService) reportConflict(payment *models.Payment, reported models.PaymentStatus, source string) {
	if payment.Status == reported {
		return
	}
	conflict := &ReconciliationConflictError{
		TransactionID: payment.TranID(),
		Local:         payment.Status,
		Reported:      reported,
		Source:        source,
	}
	s.log.Warn("Ignoring status report for settled payment", "error", conflict)
}

// settle makes sure a completed payment has its enrollment. Running it again
// for the same payment is harmless.
func (s *PaymentService) settle(ctx context.Context, payment *models.Payment, changed bool) (*ReconcileResult, error) {
	result := &ReconcileResult{Payment: payment, State: stateOf(payment.Status), Changed: changed}
	if payment.Status != models.PaymentStatusCompleted {
		return result, nil
	}
	if payment.CourseID == nil || payment.UserID == nil {
		s.log.Error("Completed payment has no course or user", "payment_id", payment.ID)
		return result, nil
	}

	enrollment, created, err := ensureActiveEnrollment(ctx, s.store, *payment.CourseID, *payment.UserID)
	if err != nil {
		return nil, fmt.Errorf("enroll after payment %d: %w", payment.ID, err)
	}
	if created {
		if err := s.followUps.EnrollmentReceipt(ctx, enrollment); err != nil {
			s.log.Warn("Failed to schedule enrollment receipt", "enrollment_id", enrollment.ID, "error", err)
		}
	}
	result.Enrollment = enrollment
	return result, nil
}

func (s *PaymentService) recordCallback(ctx context.Context, gateway string, payload CallbackPayload) *models.PaymentCallbackHistory {
	meta := map[string]interface{}{"values": payload.Values}
	if len(payload.Body) > 0 {
		meta["body"] = string(payload.Body)
	}
	row := &models.PaymentCallbackHistory{
		Gateway:       gateway,
		TransactionID: firstNonEmpty(payload.Values.Get("tran_id"), payload.Values.Get("paymentID")),
		Outcome:       "received",
		Metadata:      marshalMetadata(meta),
	}
	if err := s.store.Insert(ctx, row); err != nil {
		s.log.Warn("Failed to record payment callback", "gateway", gateway, "error", err)
		return nil
	}
	return row
}

func (s *PaymentService) finishCallback(ctx context.Context, row *models.PaymentCallbackHistory, transactionID, outcome string) {
	if row == nil {
		return
	}
	patch := map[string]interface{}{"outcome": outcome}
	if transactionID != "" {
		patch["transaction_id"] = transactionID
	}
	if _, err := s.store.Update(ctx, &models.PaymentCallbackHistory{}, store.Filter{"id": row.ID}, patch); err != nil {
		s.log.Warn("Failed to update payment callback record", "id", row.ID, "error", err)
	}
}

func stateOf(status models.PaymentStatus) ReconcileState {
	switch status {
	case models.PaymentStatusCompleted:
		return ReconcileCompleted
	case models.PaymentStatusFailed:
		return ReconcileFailed
	default:
		return ReconcileProcessing
	}
}

func marshalMetadata(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
