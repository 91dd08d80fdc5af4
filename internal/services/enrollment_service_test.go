package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

func TestEnrollFreeCourse(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	student := seedUser(t, ts.store, "u1")
	course := seedCourse(t, ts.store, "Intro to Go", 0, nil, true)

	res, err := ts.enrollments.Enroll(ctx, student.ID, course.ID)
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}

	if res.Outcome != EnrollOutcomeEnrolled {
		t.Errorf("Outcome = %s; want %s", res.Outcome, EnrollOutcomeEnrolled)
	}
	if res.Enrollment == nil || res.Enrollment.Status != models.EnrollmentStatusActive || res.Enrollment.Progress != 0 {
		t.Errorf("Enrollment = %+v; want active with progress 0", res.Enrollment)
	}
	if res.Payment == nil {
		t.Fatal("expected a free payment")
	}
	if res.Payment.Status != models.PaymentStatusCompleted || !res.Payment.Amount.IsZero() || res.Payment.PaymentMethod != models.PaymentMethodFree {
		t.Errorf("Payment = %+v; want completed, zero, free", res.Payment)
	}
	if res.RedirectURL != "/success?course=Intro+to+Go" {
		t.Errorf("RedirectURL = %q", res.RedirectURL)
	}
	if len(ts.followUps.receipts) != 1 {
		t.Errorf("receipts scheduled = %d; want 1", len(ts.followUps.receipts))
	}
	if len(ts.gateway.sessions) != 0 {
		t.Error("free enrollment must not open a gateway session")
	}
}

func TestEnrollFreeCourseIsIdempotent(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	student := seedUser(t, ts.store, "u1")
	course := seedCourse(t, ts.store, "Intro", 0, nil, true)

	if _, err := ts.enrollments.Enroll(ctx, student.ID, course.ID); err != nil {
		t.Fatalf("first Enroll() error: %v", err)
	}
	res, err := ts.enrollments.Enroll(ctx, student.ID, course.ID)
	if err != nil {
		t.Fatalf("second Enroll() error: %v", err)
	}
	if res.Outcome != EnrollOutcomeAlreadyEnrolled {
		t.Errorf("Outcome = %s; want %s", res.Outcome, EnrollOutcomeAlreadyEnrolled)
	}

	var enrollments []models.Enrollment
	countRows(t, ts.store, &enrollments, nil)
	var payments []models.Payment
	countRows(t, ts.store, &payments, nil)
	if len(enrollments) != 1 || len(payments) != 1 {
		t.Errorf("rows = %d enrollments, %d payments; want 1 and 1", len(enrollments), len(payments))
	}
}

func TestEnrollFreeCourseConcurrently(t *testing.T) {
	ts := newTestServices(t)
	student := seedUser(t, ts.store, "u1")
	course := seedCourse(t, ts.store, "Intro", 0, nil, true)

	const callers = 6
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.enrollments.Enroll(context.Background(), student.ID, course.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Enroll() error: %v", err)
	}

	var enrollments []models.Enrollment
	countRows(t, ts.store, &enrollments, store.Filter{"status": models.EnrollmentStatusActive})
	var payments []models.Payment
	countRows(t, ts.store, &payments, store.Filter{"status": models.PaymentStatusCompleted})
	if len(enrollments) != 1 {
		t.Errorf("active enrollments = %d; want 1", len(enrollments))
	}
	if len(payments) > 1 {
		t.Errorf("completed payments = %d; want at most 1", len(payments))
	}
}

func TestEnrollPaidCourseUsesDiscountedPrice(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	student := seedUser(t, ts.store, "u1")
	discounted := int64(800)
	course := seedCourse(t, ts.store, "Advanced Go", 1000, &discounted, true)

	res, err := ts.enrollments.Enroll(ctx, student.ID, course.ID)
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}

	if res.Outcome != EnrollOutcomePaymentRequired {
		t.Fatalf("Outcome = %s; want %s", res.Outcome, EnrollOutcomePaymentRequired)
	}
	if res.Payment.Status != models.PaymentStatusPending {
		t.Errorf("payment status = %s; want pending", res.Payment.Status)
	}
	if !res.Payment.Amount.Equal(decimal.NewFromInt(800)) {
		t.Errorf("payment amount = %s; want 800", res.Payment.Amount)
	}
	if res.RedirectURL == "" {
		t.Error("expected a gateway redirect url")
	}
	if got := ts.gateway.sessions[0].Amount; !got.Equal(decimal.NewFromInt(800)) {
		t.Errorf("session amount = %s; want 800", got)
	}
	wantSuccess := fmt.Sprintf("https://app.example.com/payment/success?course_id=%d&tran_id=%s", course.ID, res.Payment.TranID())
	if ts.gateway.sessions[0].SuccessURL != wantSuccess {
		t.Errorf("SuccessURL = %q; want %q", ts.gateway.sessions[0].SuccessURL, wantSuccess)
	}

	var enrollments []models.Enrollment
	countRows(t, ts.store, &enrollments, nil)
	if len(enrollments) != 0 {
		t.Errorf("paid enrollment written before payment: %d rows", len(enrollments))
	}
	var sessions []models.PaymentSession
	countRows(t, ts.store, &sessions, nil)
	if len(sessions) != 1 || sessions[0].PaymentID != res.Payment.ID {
		t.Errorf("payment session audit = %+v", sessions)
	}
}

func TestEnrollStoresGatewaySessionID(t *testing.T) {
	ts := newTestServices(t)
	ts.gateway.sessionID = "TR0011"
	student := seedUser(t, ts.store, "u1")
	course := seedCourse(t, ts.store, "Paid", 500, nil, true)

	res, err := ts.enrollments.Enroll(context.Background(), student.ID, course.ID)
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}
	if res.Payment.TranID() != "TR0011" {
		t.Errorf("transaction id = %q; want gateway session id", res.Payment.TranID())
	}
	var stored models.Payment
	if err := ts.store.First(context.Background(), &stored, store.Filter{"transaction_id": "TR0011"}, ""); err != nil {
		t.Errorf("payment not stored under session id: %v", err)
	}
}

func TestEnrollValidation(t *testing.T) {
	ts := newTestServices(t)
	student := seedUser(t, ts.store, "u1")
	unpublished := seedCourse(t, ts.store, "Draft", 100, nil, false)
	published := seedCourse(t, ts.store, "Live", 100, nil, true)

	tests := []struct {
		name      string
		studentID uint
		courseID  uint
		field     string
	}{
		{"unpublished course", student.ID, unpublished.ID, "course"},
		{"missing profile", 9999, published.ID, "profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.enrollments.Enroll(context.Background(), tt.studentID, tt.courseID)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Enroll() error = %v; want ValidationError", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q; want %q", vErr.Field, tt.field)
			}
		})
	}

	var payments []models.Payment
	countRows(t, ts.store, &payments, nil)
	if len(payments) != 0 {
		t.Errorf("validation failures wrote %d payments", len(payments))
	}
}

func TestEnrollSessionErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected models.PaymentStatus
	}{
		{"rejected session", &GatewaySessionError{Gateway: "fake", Reason: "no usable redirect url"}, models.PaymentStatusFailed},
		{"timed out session", fmt.Errorf("fake create session: %w", ErrGatewayTimeout), models.PaymentStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServices(t)
			ts.gateway.sessionErr = tt.err
			student := seedUser(t, ts.store, "u1")
			course := seedCourse(t, ts.store, "Paid", 500, nil, true)

			_, err := ts.enrollments.Enroll(context.Background(), student.ID, course.ID)
			if !IsProcessing(err) {
				t.Fatalf("Enroll() error = %v; want a processing error", err)
			}

			var payments []models.Payment
			countRows(t, ts.store, &payments, nil)
			if len(payments) != 1 || payments[0].Status != tt.expected {
				t.Errorf("payments = %+v; want one %s payment", payments, tt.expected)
			}
		})
	}
}

func TestEnrollFreeCoursePartialWrite(t *testing.T) {
	base := newTestStore(t)
	ctx := context.Background()
	fu := &recordingFollowUps{}
	svc := NewEnrollmentService(failingPaymentStore{Store: base}, nil, fu, logger.Nop())

	student := seedUser(t, base, "u1")
	course := seedCourse(t, base, "Free", 0, nil, true)

	res, err := svc.Enroll(ctx, student.ID, course.ID)
	if err != nil {
		t.Fatalf("Enroll() error = %v; want access granted despite payment failure", err)
	}
	if res.Enrollment == nil || !res.Enrollment.GrantsAccess() {
		t.Errorf("Enrollment = %+v; want active", res.Enrollment)
	}
	if res.Payment != nil {
		t.Errorf("Payment = %+v; want nil after failed write", res.Payment)
	}
	if len(fu.repairs) != 1 || fu.repairs[0] != [2]uint{course.ID, student.ID} {
		t.Errorf("repairs = %v; want one for the enrollment", fu.repairs)
	}

	// the repair path re-derives the payment once the store recovers
	healthy := NewEnrollmentService(base, nil, fu, logger.Nop())
	if err := healthy.RepairFreePayment(ctx, course.ID, student.ID); err != nil {
		t.Fatalf("RepairFreePayment() error: %v", err)
	}
	var payments []models.Payment
	countRows(t, base, &payments, nil)
	if len(payments) != 1 || payments[0].TranID() != FreeTransactionID(course.ID, student.ID) {
		t.Errorf("payments after repair = %+v", payments)
	}

	// repairing twice is harmless
	if err := healthy.RepairFreePayment(ctx, course.ID, student.ID); err != nil {
		t.Fatalf("second RepairFreePayment() error: %v", err)
	}
	payments = nil
	countRows(t, base, &payments, nil)
	if len(payments) != 1 {
		t.Errorf("payments after second repair = %d; want 1", len(payments))
	}
}

func TestEnrollReactivatesCancelledEnrollment(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	student := seedUser(t, ts.store, "u1")
	course := seedCourse(t, ts.store, "Free", 0, nil, true)

	cancelled := models.Enrollment{CourseID: course.ID, StudentID: student.ID, Status: models.EnrollmentStatusCancelled, Progress: 40}
	if err := ts.store.Insert(ctx, &cancelled); err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}

	res, err := ts.enrollments.Enroll(ctx, student.ID, course.ID)
	if err != nil {
		t.Fatalf("Enroll() error: %v", err)
	}
	if res.Enrollment.ID != cancelled.ID || res.Enrollment.Status != models.EnrollmentStatusActive {
		t.Errorf("Enrollment = %+v; want the same row reactivated", res.Enrollment)
	}
	if res.Enrollment.Progress != 40 {
		t.Errorf("Progress = %d; want kept at 40", res.Enrollment.Progress)
	}
}
