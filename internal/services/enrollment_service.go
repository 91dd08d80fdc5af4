package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

// FollowUps schedules work that must not block the request that caused it
type FollowUps interface {
	FreePaymentRepair(ctx context.Context, courseID, studentID uint) error
	EnrollmentReceipt(ctx context.Context, enrollment *models.Enrollment) error
}

type noFollowUps struct{}

func (noFollowUps) FreePaymentRepair(context.Context, uint, uint) error           { return nil }
func (noFollowUps) EnrollmentReceipt(context.Context, *models.Enrollment) error { return nil }

type EnrollOutcome string

const (
	EnrollOutcomeAlreadyEnrolled EnrollOutcome = "already_enrolled"
	EnrollOutcomeEnrolled        EnrollOutcome = "enrolled"
	EnrollOutcomePaymentRequired EnrollOutcome = "payment_required"
)

type EnrollResult struct {
	Outcome     EnrollOutcome      `json:"outcome"`
	Enrollment  *models.Enrollment `json:"enrollment,omitempty"`
	Payment     *models.Payment    `json:"payment,omitempty"`
	RedirectURL string             `json:"redirect_url"`
}

type EnrollmentService struct {
	store     store.Store
	payments  *PaymentService
	followUps FollowUps
	log       *logger.Logger
}

// NewEnrollmentService builds the service. followUps may be nil.
func NewEnrollmentService(st store.Store, payments *PaymentService, followUps FollowUps, log *logger.Logger) *EnrollmentService {
	if followUps == nil {
		followUps = noFollowUps{}
	}
	return &EnrollmentService{store: st, payments: payments, followUps: followUps, log: log}
}

// Enroll turns a student's intent to take a course into either an active
// enrollment (free courses) or a pending payment with a gateway redirect.
// A paid enrollment is only ever written by payment reconciliation.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, courseID uint) (*EnrollResult, error) {
	var student models.User
	if err := s.store.First(ctx, &student, store.Filter{"id": studentID}, ""); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ValidationError{Field: "profile", Message: "student profile not found"}
		}
		return nil, fmt.Errorf("load student: %w", err)
	}

	var course models.Course
	if err := s.store.First(ctx, &course, store.Filter{"id": courseID}, ""); err != nil {
		return nil, fmt.Errorf("load course %d: %w", courseID, err)
	}
	if !course.IsPublished {
		return nil, &ValidationError{Field: "course", Message: "course is not published"}
	}
	if course.EffectivePrice().IsNegative() {
		return nil, &ValidationError{Field: "price", Message: "course price is invalid"}
	}

	existing, err := findEnrollment(ctx, s.store, courseID, studentID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != models.EnrollmentStatusCancelled {
		if course.IsFree() {
			s.deriveFreePayment(ctx, &course, studentID)
		}
		return &EnrollResult{
			Outcome:     EnrollOutcomeAlreadyEnrolled,
			Enrollment:  existing,
			RedirectURL: SuccessPath(course.Title),
		}, nil
	}

	if course.IsFree() {
		return s.enrollFree(ctx, &course, studentID)
	}

	checkout, err := s.payments.StartCheckout(ctx, &course, &student)
	if err != nil {
		return nil, err
	}
	return &EnrollResult{
		Outcome:     EnrollOutcomePaymentRequired,
		Payment:     checkout.Payment,
		RedirectURL: checkout.RedirectURL,
	}, nil
}

func (s *EnrollmentService) enrollFree(ctx context.Context, course *models.Course, studentID uint) (*EnrollResult, error) {
	enrollment, created, err := ensureActiveEnrollment(ctx, s.store, course.ID, studentID)
	if err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	if created {
		if err := s.followUps.EnrollmentReceipt(ctx, enrollment); err != nil {
			s.log.Warn("Failed to schedule enrollment receipt", "enrollment_id", enrollment.ID, "error", err)
		}
	}

	payment := s.deriveFreePayment(ctx, course, studentID)

	return &EnrollResult{
		Outcome:     EnrollOutcomeEnrolled,
		Enrollment:  enrollment,
		Payment:     payment,
		RedirectURL: SuccessPath(course.Title),
	}, nil
}

// deriveFreePayment writes the completed free Payment if it is missing. A
// failure never takes away access that is already granted; it is logged and
// handed to a repair task.
func (s *EnrollmentService) deriveFreePayment(ctx context.Context, course *models.Course, studentID uint) *models.Payment {
	payment, err := ensureFreePayment(ctx, s.store, course, studentID)
	if err == nil {
		return payment
	}

	partial := &PartialWriteError{Op: "free enrollment payment", Err: err}
	s.log.Error("Free enrollment left without payment record",
		"course_id", course.ID,
		"student_id", studentID,
		"error", partial,
	)
	if ferr := s.followUps.FreePaymentRepair(ctx, course.ID, studentID); ferr != nil {
		s.log.Error("Failed to schedule free payment repair", "course_id", course.ID, "student_id", studentID, "error", ferr)
	}
	return nil
}

// RepairFreePayment re-derives the completed free Payment of an existing
// enrollment. It is a no-op when the course is no longer free or the student
// holds no enrollment.
func (s *EnrollmentService) RepairFreePayment(ctx context.Context, courseID, studentID uint) error {
	var course models.Course
	if err := s.store.First(ctx, &course, store.Filter{"id": courseID}, ""); err != nil {
		return fmt.Errorf("load course %d: %w", courseID, err)
	}
	if !course.IsFree() {
		return nil
	}
	enrollment, err := findEnrollment(ctx, s.store, courseID, studentID)
	if err != nil {
		return err
	}
	if enrollment == nil {
		return nil
	}
	_, err = ensureFreePayment(ctx, s.store, &course, studentID)
	return err
}

// SuccessPath is the landing route after a free enrollment
func SuccessPath(courseTitle string) string {
	return "/success?course=" + url.QueryEscape(courseTitle)
}

// FreeTransactionID is deterministic so that repeated free enrollments of the
// same student collapse onto one Payment row
func FreeTransactionID(courseID, studentID uint) string {
	return fmt.Sprintf("free-%d-%d", courseID, studentID)
}

func findEnrollment(ctx context.Context, st store.Store, courseID, studentID uint) (*models.Enrollment, error) {
	var e models.Enrollment
	err := st.First(ctx, &e, store.Filter{"course_id": courseID, "student_id": studentID}, "")
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	return &e, nil
}

// ensureActiveEnrollment makes sure exactly one active enrollment exists for
// the pair. created is true when this call inserted or reactivated it.
func ensureActiveEnrollment(ctx context.Context, st store.Store, courseID, studentID uint) (*models.Enrollment, bool, error) {
	now := time.Now()
	row := &models.Enrollment{
		CourseID:   courseID,
		StudentID:  studentID,
		Status:     models.EnrollmentStatusActive,
		Progress:   0,
		EnrolledAt: now,
	}
	inserted, err := st.Upsert(ctx, row, []string{"course_id", "student_id"})
	if err != nil {
		return nil, false, err
	}

	current, err := findEnrollment(ctx, st, courseID, studentID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, fmt.Errorf("enrollment for course %d student %d: %w", courseID, studentID, store.ErrNotFound)
	}

	if current.Status != models.EnrollmentStatusCancelled {
		return current, inserted > 0, nil
	}

	if err := models.ValidateEnrollmentTransition(current.Status, models.EnrollmentStatusActive); err != nil {
		return nil, false, err
	}
	reactivated, err := st.Update(ctx, &models.Enrollment{},
		store.Filter{"id": current.ID, "status": models.EnrollmentStatusCancelled},
		map[string]interface{}{"status": models.EnrollmentStatusActive, "enrolled_at": now},
	)
	if err != nil {
		return nil, false, fmt.Errorf("reactivate enrollment %d: %w", current.ID, err)
	}
	current, err = findEnrollment(ctx, st, courseID, studentID)
	if err != nil {
		return nil, false, err
	}
	return current, reactivated > 0, nil
}

func ensureFreePayment(ctx context.Context, st store.Store, course *models.Course, studentID uint) (*models.Payment, error) {
	txID := FreeTransactionID(course.ID, studentID)
	courseID, userID := course.ID, studentID
	row := &models.Payment{
		CourseID:      &courseID,
		UserID:        &userID,
		Amount:        decimal.Zero,
		Currency:      course.Currency,
		Status:        models.PaymentStatusCompleted,
		PaymentMethod: models.PaymentMethodFree,
		Gateway:       string(models.PaymentMethodFree),
		TransactionID: &txID,
		PaymentDate:   time.Now(),
	}
	if _, err := st.Upsert(ctx, row, []string{"transaction_id"}); err != nil {
		return nil, err
	}

	var payment models.Payment
	if err := st.First(ctx, &payment, store.Filter{"transaction_id": txID}, ""); err != nil {
		return nil, err
	}
	return &payment, nil
}
