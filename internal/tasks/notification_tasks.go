package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

const receiptTemplate = `Hi $name,

You are now enrolled in "$course". Your enrollment started on $enrolled_at.

Happy learning!`

// EnrollmentReceiptArgs defines the arguments for a receipt task
type EnrollmentReceiptArgs struct {
	EnrollmentID uint `json:"enrollment_id"`
}

// EnrollmentReceiptTaskDef emails the student once an enrollment is created
type EnrollmentReceiptTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *EnrollmentReceiptTaskDef) TaskID() string {
	return "send_enrollment_receipt"
}

// CreateTask builds a ScheduledTask record for this task
func (t *EnrollmentReceiptTaskDef) CreateTask(args EnrollmentReceiptArgs, due time.Time) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, nil, models.ScheduledTaskTypeOneTime, 3)
}

// HandleExecution sends the receipt. A missing SendGrid key skips the send
// instead of failing the task.
func (t *EnrollmentReceiptTaskDef) HandleExecution(ctx context.Context, env *Env, task models.ScheduledTask) (map[string]interface{}, error) {
	var args EnrollmentReceiptArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}

	var enrollment models.Enrollment
	if err := env.Store.First(ctx, &enrollment, store.Filter{"id": args.EnrollmentID}, ""); err != nil {
		return nil, fmt.Errorf("failed to fetch enrollment %d: %w", args.EnrollmentID, err)
	}
	var student models.User
	if err := env.Store.First(ctx, &student, store.Filter{"id": enrollment.StudentID}, ""); err != nil {
		return nil, fmt.Errorf("failed to fetch student %d: %w", enrollment.StudentID, err)
	}
	var course models.Course
	if err := env.Store.First(ctx, &course, store.Filter{"id": enrollment.CourseID}, ""); err != nil {
		return nil, fmt.Errorf("failed to fetch course %d: %w", enrollment.CourseID, err)
	}

	if student.Email == "" {
		return map[string]interface{}{"status": "skipped", "reason": "student has no email"}, nil
	}
	if env.Mailer == nil {
		return map[string]interface{}{"status": "skipped", "reason": "mailer not configured"}, nil
	}

	subject := "You're enrolled in " + course.Title
	body := replacePlaceholders(receiptTemplate, student, course, enrollment)
	err := env.Mailer.SendEmail(ctx, student.Email, student.Name, subject, body)
	if errors.Is(err, services.ErrEmailNotConfigured) {
		env.Log.Info("Skipping enrollment receipt, email not configured", "enrollment_id", enrollment.ID)
		return map[string]interface{}{"status": "skipped", "reason": "email not configured"}, nil
	}
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":        "success",
		"enrollment_id": enrollment.ID,
		"email":         student.Email,
	}, nil
}

// EnrollmentReceiptTask is the singleton instance of EnrollmentReceiptTaskDef
var EnrollmentReceiptTask = &EnrollmentReceiptTaskDef{}

func replacePlaceholders(template string, student models.User, course models.Course, enrollment models.Enrollment) string {
	name := student.Name
	if name == "" {
		name = "there"
	}
	res := strings.ReplaceAll(template, "$name", name)
	res = strings.ReplaceAll(res, "$course", course.Title)
	res = strings.ReplaceAll(res, "$enrolled_at", enrollment.EnrolledAt.Format("2 January 2006"))
	return res
}
