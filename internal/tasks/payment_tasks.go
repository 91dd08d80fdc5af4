package tasks

import (
	"context"
	"fmt"
	"time"

	"coursemarket_echo/internal/models"
)

// RepairFreePaymentArgs identifies the enrollment whose free Payment is missing
type RepairFreePaymentArgs struct {
	CourseID  uint `json:"course_id"`
	StudentID uint `json:"student_id"`
}

// RepairFreePaymentTaskDef re-derives the completed zero-amount Payment of a
// free enrollment after the write was lost
type RepairFreePaymentTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *RepairFreePaymentTaskDef) TaskID() string {
	return "repair_free_payment"
}

// CreateTask builds a ScheduledTask record for this task
func (t *RepairFreePaymentTaskDef) CreateTask(args RepairFreePaymentArgs, due time.Time) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, nil, models.ScheduledTaskTypeOneTime, 5)
}

// HandleExecution re-runs the idempotent free Payment upsert
func (t *RepairFreePaymentTaskDef) HandleExecution(ctx context.Context, env *Env, task models.ScheduledTask) (map[string]interface{}, error) {
	var args RepairFreePaymentArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}
	if args.CourseID == 0 || args.StudentID == 0 {
		return nil, fmt.Errorf("course_id and student_id are required")
	}
	if env.Enrollments == nil {
		return nil, fmt.Errorf("enrollment service not available")
	}

	if err := env.Enrollments.RepairFreePayment(ctx, args.CourseID, args.StudentID); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":     "success",
		"course_id":  args.CourseID,
		"student_id": args.StudentID,
	}, nil
}

// RepairFreePaymentTask is the singleton instance of RepairFreePaymentTaskDef
var RepairFreePaymentTask = &RepairFreePaymentTaskDef{}
