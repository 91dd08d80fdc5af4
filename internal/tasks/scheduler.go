package tasks

import (
	"context"
	"fmt"
	"time"

	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

// Scheduler enqueues the purchase pipeline's follow-up tasks. It satisfies
// services.FollowUps.
type Scheduler struct {
	store store.Store
	now   func() time.Time
}

func NewScheduler(st store.Store) *Scheduler {
	return &Scheduler{store: st, now: time.Now}
}

// FreePaymentRepair schedules a repair of a lost free Payment write. The
// short delay lets a transient store failure clear first.
func (s *Scheduler) FreePaymentRepair(ctx context.Context, courseID, studentID uint) error {
	task, err := RepairFreePaymentTask.CreateTask(RepairFreePaymentArgs{CourseID: courseID, StudentID: studentID}, s.now().Add(time.Minute))
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task)
}

// EnrollmentReceipt schedules the receipt email for a new enrollment
func (s *Scheduler) EnrollmentReceipt(ctx context.Context, enrollment *models.Enrollment) error {
	task, err := EnrollmentReceiptTask.CreateTask(EnrollmentReceiptArgs{EnrollmentID: enrollment.ID}, s.now())
	if err != nil {
		return err
	}
	return s.enqueue(ctx, task)
}

func (s *Scheduler) enqueue(ctx context.Context, task *models.ScheduledTask) error {
	if err := s.store.Insert(ctx, task); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", task.TaskName, err)
	}
	return nil
}
