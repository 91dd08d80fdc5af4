package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

const pruneRule = "FREQ=DAILY;BYHOUR=3;BYMINUTE=0;BYSECOND=0"

// PruneCallbackHistoryArgs overrides the configured retention when set
type PruneCallbackHistoryArgs struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// PruneCallbackHistoryTaskDef deletes raw callback payloads past retention.
// Payments and enrollments are never touched.
type PruneCallbackHistoryTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *PruneCallbackHistoryTaskDef) TaskID() string {
	return "prune_callback_history"
}

// CreateTask builds the recurring ScheduledTask record for this task
func (t *PruneCallbackHistoryTaskDef) CreateTask(args PruneCallbackHistoryArgs, due time.Time) (*models.ScheduledTask, error) {
	rule := pruneRule
	return BuildScheduledTask(t.TaskID(), args, due, &rule, models.ScheduledTaskTypeRecurring, 3)
}

func (t *PruneCallbackHistoryTaskDef) HandleExecution(ctx context.Context, env *Env, task models.ScheduledTask) (map[string]interface{}, error) {
	var args PruneCallbackHistoryArgs
	if err := decodeArgs(task, &args); err != nil {
		return nil, err
	}

	retention := env.CallbackRetention
	if args.RetentionDays > 0 {
		retention = time.Duration(args.RetentionDays) * 24 * time.Hour
	}
	if retention <= 0 {
		return map[string]interface{}{"status": "skipped", "reason": "retention disabled"}, nil
	}

	cutoff := time.Now().Add(-retention)
	deleted, err := env.Store.Delete(ctx, &models.PaymentCallbackHistory{}, store.Filter{"created_at <": cutoff})
	if err != nil {
		return nil, fmt.Errorf("failed to prune callback history: %w", err)
	}
	env.Log.Info("Pruned payment callback history", "deleted", deleted, "cutoff", cutoff)

	return map[string]interface{}{
		"status":  "success",
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}, nil
}

// PruneCallbackHistoryTask is the singleton instance of PruneCallbackHistoryTaskDef
var PruneCallbackHistoryTask = &PruneCallbackHistoryTaskDef{}

// EnsureMaintenanceTasks schedules the recurring prune task unless an active
// or running one already exists
func EnsureMaintenanceTasks(ctx context.Context, st store.Store, now time.Time) (bool, error) {
	var existing models.ScheduledTask
	err := st.First(ctx, &existing, store.Filter{
		"task_name": PruneCallbackHistoryTask.TaskID(),
		"status":    []string{string(models.ScheduledTaskStatusActive), string(models.ScheduledTaskStatusRunning)},
	}, "")
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	task, err := PruneCallbackHistoryTask.CreateTask(PruneCallbackHistoryArgs{}, now)
	if err != nil {
		return false, err
	}
	if err := st.Insert(ctx, task); err != nil {
		return false, fmt.Errorf("failed to schedule %s: %w", task.TaskName, err)
	}
	return true, nil
}
