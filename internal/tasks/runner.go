package tasks

import (
	"context"
	"fmt"
	"time"

	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

// Runner executes due scheduled tasks. Each task is claimed with a
// conditional update first, so overlapping ticks or workers run it once.
type Runner struct {
	registry *Registry
	env      *Env
	now      func() time.Time
}

func NewRunner(registry *Registry, env *Env) *Runner {
	return &Runner{registry: registry, env: env, now: time.Now}
}

// RunDue processes every active task whose due time has passed and returns
// how many were claimed
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	now := r.now()

	var pending []models.ScheduledTask
	if err := r.env.Store.Select(ctx, &pending, store.Filter{
		"status": models.ScheduledTaskStatusActive,
		"due <=": now,
	}, "due asc, id asc"); err != nil {
		return 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	if len(pending) == 0 {
		r.env.Log.Debug("No pending tasks found")
		return 0, nil
	}
	r.env.Log.Info("Found pending tasks", "count", len(pending))

	claimed := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return claimed, ctx.Err()
		}

		n, err := r.env.Store.Update(ctx, &models.ScheduledTask{},
			store.Filter{"id": task.ID, "status": models.ScheduledTaskStatusActive},
			map[string]interface{}{"status": models.ScheduledTaskStatusRunning, "last_run": now},
		)
		if err != nil {
			r.env.Log.Error("Failed to claim task", "task_id", task.ID, "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		claimed++
		r.execute(ctx, task)
	}
	return claimed, nil
}

// execute runs a claimed task up to MaxAttempt times, recording a history
// row per attempt, then settles its status
func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	log := r.env.Log.With("task", task.TaskName, "task_id", task.ID)
	log.Info("Processing task")

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Warn("Task handler not found, marking as failure")
		r.recordHistory(ctx, task, r.now(), 0, "handler_not_found", 1, map[string]interface{}{"error": "Handler not found"})
		r.finish(ctx, task, map[string]interface{}{"status": models.ScheduledTaskStatusFailure})
		return
	}

	maxAttempt := task.MaxAttempt
	if maxAttempt < 1 {
		maxAttempt = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempt; attempt++ {
		startTime, clock := r.now(), time.Now()
		var result map[string]interface{}
		result, err = handler(ctx, r.env, task)
		runtime := time.Since(clock)

		status := "success"
		if err != nil {
			status = "failure"
			result = map[string]interface{}{"error": err.Error()}
			log.Warn("Task attempt failed", "attempt", attempt, "max_attempt", maxAttempt, "error", err)
		}
		r.recordHistory(ctx, task, startTime, runtime, status, attempt, result)

		if err == nil || ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		log.Error("Task failed", "error", err)
		r.finish(ctx, task, map[string]interface{}{"status": models.ScheduledTaskStatusFailure})
		return
	}

	log.Info("Task completed successfully")
	updates := map[string]interface{}{"status": models.ScheduledTaskStatusDone}
	if task.TaskType == models.ScheduledTaskTypeRecurring {
		after := r.now()
		if task.Due.After(after) {
			after = task.Due
		}
		// a rule without a future occurrence ends the task
		if next := task.NextDue(after); !next.IsZero() {
			updates["status"] = models.ScheduledTaskStatusActive
			updates["due"] = next
		}
	}
	r.finish(ctx, task, updates)
}

func (r *Runner) recordHistory(ctx context.Context, task models.ScheduledTask, runAt time.Time, runtime time.Duration, status string, attempt int, result map[string]interface{}) {
	history := &models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           runAt,
		RuntimeMs:       int(runtime.Milliseconds()),
		Status:          status,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	}
	if err := r.env.Store.Insert(ctx, history); err != nil {
		r.env.Log.Error("Failed to record task history", "task_id", task.ID, "error", err)
	}
}

func (r *Runner) finish(ctx context.Context, task models.ScheduledTask, updates map[string]interface{}) {
	if _, err := r.env.Store.Update(ctx, &models.ScheduledTask{},
		store.Filter{"id": task.ID, "status": models.ScheduledTaskStatusRunning},
		updates,
	); err != nil {
		r.env.Log.Error("Failed to update task", "task_id", task.ID, "error", err)
	}
}
