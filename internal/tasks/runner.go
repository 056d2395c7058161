package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
)

const (
	historySuccess         = "success"
	historyFailure         = "failure"
	historyHandlerNotFound = "handler_not_found"

	retryBackoff = time.Minute
)

// Runner executes due scheduled tasks and keeps their history.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry, logger *zap.Logger) *Runner {
	return &Runner{
		db:       db,
		registry: registry,
		logger:   logger.With(zap.String("component", "task_runner")),
		now:      time.Now,
	}
}

// Run checks for due tasks on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Task runner started", zap.Duration("interval", interval))
	r.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-ctx.Done():
			r.logger.Info("Task runner stopped")
			return
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if _, err := r.RunDue(ctx); err != nil {
		r.logger.Error("Failed to process scheduled tasks", zap.Error(err))
	}
}

// RunDue executes every active task whose due time has passed and returns
// how many ran.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	var due []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due ASC").
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due tasks: %w", err)
	}

	ran := 0
	for _, task := range due {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
		if err := r.Execute(ctx, task); err != nil {
			r.logger.Error("Failed to record task run", zap.Uint("task_id", task.ID), zap.Error(err))
			continue
		}
		ran++
	}
	return ran, nil
}

// Execute runs one task, writes a history row and reschedules it. A failed
// attempt is retried after a backoff until MaxAttempt is reached.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) error {
	log := r.logger.With(zap.Uint("task_id", task.ID), zap.String("task_name", task.TaskName))
	attempt := task.Attempts + 1
	start := r.now()

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Warn("Task handler not found, marking as failure")
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&models.ScheduledTaskHistory{
				ScheduledTaskID: task.ID,
				TaskName:        task.TaskName,
				RunAt:           start,
				Status:          historyHandlerNotFound,
				AttemptNumber:   attempt,
				Arguments:       task.Arguments,
				Result:          map[string]interface{}{"error": "Handler not found"},
			}).Error; err != nil {
				return err
			}
			return tx.Model(&models.ScheduledTask{ID: task.ID}).Updates(map[string]interface{}{
				"status":   models.ScheduledTaskStatusFailure,
				"last_run": start,
				"attempts": attempt,
			}).Error
		})
	}

	result, runErr := handler(ctx, r.db.WithContext(ctx), task)
	runtime := r.now().Sub(start)

	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           start,
		RuntimeMs:       int(runtime.Milliseconds()),
		Status:          historySuccess,
		AttemptNumber:   attempt,
		Arguments:       task.Arguments,
		Result:          result,
	}
	updates := map[string]interface{}{"last_run": start}

	if runErr != nil {
		log.Warn("Task failed", zap.Int("attempt", attempt), zap.Int("max_attempt", task.MaxAttempt), zap.Error(runErr))
		history.Status = historyFailure
		if history.Result == nil {
			history.Result = map[string]interface{}{}
		}
		history.Result["error"] = runErr.Error()
		r.scheduleRetry(task, attempt, start, updates)
	} else {
		log.Info("Task completed", zap.Duration("runtime", runtime))
		r.scheduleNext(task, start, updates)
	}

	return r.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		return tx.Model(&models.ScheduledTask{ID: task.ID}).Updates(updates).Error
	})
}

func (r *Runner) scheduleRetry(task models.ScheduledTask, attempt int, start time.Time, updates map[string]interface{}) {
	if attempt < task.MaxAttempt {
		updates["attempts"] = attempt
		updates["due"] = start.Add(time.Duration(attempt) * retryBackoff)
		return
	}
	// a recurring task gets a fresh budget at its next occurrence
	if next := task.NextDue(start); !next.IsZero() {
		updates["attempts"] = 0
		updates["due"] = next
		return
	}
	updates["attempts"] = attempt
	updates["status"] = models.ScheduledTaskStatusFailure
}

func (r *Runner) scheduleNext(task models.ScheduledTask, start time.Time, updates map[string]interface{}) {
	updates["attempts"] = 0
	switch task.TaskType {
	case models.ScheduledTaskTypeRecurring:
		// the next due must be in the future, or the task would run again on
		// every tick
		if next := task.NextDue(start); next.After(start) {
			updates["due"] = next
			return
		}
		updates["status"] = models.ScheduledTaskStatusDone
	default:
		updates["status"] = models.ScheduledTaskStatusDone
	}
}
