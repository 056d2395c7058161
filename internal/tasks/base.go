package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
)

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	if maxAttempt < 1 {
		maxAttempt = 1
	}
	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// decodeArgs copies a task's stored arguments into a typed struct.
func decodeArgs(task models.ScheduledTask, out interface{}) error {
	raw, err := json.Marshal(task.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return nil
}

// EnsureRecurring creates the named recurring task unless an active one
// already exists. It reports whether a task was created.
func EnsureRecurring(ctx context.Context, db *gorm.DB, name, rule string, args interface{}, maxAttempt int) (bool, error) {
	var existing models.ScheduledTask
	err := db.WithContext(ctx).
		Where("task_name = ? AND status = ?", name, models.ScheduledTaskStatusActive).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up task %s: %w", name, err)
	}

	task, err := BuildScheduledTask(name, args, time.Now(), &rule, models.ScheduledTaskTypeRecurring, maxAttempt)
	if err != nil {
		return false, err
	}
	if next := task.NextDue(time.Now().Add(-time.Second)); next.IsZero() {
		return false, fmt.Errorf("invalid recurring rule %q", rule)
	}
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return false, fmt.Errorf("failed to create task %s: %w", name, err)
	}
	return true, nil
}
