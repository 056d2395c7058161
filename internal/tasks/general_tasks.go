package tasks

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
)

// LogInfoTaskDef writes its message argument to the log. Useful to check a
// worker is picking tasks up.
type LogInfoTaskDef struct {
	logger *zap.Logger
}

// TaskID returns the unique identifier for this task
func (t *LogInfoTaskDef) TaskID() string {
	return "log_info"
}

func (t *LogInfoTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	message, ok := task.Arguments["message"].(string)
	if !ok {
		message = "No message provided"
	}
	if t.logger != nil {
		t.logger.Info("log_info task", zap.Uint("task_id", task.ID), zap.String("message", message))
	}

	return map[string]interface{}{
		"status":  "success",
		"message": message,
	}, nil
}
