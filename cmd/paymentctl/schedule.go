package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/tasks"
)

func scheduleCmd() *cobra.Command {
	var (
		argsStr    string
		dueStr     string
		taskType   string
		recurring  string
		maxAttempt int
	)

	cmd := &cobra.Command{
		Use:   "schedule [task_name]",
		Short: "Create a scheduled task for the worker",
		Example: `  paymentctl schedule send_payment_receipt --arguments '{"transaction_id":"..."}'
  paymentctl schedule expire_pending_transactions --tasktype recurring --recurring 'FREQ=MINUTELY;INTERVAL=5'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskArgs map[string]interface{}
			if err := json.Unmarshal([]byte(argsStr), &taskArgs); err != nil {
				return fmt.Errorf("invalid JSON arguments: %w", err)
			}

			due, err := parseDue(dueStr)
			if err != nil {
				return err
			}

			var recurringPtr *string
			if recurring != "" {
				recurringPtr = &recurring
			}
			task, err := tasks.BuildScheduledTask(args[0], taskArgs, due, recurringPtr, models.ScheduledTaskType(taskType), maxAttempt)
			if err != nil {
				return err
			}
			if task.TaskType == models.ScheduledTaskTypeRecurring && task.NextDue(due.Add(-time.Second)).IsZero() {
				return fmt.Errorf("recurring tasks need a valid --recurring RRULE")
			}

			_, db, _, err := connect()
			if err != nil {
				return err
			}
			if err := db.WithContext(cmd.Context()).Create(task).Error; err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Task %q scheduled with ID %d, due %s\n", task.TaskName, task.ID, task.Due.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&argsStr, "arguments", "{}", "JSON arguments for the task")
	cmd.Flags().StringVar(&dueStr, "due", "", "Due date, RFC3339 or '2006-01-02 15:04' local time (default now)")
	cmd.Flags().StringVar(&taskType, "tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	cmd.Flags().StringVar(&recurring, "recurring", "", "Recurring interval rule (RRULE)")
	cmd.Flags().IntVar(&maxAttempt, "max_attempt", 3, "Max attempts")

	return cmd
}

func parseDue(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if due, err := time.Parse(time.RFC3339, s); err == nil {
		return due, nil
	}
	due, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date format, use '2006-01-02 15:04' (local) or RFC3339: %w", err)
	}
	return due, nil
}
