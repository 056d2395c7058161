package tasks

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"coaching_payments_echo/internal/models"
)

// TaskHandler executes one scheduled task and returns a result map that is
// stored in the task history.
type TaskHandler func(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error)

// Definition is implemented by every task type.
type Definition interface {
	TaskID() string
	HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error)
}

// Registry stores the mapping of task names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]TaskHandler)}
}

// Register adds a handler for a task name
func (r *Registry) Register(name string, handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// RegisterDefinition registers def under its own task id.
func (r *Registry) RegisterDefinition(def Definition) {
	r.Register(def.TaskID(), def.HandleExecution)
}

// Get retrieves a handler for a task name
func (r *Registry) Get(name string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}
