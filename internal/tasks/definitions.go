package tasks

import (
	"time"

	"go.uber.org/zap"

	"coaching_payments_echo/internal/services"
)

type Dependencies struct {
	Payments Expirer
	Mailer   services.Mailer
	// ExpiryWindow is how long a transaction may stay unresolved before the
	// sweep gives up on it.
	ExpiryWindow time.Duration
	Logger       *zap.Logger
}

// DefineTasks returns a registry holding every task the worker can run.
func DefineTasks(deps Dependencies) *Registry {
	r := NewRegistry()
	r.RegisterDefinition(&LogInfoTaskDef{logger: deps.Logger})
	r.RegisterDefinition(&ExpirePendingTaskDef{payments: deps.Payments, window: deps.ExpiryWindow, logger: deps.Logger})
	r.RegisterDefinition(&SendReceiptTaskDef{mailer: deps.Mailer, logger: deps.Logger})
	return r
}
