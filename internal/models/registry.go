package models

// All lists every model owned by the payment core, in migration order.
func All() []interface{} {
	return []interface{}{
		&PaymentTransaction{},
		&PaymentCallbackHistory{},
		&UserSubscription{},
		&Post{},
		&SessionAccess{},
		&OutboxMessage{},
		&ScheduledTask{},
		&ScheduledTaskHistory{},
	}
}
