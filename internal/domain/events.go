package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event topics appended to the outbox by lifecycle transitions.
const (
	TopicOrderCreated    = "order.created"
	TopicOrderCanceled   = "order.canceled"
	TopicOrderCompleted  = "order.completed"
	TopicPaymentCreated  = "payment.created"
	TopicPaymentVerified = "payment.verified"
	TopicPaymentRejected = "payment.rejected"
)

// Event is a fact produced by a transition, keyed by its aggregate id.
type Event struct {
	ID         uuid.UUID `json:"event_id"`
	Topic      string    `json:"topic"`
	Key        uuid.UUID `json:"key"`
	ActorID    uuid.UUID `json:"actor_id"`
	OrderID    uuid.UUID `json:"order_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditAction returns the audit log action for the event's topic.
func (e Event) AuditAction() (action, entity string, entityID uuid.UUID) {
	switch e.Topic {
	case TopicOrderCreated:
		return "ORDER_CREATED", "Order", e.OrderID
	case TopicOrderCanceled:
		return "ORDER_CANCELED", "Order", e.OrderID
	case TopicOrderCompleted:
		return "ORDER_COMPLETED", "Order", e.OrderID
	case TopicPaymentCreated:
		return "PAYMENT_CREATED", "Payment", e.PaymentID
	case TopicPaymentVerified:
		return "PAYMENT_VERIFIED", "Payment", e.PaymentID
	case TopicPaymentRejected:
		return "PAYMENT_REJECTED", "Payment", e.PaymentID
	}
	return "UNKNOWN", "", e.Key
}
