package ledger

import (
	"context"
	"time"
)

// EventKind names a committed state change.
type EventKind string

const (
	EventCredited          EventKind = "ledger.credited"
	EventDebited           EventKind = "ledger.debited"
	EventOrderPlaced       EventKind = "order.placed"
	EventOrderTransitioned EventKind = "order.transitioned"
)

// Event is emitted after a ledger or order change commits.
type Event struct {
	Kind           EventKind `json:"kind"`
	AccountID      string    `json:"account_id"`
	OrderID        string    `json:"order_id,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher receives committed events. Implementations must not block.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// WithEventPublisher wires a publisher notified after every committed operation.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.events = publisher
	}
}

// TransactionEvent describes a committed ledger transaction.
func TransactionEvent(transaction Transaction) Event {
	kind := EventCredited
	if transaction.Direction() == DirectionDebit {
		kind = EventDebited
	}
	event := Event{
		Kind:          kind,
		AccountID:     transaction.AccountID().String(),
		Amount:        transaction.Amount().Int64(),
		Reason:        transaction.Reason().String(),
		TransactionID: transaction.TransactionID().String(),
		OccurredAt:    transaction.CreatedAt(),
	}
	if orderID, ok := transaction.RelatedOrderID(); ok {
		event.OrderID = orderID.String()
	}
	return event
}
