package orders

import (
	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

const (
	operationPlaceOrder = "place_order"
	operationTransition = "transition_order"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger ledger.OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires a publisher notified after every committed change.
func WithEventPublisher(publisher ledger.EventPublisher) ServiceOption {
	return func(service *Service) {
		service.events = publisher
	}
}

// WithoutRefundAfterCancel makes cancelled orders final, so a cancellation
// that forfeited its credits can no longer be refunded.
func WithoutRefundAfterCancel() ServiceOption {
	return func(service *Service) {
		service.cancelIsFinal = true
	}
}

// WithOrderIDGenerator replaces the default uuid order ids.
func WithOrderIDGenerator(generator func() string) ServiceOption {
	return func(service *Service) {
		service.newOrderID = generator
	}
}

func newUUIDOrderID() string {
	return uuid.NewString()
}
