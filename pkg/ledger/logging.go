package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation      string
	AccountID      AccountID
	OrderID        string
	TransactionID  string
	Amount         int64
	Reason         Reason
	PreviousStatus string
	NewStatus      string
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithIDGenerator replaces the default snowflake transaction id generator.
func WithIDGenerator(generator IDGenerator) ServiceOption {
	return func(service *Service) {
		service.ids = generator
	}
}

// CompleteStatus fills in Status from Error when the caller left it empty.
func (entry OperationLog) CompleteStatus() OperationLog {
	if entry.Status != "" {
		return entry
	}
	if entry.Error != nil {
		entry.Status = OperationStatusError
	} else {
		entry.Status = OperationStatusOK
	}
	return entry
}
