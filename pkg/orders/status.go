package orders

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDelivery  Status = "delivery"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed: {StatusDelivery, StatusCancelled, StatusRefunded},
	StatusDelivery:  {StatusDelivered, StatusCancelled, StatusRefunded},
	StatusDelivered: nil,
	StatusCancelled: nil,
	StatusRefunded:  nil,
}

// ParseStatus converts raw input into a Status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := allowedTransitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// String returns the status as text.
func (status Status) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition leaves the status.
func (status Status) IsTerminal() bool {
	return len(allowedTransitions[status]) == 0
}

// CanTransition reports whether the transition table allows from -> to.
func CanTransition(from Status, to Status) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

// Error renders the operator-facing message.
func (transitionError TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", transitionError.From, transitionError.To)
}

// Unwrap lets callers match ErrInvalidTransition.
func (transitionError TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ValidateTransition returns a TransitionError when from -> to is not allowed.
func ValidateTransition(from Status, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return TransitionError{From: from, To: to}
}
