package orders

import "errors"

var (
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrDuplicateRefund        = errors.New("order already refunded")
	ErrEmptySelection         = errors.New("no items selected")
	ErrInvalidSelection       = errors.New("invalid selected item")
	ErrInvalidDeliveryAddress = errors.New("invalid delivery address")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrInvalidServiceConfig   = errors.New("invalid order service config")
)
