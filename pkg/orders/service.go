package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

// Service places orders and drives them through their lifecycle, moving credits
// through the ledger in the same unit of work as the order writes.
type Service struct {
	store         Store
	ledger        *ledger.Service
	nowFn         func() time.Time
	newOrderID    func() string
	logger        ledger.OperationLogger
	events        ledger.EventPublisher
	cancelIsFinal bool
}

// NewService wires a Service.
func NewService(store Store, ledgerService *ledger.Service, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, ledger: ledgerService, nowFn: now, newOrderID: newUUIDOrderID}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PlaceOrder debits one credit per selected slot and records the order as pending.
// Either both the debit and the order are stored or neither is.
func (service *Service) PlaceOrder(ctx context.Context, request PlaceOrderRequest) (Order, error) {
	var debit ledger.Transaction
	order, err := service.newOrder(request)
	if err == nil {
		err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			transaction, err := service.ledger.DebitWithin(ctx, transactionStore.Ledger(), order.AccountID, order.CreditCost, ledger.ReasonOrderDebit, &order.OrderID)
			if err != nil {
				return err
			}
			order.DebitTransactionID = transaction.TransactionID()
			if err := transactionStore.InsertOrder(ctx, order); err != nil {
				return err
			}
			debit = transaction
			return nil
		})
	}
	service.logOperation(ctx, ledger.OperationLog{
		Operation:     operationPlaceOrder,
		AccountID:     request.AccountID,
		OrderID:       order.OrderID.String(),
		TransactionID: debit.TransactionID().String(),
		Amount:        order.CreditCost.Int64(),
		Reason:        ledger.ReasonOrderDebit,
		NewStatus:     StatusPending.String(),
		Error:         err,
	})
	if err != nil {
		return Order{}, err
	}
	service.publish(ctx, ledger.TransactionEvent(debit))
	service.publish(ctx, ledger.Event{
		Kind:          ledger.EventOrderPlaced,
		AccountID:     order.AccountID.String(),
		OrderID:       order.OrderID.String(),
		NewStatus:     order.Status.String(),
		Amount:        order.CreditCost.Int64(),
		TransactionID: debit.TransactionID().String(),
		OccurredAt:    order.CreatedAt,
	})
	return order, nil
}

// Transition moves an order to target. Refunded targets, and cancellations with
// RefundCredits, return the order cost unless a refund was already issued. A refunded
// order asked to become refunded again is returned unchanged.
func (service *Service) Transition(ctx context.Context, orderID ledger.OrderID, target Status, options TransitionOptions) (Order, error) {
	if orderID.IsZero() {
		return Order{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidOrderID)
	}
	if _, err := ParseStatus(target.String()); err != nil {
		return Order{}, err
	}
	var (
		result   Order
		previous Status
		refund   *ledger.Transaction
		changed  bool
	)
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := transactionStore.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		if order.Status == StatusRefunded && target == StatusRefunded {
			result = order
			return nil
		}
		if err := service.validateTransition(order.Status, target); err != nil {
			return err
		}
		now := service.nowFn().UTC()
		order.Status = target
		order.UpdatedAt = now
		stampEntry(&order, target, now)
		if err := transactionStore.UpdateOrder(ctx, order, previous); err != nil {
			return err
		}
		if wantsRefund(target, options) {
			transaction, err := service.refund(ctx, transactionStore, &order, now)
			switch {
			case errors.Is(err, ErrDuplicateRefund):
			case err != nil:
				return err
			default:
				refund = &transaction
			}
		}
		changed = true
		result = order
		return nil
	})
	entry := ledger.OperationLog{
		Operation:      operationTransition,
		AccountID:      result.AccountID,
		OrderID:        orderID.String(),
		PreviousStatus: previous.String(),
		NewStatus:      target.String(),
		Error:          err,
	}
	if refund != nil {
		entry.TransactionID = refund.TransactionID().String()
		entry.Amount = refund.Amount().Int64()
		entry.Reason = ledger.ReasonOrderRefund
	}
	service.logOperation(ctx, entry)
	if err != nil {
		return Order{}, err
	}
	if refund != nil {
		service.publish(ctx, ledger.TransactionEvent(*refund))
	}
	if changed {
		event := ledger.Event{
			Kind:           ledger.EventOrderTransitioned,
			AccountID:      result.AccountID.String(),
			OrderID:        result.OrderID.String(),
			PreviousStatus: previous.String(),
			NewStatus:      result.Status.String(),
			OccurredAt:     result.UpdatedAt,
		}
		if refund != nil {
			event.Amount = refund.Amount().Int64()
			event.TransactionID = refund.TransactionID().String()
		}
		service.publish(ctx, event)
	}
	return result, nil
}

// GetOrder returns the stored order.
func (service *Service) GetOrder(ctx context.Context, orderID ledger.OrderID) (Order, error) {
	if orderID.IsZero() {
		return Order{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidOrderID)
	}
	return service.store.GetOrder(ctx, orderID)
}

func (service *Service) newOrder(request PlaceOrderRequest) (Order, error) {
	if request.AccountID.IsZero() {
		return Order{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidAccountID)
	}
	if err := request.SelectedItems.Validate(); err != nil {
		return Order{}, err
	}
	cost, err := request.SelectedItems.CreditCost()
	if err != nil {
		return Order{}, err
	}
	address := strings.TrimSpace(request.DeliveryAddress)
	if address == "" {
		return Order{}, fmt.Errorf("%w: empty value", ErrInvalidDeliveryAddress)
	}
	orderID, err := ledger.NewOrderID(service.newOrderID())
	if err != nil {
		return Order{}, err
	}
	now := service.nowFn().UTC()
	return Order{
		OrderID:             orderID,
		AccountID:           request.AccountID,
		SelectedItems:       request.SelectedItems.Clone(),
		CreditCost:          cost,
		DeliveryAddress:     address,
		SpecialInstructions: strings.TrimSpace(request.SpecialInstructions),
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func (service *Service) validateTransition(from Status, to Status) error {
	if from == StatusCancelled && to == StatusRefunded && !service.cancelIsFinal {
		return nil
	}
	return ValidateTransition(from, to)
}

// refund credits the order cost back and records the refund on the order.
// ErrDuplicateRefund means the order already carries a refund and nothing was credited.
func (service *Service) refund(ctx context.Context, transactionStore Store, order *Order, now time.Time) (ledger.Transaction, error) {
	if order.Refunded() {
		return ledger.Transaction{}, ErrDuplicateRefund
	}
	transaction, err := service.ledger.CreditWithin(ctx, transactionStore.Ledger(), order.AccountID, order.CreditCost, ledger.ReasonOrderRefund, &order.OrderID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := transactionStore.SetRefundTransaction(ctx, order.OrderID, transaction.TransactionID(), now); err != nil {
		if errors.Is(err, ErrDuplicateRefund) {
			// The credit above must not survive a refund recorded concurrently.
			return ledger.Transaction{}, ledger.WrapError("orders", "refund", "conflict", fmt.Errorf("%w: %v", ledger.ErrConcurrencyConflict, err))
		}
		return ledger.Transaction{}, err
	}
	transactionID := transaction.TransactionID()
	order.RefundTransactionID = &transactionID
	if order.RefundedAt == nil {
		refundedAt := now
		order.RefundedAt = &refundedAt
	}
	return transaction, nil
}

func (service *Service) logOperation(ctx context.Context, entry ledger.OperationLog) {
	if service.logger == nil {
		return
	}
	service.logger.LogOperation(ctx, entry.CompleteStatus())
}

func (service *Service) publish(ctx context.Context, event ledger.Event) {
	if service.events == nil {
		return
	}
	service.events.Publish(ctx, event)
}

func wantsRefund(target Status, options TransitionOptions) bool {
	return target == StatusRefunded || (target == StatusCancelled && options.RefundCredits)
}

func stampEntry(order *Order, status Status, now time.Time) {
	stamp := func(field **time.Time) {
		if *field == nil {
			value := now
			*field = &value
		}
	}
	switch status {
	case StatusConfirmed:
		stamp(&order.ConfirmedAt)
	case StatusDelivered:
		stamp(&order.DeliveredAt)
	case StatusCancelled:
		stamp(&order.CancelledAt)
	case StatusRefunded:
		stamp(&order.RefundedAt)
	}
}
