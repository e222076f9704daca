package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

// SelectedItem is one day slot of an order. Unselected slots are kept for history
// but cost nothing.
type SelectedItem struct {
	Selected bool   `json:"selected"`
	Date     string `json:"date"`
}

// SelectedItems maps a day key such as "monday" to its slot.
type SelectedItems map[string]SelectedItem

// Count returns the number of selected slots.
func (items SelectedItems) Count() int {
	count := 0
	for _, item := range items {
		if item.Selected {
			count++
		}
	}
	return count
}

// Validate rejects blank day keys and selected slots without a date.
func (items SelectedItems) Validate() error {
	for key, item := range items {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: empty day key", ErrInvalidSelection)
		}
		if item.Selected && strings.TrimSpace(item.Date) == "" {
			return fmt.Errorf("%w: %q has no date", ErrInvalidSelection, key)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (items SelectedItems) Clone() SelectedItems {
	cloned := make(SelectedItems, len(items))
	for key, item := range items {
		cloned[key] = item
	}
	return cloned
}

// CreditCost is the price of the selection: one credit per selected slot.
func (items SelectedItems) CreditCost() (ledger.PositiveCredits, error) {
	count := items.Count()
	if count == 0 {
		return 0, ErrEmptySelection
	}
	return ledger.NewPositiveCredits(int64(count))
}

// Order is a placed order. It is never deleted.
type Order struct {
	OrderID             ledger.OrderID
	AccountID           ledger.AccountID
	SelectedItems       SelectedItems
	CreditCost          ledger.PositiveCredits
	DeliveryAddress     string
	SpecialInstructions string
	Status              Status
	DebitTransactionID  ledger.TransactionID
	RefundTransactionID *ledger.TransactionID
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ConfirmedAt         *time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
	RefundedAt          *time.Time
}

// Refunded reports whether credits were already returned for the order.
func (order Order) Refunded() bool {
	return order.RefundTransactionID != nil
}

// PlaceOrderRequest carries the checkout input.
type PlaceOrderRequest struct {
	AccountID           ledger.AccountID
	SelectedItems       SelectedItems
	DeliveryAddress     string
	SpecialInstructions string
}

// TransitionOptions tunes a status change.
type TransitionOptions struct {
	// RefundCredits returns the order cost when cancelling.
	RefundCredits bool
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// Ledger returns the ledger view bound to the same unit of work.
	Ledger() ledger.Store
	InsertOrder(ctx context.Context, order Order) error
	// GetOrder reports ErrUnknownOrder when absent.
	GetOrder(ctx context.Context, orderID ledger.OrderID) (Order, error)
	// LockOrder reads the order holding a row lock until the transaction ends.
	LockOrder(ctx context.Context, orderID ledger.OrderID) (Order, error)
	// UpdateOrder writes status and timestamps only while the stored status still
	// equals expected; otherwise it fails with ledger.ErrConcurrencyConflict.
	UpdateOrder(ctx context.Context, order Order, expected Status) error
	// SetRefundTransaction records the refund only if none is recorded yet and
	// reports ErrDuplicateRefund otherwise.
	SetRefundTransaction(ctx context.Context, orderID ledger.OrderID, transactionID ledger.TransactionID, at time.Time) error
}
