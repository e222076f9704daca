package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

// OrderStore implements orders.Store using GORM.
type OrderStore struct {
	db *gorm.DB
}

// NewOrderStore returns an OrderStore backed by gorm.DB.
func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore orders.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &OrderStore{db: transaction})
	})
	return classifyTxError(err)
}

// Ledger returns a ledger view sharing this store's transaction.
func (store *OrderStore) Ledger() ledger.Store {
	return &Store{db: store.db}
}

func (store *OrderStore) InsertOrder(ctx context.Context, order orders.Order) error {
	selected, err := json.Marshal(order.SelectedItems)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeMarshal, err)
	}
	model := Order{
		OrderID:             order.OrderID.String(),
		AccountID:           order.AccountID.String(),
		SelectedItems:       datatypes.JSON(selected),
		CreditCost:          order.CreditCost.Int64(),
		DeliveryAddress:     order.DeliveryAddress,
		SpecialInstructions: order.SpecialInstructions,
		Status:              order.Status.String(),
		DebitTransactionID:  order.DebitTransactionID.String(),
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, fmt.Errorf("%w: duplicate %s", ledger.ErrInvalidOrderID, model.OrderID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	return nil
}

func (store *OrderStore) GetOrder(ctx context.Context, orderID ledger.OrderID) (orders.Order, error) {
	return store.takeOrder(store.db.WithContext(ctx), orderID)
}

func (store *OrderStore) LockOrder(ctx context.Context, orderID ledger.OrderID) (orders.Order, error) {
	return store.takeOrder(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orderID)
}

// UpdateOrder writes status and lifecycle timestamps guarded by the expected status.
// Timestamps already stored are never overwritten.
func (store *OrderStore) UpdateOrder(ctx context.Context, order orders.Order, expected orders.Status) error {
	updates := map[string]any{
		"status":     order.Status.String(),
		"updated_at": order.UpdatedAt,
	}
	setOnce(updates, "confirmed_at", order.ConfirmedAt)
	setOnce(updates, "delivered_at", order.DeliveredAt)
	setOnce(updates, "cancelled_at", order.CancelledAt)
	setOnce(updates, "refunded_at", order.RefundedAt)
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ?", order.OrderID.String(), expected.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if err := store.orderExists(ctx, order.OrderID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectOrder, errorCodeConflict, fmt.Errorf("%w: order %s left status %s", ledger.ErrConcurrencyConflict, order.OrderID.String(), expected.String()))
	}
	return nil
}

// SetRefundTransaction records the refund only while none is recorded.
func (store *OrderStore) SetRefundTransaction(ctx context.Context, orderID ledger.OrderID, transactionID ledger.TransactionID, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND refund_transaction_id IS NULL", orderID.String()).
		Updates(map[string]any{
			"refund_transaction_id": transactionID.String(),
			"refunded_at":           gorm.Expr("COALESCE(refunded_at, ?)", at),
			"updated_at":            at,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return wrapStoreError(errorSubjectOrder, errorCodeUpdateRefund, fmt.Errorf("%w: transaction %s", ledger.ErrInvalidTransactionID, transactionID.String()))
		}
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateRefund, result.Error)
	}
	if result.RowsAffected == 0 {
		if err := store.orderExists(ctx, orderID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateRefund, orders.ErrDuplicateRefund)
	}
	return nil
}

func (store *OrderStore) takeOrder(query *gorm.DB, orderID ledger.OrderID) (orders.Order, error) {
	var model Order
	err := query.Where("order_id = ?", orderID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return orders.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, fmt.Errorf("%w: %s", orders.ErrUnknownOrder, orderID.String()))
		}
		return orders.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := OrderFromRow(model)
	if err != nil {
		return orders.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *OrderStore) orderExists(ctx context.Context, orderID ledger.OrderID) error {
	var count int64
	err := store.db.WithContext(ctx).Model(&Order{}).Where("order_id = ?", orderID.String()).Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUnknown, fmt.Errorf("%w: %s", orders.ErrUnknownOrder, orderID.String()))
	}
	return nil
}

func setOnce(updates map[string]any, column string, value *time.Time) {
	if value == nil {
		return
	}
	updates[column] = gorm.Expr("COALESCE("+column+", ?)", value.UTC())
}

// OrderFromRow converts a stored row into the domain order.
func OrderFromRow(row Order) (orders.Order, error) {
	orderID, err := ledger.NewOrderID(row.OrderID)
	if err != nil {
		return orders.Order{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return orders.Order{}, err
	}
	cost, err := ledger.NewPositiveCredits(row.CreditCost)
	if err != nil {
		return orders.Order{}, err
	}
	status, err := orders.ParseStatus(row.Status)
	if err != nil {
		return orders.Order{}, err
	}
	debitID, err := ledger.NewTransactionID(row.DebitTransactionID)
	if err != nil {
		return orders.Order{}, err
	}
	selected := orders.SelectedItems{}
	if len(row.SelectedItems) > 0 {
		if err := json.Unmarshal(row.SelectedItems, &selected); err != nil {
			return orders.Order{}, fmt.Errorf("%w: %v", orders.ErrInvalidSelection, err)
		}
	}
	order := orders.Order{
		OrderID:             orderID,
		AccountID:           accountID,
		SelectedItems:       selected,
		CreditCost:          cost,
		DeliveryAddress:     row.DeliveryAddress,
		SpecialInstructions: row.SpecialInstructions,
		Status:              status,
		DebitTransactionID:  debitID,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
		ConfirmedAt:         utcOrNil(row.ConfirmedAt),
		DeliveredAt:         utcOrNil(row.DeliveredAt),
		CancelledAt:         utcOrNil(row.CancelledAt),
		RefundedAt:          utcOrNil(row.RefundedAt),
	}
	if row.RefundTransactionID != nil {
		refundID, err := ledger.NewTransactionID(*row.RefundTransactionID)
		if err != nil {
			return orders.Order{}, err
		}
		order.RefundTransactionID = &refundID
	}
	return order, nil
}

func utcOrNil(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}
