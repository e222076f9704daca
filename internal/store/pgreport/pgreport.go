// Package pgreport serves read-only reporting queries straight from a pgx pool,
// keeping history listings off the gorm connections used for writes.
package pgreport

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const (
	errorOperationStore      = "store"
	errorSubjectTransactions = "transactions"
	errorSubjectOrders       = "orders"
	errorCodeList            = "list"
	errorCodeInvalid         = "invalid"

	sqlTransactionColumns = `
		select transaction_id, account_id, direction, amount, reason, related_order_id, created_at
		from transactions
	`

	sqlListTransactionsByAccount = sqlTransactionColumns + `
		where account_id = $1
		order by created_at desc, ` + gormstore.TransactionSequenceOrder + `
		limit $2 offset $3
	`

	sqlListTransactionsByOrder = sqlTransactionColumns + `
		where related_order_id = $1
		order by created_at desc, ` + gormstore.TransactionSequenceOrder + `
		limit $2 offset $3
	`

	sqlListOrdersByAccount = `
		select
			order_id, account_id, selected_items, credit_cost, delivery_address,
			special_instructions, status, debit_transaction_id, refund_transaction_id,
			created_at, updated_at, confirmed_at, delivered_at, cancelled_at, refunded_at
		from orders
		where account_id = $1
		order by created_at desc, order_id desc
		limit $2 offset $3
	`
)

var _ reporting.Source = (*Reporter)(nil)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Reporter implements reporting.Source with pgx.
type Reporter struct {
	db querier
}

// New returns a Reporter backed by a pgx pool.
func New(pool *pgxpool.Pool) *Reporter {
	return &Reporter{db: pool}
}

func (reporter *Reporter) ListTransactionsByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]ledger.Transaction, error) {
	return reporter.listTransactions(ctx, sqlListTransactionsByAccount, accountID.String(), limit, offset)
}

func (reporter *Reporter) ListTransactionsByOrder(ctx context.Context, orderID ledger.OrderID, limit int, offset int) ([]ledger.Transaction, error) {
	return reporter.listTransactions(ctx, sqlListTransactionsByOrder, orderID.String(), limit, offset)
}

func (reporter *Reporter) ListOrdersByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]orders.Order, error) {
	rows, err := reporter.db.Query(ctx, sqlListOrdersByAccount, accountID.String(), limit, offset)
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrders, errorCodeList, err)
	}
	defer rows.Close()

	result := make([]orders.Order, 0, limit)
	for rows.Next() {
		var row gormstore.Order
		var selectedItems []byte
		if err := rows.Scan(
			&row.OrderID,
			&row.AccountID,
			&selectedItems,
			&row.CreditCost,
			&row.DeliveryAddress,
			&row.SpecialInstructions,
			&row.Status,
			&row.DebitTransactionID,
			&row.RefundTransactionID,
			&row.CreatedAt,
			&row.UpdatedAt,
			&row.ConfirmedAt,
			&row.DeliveredAt,
			&row.CancelledAt,
			&row.RefundedAt,
		); err != nil {
			return nil, wrapStoreError(errorSubjectOrders, errorCodeList, err)
		}
		row.SelectedItems = selectedItems
		order, err := gormstore.OrderFromRow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrders, errorCodeInvalid, err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectOrders, errorCodeList, err)
	}
	return result, nil
}

func (reporter *Reporter) listTransactions(ctx context.Context, query string, key string, limit int, offset int) ([]ledger.Transaction, error) {
	rows, err := reporter.db.Query(ctx, query, key, limit, offset)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransactions, errorCodeList, err)
	}
	defer rows.Close()

	result := make([]ledger.Transaction, 0, limit)
	for rows.Next() {
		var row gormstore.Transaction
		if err := rows.Scan(
			&row.TransactionID,
			&row.AccountID,
			&row.Direction,
			&row.Amount,
			&row.Reason,
			&row.RelatedOrderID,
			&row.CreatedAt,
		); err != nil {
			return nil, wrapStoreError(errorSubjectTransactions, errorCodeList, err)
		}
		transaction, err := gormstore.TransactionFromRow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransactions, errorCodeInvalid, err)
		}
		result = append(result, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransactions, errorCodeList, err)
	}
	return result, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
