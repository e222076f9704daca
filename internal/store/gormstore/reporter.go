package gormstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

// TransactionSequenceOrder sorts transaction ids newest first by their snowflake
// part, ignoring the CR/DR prefix. Ids are compared by length, then text.
const TransactionSequenceOrder = "length(transaction_id) DESC, substr(transaction_id, 4) DESC"

// Reporter implements reporting.Source using GORM.
type Reporter struct {
	db *gorm.DB
}

// NewReporter returns a Reporter backed by gorm.DB.
func NewReporter(db *gorm.DB) *Reporter {
	return &Reporter{db: db}
}

func (reporter *Reporter) ListTransactionsByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]ledger.Transaction, error) {
	return reporter.listTransactions(ctx, "account_id = ?", accountID.String(), limit, offset)
}

func (reporter *Reporter) ListTransactionsByOrder(ctx context.Context, orderID ledger.OrderID, limit int, offset int) ([]ledger.Transaction, error) {
	return reporter.listTransactions(ctx, "related_order_id = ?", orderID.String(), limit, offset)
}

func (reporter *Reporter) ListOrdersByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]orders.Order, error) {
	var rows []Order
	err := reporter.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at DESC").
		Order("order_id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	placed := make([]orders.Order, 0, len(rows))
	for _, row := range rows {
		order, err := OrderFromRow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		placed = append(placed, order)
	}
	return placed, nil
}

func (reporter *Reporter) listTransactions(ctx context.Context, condition string, value string, limit int, offset int) ([]ledger.Transaction, error) {
	var rows []Transaction
	err := reporter.db.WithContext(ctx).
		Where(condition, value).
		Order("created_at DESC").
		Order(TransactionSequenceOrder).
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := TransactionFromRow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}
