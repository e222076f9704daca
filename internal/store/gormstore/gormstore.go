// Package gormstore persists accounts, the transaction log and orders through GORM.
// It runs against PostgreSQL and SQLite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	return classifyTxError(err)
}

func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	now := time.Now().UTC()
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).
		Create(&Account{AccountID: accountID.String(), CreatedAt: now, UpdatedAt: now}).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInsert, err)
	}
	var model Account
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccount(model)
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) IncreaseBalance(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits, at time.Time) (ledger.Credits, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount.Int64()),
			"updated_at": at,
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return store.readBalance(ctx, accountID)
}

// DecreaseBalance is a compare-and-set: the row only changes while it still covers amount.
func (store *Store) DecreaseBalance(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits, at time.Time) (ledger.Credits, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND balance >= ?", accountID.String(), amount.Int64()).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount.Int64()),
			"updated_at": at,
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, fmt.Errorf("%w: requested %d", ledger.ErrInsufficientCredits, amount.Int64()))
	}
	return store.readBalance(ctx, accountID)
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	model := Transaction{
		TransactionID: transaction.TransactionID().String(),
		AccountID:     transaction.AccountID().String(),
		Direction:     transaction.Direction().String(),
		Amount:        transaction.Amount().Int64(),
		Reason:        transaction.Reason().String(),
		CreatedAt:     transaction.CreatedAt(),
	}
	if orderID, ok := transaction.RelatedOrderID(); ok {
		value := orderID.String()
		model.RelatedOrderID = &value
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, fmt.Errorf("%w: duplicate %s", ledger.ErrInvalidTransactionID, model.TransactionID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumTransactions(ctx context.Context, accountID ledger.AccountID) (ledger.TransactionTotals, error) {
	var totals sqlTotals
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Select(
			"coalesce(sum(case when direction = ? then amount else 0 end),0) as credits, coalesce(sum(case when direction = ? then amount else 0 end),0) as debits",
			ledger.DirectionCredit.String(), ledger.DirectionDebit.String(),
		).
		Where("account_id = ?", accountID.String()).
		Scan(&totals).Error
	if err != nil {
		return ledger.TransactionTotals{}, wrapStoreError(errorSubjectTransaction, errorCodeSum, err)
	}
	return ledger.TransactionTotals{Credits: totals.Credits, Debits: totals.Debits}, nil
}

func (store *Store) readBalance(ctx context.Context, accountID ledger.AccountID) (ledger.Credits, error) {
	var model Account
	err := store.db.WithContext(ctx).Select("balance").Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := ledger.NewCredits(model.Balance)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

type sqlTotals struct {
	Credits int64
	Debits  int64
}

func mapAccount(model Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	balance, err := ledger.NewCredits(model.Balance)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{AccountID: accountID, Balance: balance, UpdatedAt: model.UpdatedAt.UTC()}, nil
}

// TransactionFromRow converts a stored row into a validated transaction.
func TransactionFromRow(row Transaction) (ledger.Transaction, error) {
	transactionID, err := ledger.NewTransactionID(row.TransactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	direction, err := ledger.ParseDirection(row.Direction)
	if err != nil {
		return ledger.Transaction{}, err
	}
	amount, err := ledger.NewPositiveCredits(row.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	reason, err := ledger.ParseReason(row.Reason)
	if err != nil {
		return ledger.Transaction{}, err
	}
	var relatedOrderID *ledger.OrderID
	if row.RelatedOrderID != nil {
		orderID, err := ledger.NewOrderID(*row.RelatedOrderID)
		if err != nil {
			return ledger.Transaction{}, err
		}
		relatedOrderID = &orderID
	}
	return ledger.NewTransaction(transactionID, accountID, direction, amount, reason, relatedOrderID, row.CreatedAt)
}
