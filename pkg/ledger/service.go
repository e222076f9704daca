package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Service contains the credit ledger logic over a Store.
// It is the only component that changes an account balance.
type Service struct {
	store  Store
	nowFn  func() time.Time
	ids    IDGenerator
	logger OperationLogger
	events EventPublisher
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.ids == nil {
		generator, err := NewSnowflakeIDGenerator(defaultSnowflakeNode)
		if err != nil {
			return nil, err
		}
		service.ids = generator
	}
	return service, nil
}

// Credit adds amount to the balance and appends a credit transaction atomically.
func (service *Service) Credit(ctx context.Context, accountID AccountID, amount PositiveCredits, reason Reason, relatedOrderID *OrderID) (Transaction, error) {
	var transaction Transaction
	operationError := rejectOrderReason(reason)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			credited, err := service.CreditWithin(ctx, transactionStore, accountID, amount, reason, relatedOrderID)
			if err != nil {
				return err
			}
			transaction = credited
			return nil
		})
	}
	service.logOperation(ctx, operationCredit, accountID, amount, reason, relatedOrderID, transaction, operationError)
	if operationError != nil {
		return Transaction{}, operationError
	}
	service.publish(ctx, TransactionEvent(transaction))
	return transaction, nil
}

// Debit removes amount from the balance and appends a debit transaction atomically.
// It fails with ErrInsufficientCredits, leaving balance and log untouched, when the
// balance does not cover amount.
func (service *Service) Debit(ctx context.Context, accountID AccountID, amount PositiveCredits, reason Reason, relatedOrderID *OrderID) (Transaction, error) {
	var transaction Transaction
	operationError := rejectOrderReason(reason)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			debited, err := service.DebitWithin(ctx, transactionStore, accountID, amount, reason, relatedOrderID)
			if err != nil {
				return err
			}
			transaction = debited
			return nil
		})
	}
	service.logOperation(ctx, operationDebit, accountID, amount, reason, relatedOrderID, transaction, operationError)
	if operationError != nil {
		return Transaction{}, operationError
	}
	service.publish(ctx, TransactionEvent(transaction))
	return transaction, nil
}

// CreditWithin performs a credit on a unit of work owned by the caller.
// Nothing is logged or published; the caller does so once its transaction commits.
func (service *Service) CreditWithin(ctx context.Context, transactionStore Store, accountID AccountID, amount PositiveCredits, reason Reason, relatedOrderID *OrderID) (Transaction, error) {
	if err := validateMovement(accountID, amount, reason, DirectionCredit); err != nil {
		return Transaction{}, err
	}
	account, err := transactionStore.LockAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	if account.Balance.Int64() > math.MaxInt64-amount.Int64() {
		return Transaction{}, fmt.Errorf("%w: balance %d cannot absorb %d", ErrInvalidAmount, account.Balance.Int64(), amount.Int64())
	}
	now := service.nowFn().UTC()
	if _, err := transactionStore.IncreaseBalance(ctx, accountID, amount, now); err != nil {
		return Transaction{}, err
	}
	return service.appendTransaction(ctx, transactionStore, accountID, DirectionCredit, amount, reason, relatedOrderID, now)
}

// DebitWithin performs a debit on a unit of work owned by the caller.
// Nothing is logged or published; the caller does so once its transaction commits.
func (service *Service) DebitWithin(ctx context.Context, transactionStore Store, accountID AccountID, amount PositiveCredits, reason Reason, relatedOrderID *OrderID) (Transaction, error) {
	if err := validateMovement(accountID, amount, reason, DirectionDebit); err != nil {
		return Transaction{}, err
	}
	account, err := transactionStore.LockAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	if !account.Balance.Covers(amount) {
		return Transaction{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientCredits, account.Balance.Int64(), amount.Int64())
	}
	now := service.nowFn().UTC()
	if _, err := transactionStore.DecreaseBalance(ctx, accountID, amount, now); err != nil {
		return Transaction{}, err
	}
	return service.appendTransaction(ctx, transactionStore, accountID, DirectionDebit, amount, reason, relatedOrderID, now)
}

// Balance returns the cached balance; unknown accounts read as zero.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (Account, error) {
	if accountID.IsZero() {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	account, err := service.store.GetAccount(ctx, accountID)
	if errors.Is(err, ErrUnknownAccount) {
		return Account{AccountID: accountID}, nil
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Reconcile recomputes the balance from the transaction log under the account lock.
// It never creates an account; unknown accounts reconcile against a zero balance.
// A drift between the cached balance and the log is reported as ErrBalanceMismatch
// together with the figures that disagree.
func (service *Service) Reconcile(ctx context.Context, accountID AccountID) (Reconciliation, error) {
	if accountID.IsZero() {
		return Reconciliation{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	var reconciliation Reconciliation
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccount(ctx, accountID)
		switch {
		case errors.Is(err, ErrUnknownAccount):
			account = Account{AccountID: accountID}
		case err != nil:
			return err
		default:
			if account, err = transactionStore.LockAccount(ctx, accountID); err != nil {
				return err
			}
		}
		totals, err := transactionStore.SumTransactions(ctx, accountID)
		if err != nil {
			return err
		}
		reconciliation = Reconciliation{AccountID: accountID, CachedBalance: account.Balance, Totals: totals}
		return nil
	})
	if operationError == nil && !reconciliation.Consistent() {
		operationError = WrapError("service", "balance", "mismatch", fmt.Errorf("%w: cached %d, log %d", ErrBalanceMismatch, reconciliation.CachedBalance.Int64(), reconciliation.Totals.Balance()))
	}
	if service.logger != nil {
		service.logger.LogOperation(ctx, OperationLog{
			Operation: operationReconcile,
			AccountID: accountID,
			Amount:    reconciliation.CachedBalance.Int64(),
			Error:     operationError,
		}.CompleteStatus())
	}
	return reconciliation, operationError
}

func (service *Service) appendTransaction(ctx context.Context, transactionStore Store, accountID AccountID, direction Direction, amount PositiveCredits, reason Reason, relatedOrderID *OrderID, at time.Time) (Transaction, error) {
	transactionID, err := service.ids.NextTransactionID(direction)
	if err != nil {
		return Transaction{}, err
	}
	transaction, err := NewTransaction(transactionID, accountID, direction, amount, reason, relatedOrderID, at)
	if err != nil {
		return Transaction{}, err
	}
	if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (service *Service) logOperation(ctx context.Context, operation string, accountID AccountID, amount PositiveCredits, reason Reason, relatedOrderID *OrderID, transaction Transaction, operationError error) {
	if service.logger == nil {
		return
	}
	entry := OperationLog{
		Operation:     operation,
		AccountID:     accountID,
		Amount:        amount.Int64(),
		Reason:        reason,
		TransactionID: transaction.TransactionID().String(),
		Error:         operationError,
	}
	if relatedOrderID != nil {
		entry.OrderID = relatedOrderID.String()
	}
	service.logger.LogOperation(ctx, entry.CompleteStatus())
}

func (service *Service) publish(ctx context.Context, event Event) {
	if service.events == nil {
		return
	}
	service.events.Publish(ctx, event)
}

func rejectOrderReason(reason Reason) error {
	if reason.IsOrderReason() {
		return fmt.Errorf("%w: %q is reserved for order placement and refunds", ErrInvalidReason, reason.String())
	}
	return nil
}

func validateMovement(accountID AccountID, amount PositiveCredits, reason Reason, direction Direction) error {
	if amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if accountID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return validateReason(reason, direction)
}
