// Package memstore keeps accounts, orders and the transaction log in process memory.
// It is used by tests and by the memory:// database URL for local runs.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

// Database holds the shared state. Writes made inside WithTx are rolled back
// when the callback fails.
type Database struct {
	mu           sync.Mutex
	accounts     map[ledger.AccountID]ledger.Account
	transactions []ledger.Transaction
	orders       map[ledger.OrderID]orders.Order
	orderIDs     []ledger.OrderID
}

// New returns an empty Database.
func New() *Database {
	return &Database{
		accounts: make(map[ledger.AccountID]ledger.Account),
		orders:   make(map[ledger.OrderID]orders.Order),
	}
}

// LedgerStore returns the ledger.Store view.
func (database *Database) LedgerStore() *Store {
	return &Store{database: database}
}

// OrderStore returns the orders.Store view.
func (database *Database) OrderStore() *OrderStore {
	return &OrderStore{database: database}
}

// Reporter returns the reporting.Source view.
func (database *Database) Reporter() *Reporter {
	return &Reporter{database: database}
}

type snapshot struct {
	accounts     map[ledger.AccountID]ledger.Account
	transactions int
	orders       map[ledger.OrderID]orders.Order
	orderIDs     int
}

func (database *Database) snapshot() snapshot {
	accounts := make(map[ledger.AccountID]ledger.Account, len(database.accounts))
	for key, value := range database.accounts {
		accounts[key] = value
	}
	placed := make(map[ledger.OrderID]orders.Order, len(database.orders))
	for key, value := range database.orders {
		placed[key] = value
	}
	return snapshot{accounts: accounts, transactions: len(database.transactions), orders: placed, orderIDs: len(database.orderIDs)}
}

func (database *Database) restore(state snapshot) {
	database.accounts = state.accounts
	database.transactions = database.transactions[:state.transactions]
	database.orders = state.orders
	database.orderIDs = database.orderIDs[:state.orderIDs]
}

// withTx runs fn holding the lock, restoring the snapshot on error.
func (database *Database) withTx(fn func() error) error {
	database.mu.Lock()
	defer database.mu.Unlock()
	state := database.snapshot()
	if err := fn(); err != nil {
		database.restore(state)
		return err
	}
	return nil
}

// locked runs fn holding the lock unless the caller already holds it.
func (database *Database) locked(inTx bool, fn func() error) error {
	if inTx {
		return fn()
	}
	database.mu.Lock()
	defer database.mu.Unlock()
	return fn()
}

// Store implements ledger.Store.
type Store struct {
	database *Database
	inTx     bool
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.database.withTx(func() error {
		return fn(ctx, &Store{database: store.database, inTx: true})
	})
}

func (store *Store) LockAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var account ledger.Account
	err := store.database.locked(store.inTx, func() error {
		existing, ok := store.database.accounts[accountID]
		if !ok {
			existing = ledger.Account{AccountID: accountID}
			store.database.accounts[accountID] = existing
		}
		account = existing
		return nil
	})
	return account, err
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var account ledger.Account
	err := store.database.locked(store.inTx, func() error {
		existing, ok := store.database.accounts[accountID]
		if !ok {
			return ledger.ErrUnknownAccount
		}
		account = existing
		return nil
	})
	return account, err
}

func (store *Store) IncreaseBalance(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits, at time.Time) (ledger.Credits, error) {
	var balance ledger.Credits
	err := store.database.locked(store.inTx, func() error {
		account := store.database.accounts[accountID]
		account.AccountID = accountID
		account.Balance += amount.ToCredits()
		account.UpdatedAt = at
		store.database.accounts[accountID] = account
		balance = account.Balance
		return nil
	})
	return balance, err
}

func (store *Store) DecreaseBalance(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits, at time.Time) (ledger.Credits, error) {
	var balance ledger.Credits
	err := store.database.locked(store.inTx, func() error {
		account, ok := store.database.accounts[accountID]
		if !ok || !account.Balance.Covers(amount) {
			return fmt.Errorf("%w: balance %d, requested %d", ledger.ErrInsufficientCredits, account.Balance.Int64(), amount.Int64())
		}
		account.Balance -= amount.ToCredits()
		account.UpdatedAt = at
		store.database.accounts[accountID] = account
		balance = account.Balance
		return nil
	})
	return balance, err
}

func (store *Store) InsertTransaction(ctx context.Context, transaction ledger.Transaction) error {
	return store.database.locked(store.inTx, func() error {
		for _, existing := range store.database.transactions {
			if existing.TransactionID() == transaction.TransactionID() {
				return fmt.Errorf("%w: duplicate transaction id %s", ledger.ErrInvalidTransactionID, transaction.TransactionID().String())
			}
		}
		store.database.transactions = append(store.database.transactions, transaction)
		return nil
	})
}

func (store *Store) SumTransactions(ctx context.Context, accountID ledger.AccountID) (ledger.TransactionTotals, error) {
	var totals ledger.TransactionTotals
	err := store.database.locked(store.inTx, func() error {
		for _, transaction := range store.database.transactions {
			if transaction.AccountID() != accountID {
				continue
			}
			if transaction.Direction() == ledger.DirectionCredit {
				totals.Credits += transaction.Amount().Int64()
			} else {
				totals.Debits += transaction.Amount().Int64()
			}
		}
		return nil
	})
	return totals, err
}

// OrderStore implements orders.Store.
type OrderStore struct {
	database *Database
	inTx     bool
}

// WithTx executes fn within a transaction.
func (store *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore orders.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	return store.database.withTx(func() error {
		return fn(ctx, &OrderStore{database: store.database, inTx: true})
	})
}

// Ledger returns a ledger view sharing this store's transaction.
func (store *OrderStore) Ledger() ledger.Store {
	return &Store{database: store.database, inTx: store.inTx}
}

func (store *OrderStore) InsertOrder(ctx context.Context, order orders.Order) error {
	return store.database.locked(store.inTx, func() error {
		if _, exists := store.database.orders[order.OrderID]; exists {
			return fmt.Errorf("%w: duplicate order id %s", ledger.ErrInvalidOrderID, order.OrderID.String())
		}
		store.database.orders[order.OrderID] = cloneOrder(order)
		store.database.orderIDs = append(store.database.orderIDs, order.OrderID)
		return nil
	})
}

func (store *OrderStore) GetOrder(ctx context.Context, orderID ledger.OrderID) (orders.Order, error) {
	var order orders.Order
	err := store.database.locked(store.inTx, func() error {
		existing, ok := store.database.orders[orderID]
		if !ok {
			return fmt.Errorf("%w: %s", orders.ErrUnknownOrder, orderID.String())
		}
		order = cloneOrder(existing)
		return nil
	})
	return order, err
}

// LockOrder is GetOrder; the database lock is already held inside WithTx.
func (store *OrderStore) LockOrder(ctx context.Context, orderID ledger.OrderID) (orders.Order, error) {
	return store.GetOrder(ctx, orderID)
}

func (store *OrderStore) UpdateOrder(ctx context.Context, order orders.Order, expected orders.Status) error {
	return store.database.locked(store.inTx, func() error {
		existing, ok := store.database.orders[order.OrderID]
		if !ok {
			return fmt.Errorf("%w: %s", orders.ErrUnknownOrder, order.OrderID.String())
		}
		if existing.Status != expected {
			return fmt.Errorf("%w: order %s is %s, expected %s", ledger.ErrConcurrencyConflict, order.OrderID.String(), existing.Status, expected)
		}
		existing.Status = order.Status
		existing.UpdatedAt = order.UpdatedAt
		existing.ConfirmedAt = firstTime(existing.ConfirmedAt, order.ConfirmedAt)
		existing.DeliveredAt = firstTime(existing.DeliveredAt, order.DeliveredAt)
		existing.CancelledAt = firstTime(existing.CancelledAt, order.CancelledAt)
		existing.RefundedAt = firstTime(existing.RefundedAt, order.RefundedAt)
		store.database.orders[order.OrderID] = existing
		return nil
	})
}

func (store *OrderStore) SetRefundTransaction(ctx context.Context, orderID ledger.OrderID, transactionID ledger.TransactionID, at time.Time) error {
	return store.database.locked(store.inTx, func() error {
		existing, ok := store.database.orders[orderID]
		if !ok {
			return fmt.Errorf("%w: %s", orders.ErrUnknownOrder, orderID.String())
		}
		if existing.RefundTransactionID != nil {
			return orders.ErrDuplicateRefund
		}
		refundID := transactionID
		existing.RefundTransactionID = &refundID
		refundedAt := at
		existing.RefundedAt = firstTime(existing.RefundedAt, &refundedAt)
		store.database.orders[orderID] = existing
		return nil
	})
}

// Reporter implements reporting.Source.
type Reporter struct {
	database *Database
}

func (reporter *Reporter) ListTransactionsByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]ledger.Transaction, error) {
	return reporter.listTransactions(func(transaction ledger.Transaction) bool {
		return transaction.AccountID() == accountID
	}, limit, offset), nil
}

func (reporter *Reporter) ListTransactionsByOrder(ctx context.Context, orderID ledger.OrderID, limit int, offset int) ([]ledger.Transaction, error) {
	return reporter.listTransactions(func(transaction ledger.Transaction) bool {
		related, ok := transaction.RelatedOrderID()
		return ok && related == orderID
	}, limit, offset), nil
}

func (reporter *Reporter) ListOrdersByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]orders.Order, error) {
	reporter.database.mu.Lock()
	defer reporter.database.mu.Unlock()
	result := make([]orders.Order, 0)
	skipped := 0
	for index := len(reporter.database.orderIDs) - 1; index >= 0 && len(result) < limit; index-- {
		order := reporter.database.orders[reporter.database.orderIDs[index]]
		if order.AccountID != accountID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, cloneOrder(order))
	}
	return result, nil
}

func (reporter *Reporter) listTransactions(match func(ledger.Transaction) bool, limit int, offset int) []ledger.Transaction {
	reporter.database.mu.Lock()
	defer reporter.database.mu.Unlock()
	result := make([]ledger.Transaction, 0)
	skipped := 0
	for index := len(reporter.database.transactions) - 1; index >= 0 && len(result) < limit; index-- {
		transaction := reporter.database.transactions[index]
		if !match(transaction) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, transaction)
	}
	return result
}

func cloneOrder(order orders.Order) orders.Order {
	order.SelectedItems = order.SelectedItems.Clone()
	order.RefundTransactionID = cloneTransactionID(order.RefundTransactionID)
	order.ConfirmedAt = cloneTime(order.ConfirmedAt)
	order.DeliveredAt = cloneTime(order.DeliveredAt)
	order.CancelledAt = cloneTime(order.CancelledAt)
	order.RefundedAt = cloneTime(order.RefundedAt)
	return order
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneTransactionID(value *ledger.TransactionID) *ledger.TransactionID {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func firstTime(existing *time.Time, candidate *time.Time) *time.Time {
	if existing != nil {
		return existing
	}
	return cloneTime(candidate)
}
