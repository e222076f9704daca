package ledger

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type stubStore struct {
	mu           sync.Mutex
	accounts     map[AccountID]Account
	transactions []Transaction

	lockAccountError error
	getAccountError  error
	increaseError    error
	decreaseError    error
	insertError      error
	sumError         error
	sumOverride      *TransactionTotals
}

type stubTx struct {
	*stubStore
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[AccountID]Account)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	accountsSnapshot := make(map[AccountID]Account, len(store.accounts))
	for key, value := range store.accounts {
		accountsSnapshot[key] = value
	}
	transactionsSnapshot := len(store.transactions)
	if err := fn(ctx, stubTx{stubStore: store}); err != nil {
		store.accounts = accountsSnapshot
		store.transactions = store.transactions[:transactionsSnapshot]
		return err
	}
	return nil
}

func (transaction stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (store *stubStore) LockAccount(ctx context.Context, accountID AccountID) (Account, error) {
	if store.lockAccountError != nil {
		return Account{}, store.lockAccountError
	}
	account, ok := store.accounts[accountID]
	if !ok {
		account = Account{AccountID: accountID}
		store.accounts[accountID] = account
	}
	return account, nil
}

func (store *stubStore) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return account, nil
}

func (store *stubStore) IncreaseBalance(ctx context.Context, accountID AccountID, amount PositiveCredits, at time.Time) (Credits, error) {
	if store.increaseError != nil {
		return 0, store.increaseError
	}
	account := store.accounts[accountID]
	account.AccountID = accountID
	account.Balance += amount.ToCredits()
	account.UpdatedAt = at
	store.accounts[accountID] = account
	return account.Balance, nil
}

func (store *stubStore) DecreaseBalance(ctx context.Context, accountID AccountID, amount PositiveCredits, at time.Time) (Credits, error) {
	if store.decreaseError != nil {
		return 0, store.decreaseError
	}
	account := store.accounts[accountID]
	if !account.Balance.Covers(amount) {
		return 0, ErrInsufficientCredits
	}
	account.Balance -= amount.ToCredits()
	account.UpdatedAt = at
	store.accounts[accountID] = account
	return account.Balance, nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) error {
	if store.insertError != nil {
		return store.insertError
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) SumTransactions(ctx context.Context, accountID AccountID) (TransactionTotals, error) {
	if store.sumError != nil {
		return TransactionTotals{}, store.sumError
	}
	if store.sumOverride != nil {
		return *store.sumOverride, nil
	}
	var totals TransactionTotals
	for _, transaction := range store.transactions {
		if transaction.AccountID() != accountID {
			continue
		}
		if transaction.Direction() == DirectionCredit {
			totals.Credits += transaction.Amount().Int64()
		} else {
			totals.Debits += transaction.Amount().Int64()
		}
	}
	return totals, nil
}

func (store *stubStore) balance(accountID AccountID) Credits {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.accounts[accountID].Balance
}

type sequenceIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (generator *sequenceIDGenerator) NextTransactionID(direction Direction) (TransactionID, error) {
	generator.mu.Lock()
	defer generator.mu.Unlock()
	generator.next++
	prefix, err := transactionPrefix(direction)
	if err != nil {
		return TransactionID{}, err
	}
	return NewTransactionID(prefix + "-" + strconv.Itoa(generator.next))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (publisher *recordingPublisher) Publish(_ context.Context, event Event) {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	publisher.events = append(publisher.events, event)
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithIDGenerator(&sequenceIDGenerator{})}, options...)
	service, err := NewService(store, func() time.Time { return fixedTime }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustOrderID(test *testing.T, raw string) OrderID {
	test.Helper()
	value, err := NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return value
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	value, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return value
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	value, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}
