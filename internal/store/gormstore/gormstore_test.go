package gormstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (clock *steppingClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.current = clock.current.Add(time.Second)
	return clock.current
}

func openTestDatabase(test *testing.T) *gorm.DB {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(test.TempDir(), "mealcredits.db")), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	return db
}

type services struct {
	db       *gorm.DB
	ledger   *ledger.Service
	orders   *orders.Service
	reporter *Reporter
}

func newServices(test *testing.T) services {
	test.Helper()
	db := openTestDatabase(test)
	clock := &steppingClock{current: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)}
	ledgerService, err := ledger.NewService(New(db), clock.Now)
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	orderService, err := orders.NewService(NewOrderStore(db), ledgerService, clock.Now)
	if err != nil {
		test.Fatalf("order service: %v", err)
	}
	return services{db: db, ledger: ledgerService, orders: orderService, reporter: NewReporter(db)}
}

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func TestOrderScenarioOnSQLite(test *testing.T) {
	test.Parallel()
	env := newServices(test)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	if _, err := env.ledger.Credit(ctx, account, 5, ledger.ReasonPurchase, nil); err != nil {
		test.Fatalf("credit: %v", err)
	}
	order, err := env.orders.PlaceOrder(ctx, orders.PlaceOrderRequest{
		AccountID: account,
		SelectedItems: orders.SelectedItems{
			"monday":    {Selected: true, Date: "2026-03-02"},
			"tuesday":   {Selected: true, Date: "2026-03-03"},
			"wednesday": {Selected: true, Date: "2026-03-04"},
			"thursday":  {Selected: false, Date: "2026-03-05"},
		},
		DeliveryAddress: "12 Harbour Road",
	})
	if err != nil {
		test.Fatalf("place order: %v", err)
	}
	assertBalance(test, env.ledger, account, 2)

	if _, err := env.orders.Transition(ctx, order.OrderID, orders.StatusConfirmed, orders.TransitionOptions{}); err != nil {
		test.Fatalf("confirm: %v", err)
	}
	assertBalance(test, env.ledger, account, 2)
	refunded, err := env.orders.Transition(ctx, order.OrderID, orders.StatusRefunded, orders.TransitionOptions{})
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if refunded.RefundTransactionID == nil || refunded.RefundedAt == nil || refunded.ConfirmedAt == nil {
		test.Fatalf("unexpected refunded order: %+v", refunded)
	}
	assertBalance(test, env.ledger, account, 5)
	if _, err := env.orders.Transition(ctx, order.OrderID, orders.StatusRefunded, orders.TransitionOptions{}); err != nil {
		test.Fatalf("repeated refund: %v", err)
	}
	assertBalance(test, env.ledger, account, 5)

	stored, err := env.orders.GetOrder(ctx, order.OrderID)
	if err != nil {
		test.Fatalf("get order: %v", err)
	}
	if stored.Status != orders.StatusRefunded || len(stored.SelectedItems) != 4 || stored.SelectedItems["thursday"].Selected {
		test.Fatalf("unexpected stored order: %+v", stored)
	}
	if *stored.RefundTransactionID != *refunded.RefundTransactionID || !stored.ConfirmedAt.Equal(*refunded.ConfirmedAt) {
		test.Fatalf("expected stored refund and timestamps to match")
	}

	byOrder, err := env.reporter.ListTransactionsByOrder(ctx, order.OrderID, 10, 0)
	if err != nil {
		test.Fatalf("list by order: %v", err)
	}
	if len(byOrder) != 2 || byOrder[0].Reason() != ledger.ReasonOrderRefund || byOrder[1].Reason() != ledger.ReasonOrderDebit {
		test.Fatalf("unexpected order transactions: %+v", byOrder)
	}
	placed, err := env.reporter.ListOrdersByAccount(ctx, account, 10, 0)
	if err != nil || len(placed) != 1 {
		test.Fatalf("expected one order, got %d (%v)", len(placed), err)
	}
	reconciliation, err := env.ledger.Reconcile(ctx, account)
	if err != nil || !reconciliation.Consistent() || reconciliation.Totals.Credits != 8 || reconciliation.Totals.Debits != 3 {
		test.Fatalf("unexpected reconciliation %+v (%v)", reconciliation, err)
	}
}

func TestConcurrentDebitsOnSQLite(test *testing.T) {
	test.Parallel()
	env := newServices(test)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	if _, err := env.ledger.Credit(ctx, account, 4, ledger.ReasonAdminAdd, nil); err != nil {
		test.Fatalf("credit: %v", err)
	}
	const workers = 2
	var waitGroup sync.WaitGroup
	results := make(chan error, workers)
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := env.ledger.Debit(ctx, account, 4, ledger.ReasonAdminDeduct, nil)
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)
	successes, insufficient := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrInsufficientCredits):
			insufficient++
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || insufficient != 1 {
		test.Fatalf("expected one success and one insufficient, got %d/%d", successes, insufficient)
	}
	assertBalance(test, env.ledger, account, 0)
}

func TestConcurrentRefundsOnSQLite(test *testing.T) {
	test.Parallel()
	env := newServices(test)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	if _, err := env.ledger.Credit(ctx, account, 5, ledger.ReasonPurchase, nil); err != nil {
		test.Fatalf("credit: %v", err)
	}
	order, err := env.orders.PlaceOrder(ctx, orders.PlaceOrderRequest{
		AccountID: account,
		SelectedItems: orders.SelectedItems{
			"monday":  {Selected: true, Date: "2026-03-02"},
			"tuesday": {Selected: true, Date: "2026-03-03"},
		},
		DeliveryAddress: "12 Harbour Road",
	})
	if err != nil {
		test.Fatalf("place order: %v", err)
	}
	if _, err := env.orders.Transition(ctx, order.OrderID, orders.StatusConfirmed, orders.TransitionOptions{}); err != nil {
		test.Fatalf("confirm: %v", err)
	}

	const workers = 6
	var waitGroup sync.WaitGroup
	results := make(chan error, workers)
	for index := 0; index < workers; index++ {
		target, options := orders.StatusRefunded, orders.TransitionOptions{}
		if index%2 == 1 {
			target, options = orders.StatusCancelled, orders.TransitionOptions{RefundCredits: true}
		}
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			results <- ledger.Retry(ctx, ledger.DefaultRetryPolicy(), func(ctx context.Context) error {
				_, err := env.orders.Transition(ctx, order.OrderID, target, options)
				return err
			})
		}()
	}
	waitGroup.Wait()
	close(results)
	for err := range results {
		if err != nil && !errors.Is(err, orders.ErrInvalidTransition) {
			test.Fatalf("unexpected error: %v", err)
		}
	}

	stored, err := env.orders.GetOrder(ctx, order.OrderID)
	if err != nil {
		test.Fatalf("get order: %v", err)
	}
	if stored.RefundTransactionID == nil || stored.RefundedAt == nil {
		test.Fatalf("expected a recorded refund, got %+v", stored)
	}
	byOrder, err := env.reporter.ListTransactionsByOrder(ctx, order.OrderID, 10, 0)
	if err != nil {
		test.Fatalf("list by order: %v", err)
	}
	refunds := 0
	for _, transaction := range byOrder {
		if transaction.Reason() == ledger.ReasonOrderRefund {
			refunds++
			if transaction.TransactionID() != *stored.RefundTransactionID {
				test.Fatalf("refund entry %s does not match order", transaction.TransactionID().String())
			}
		}
	}
	if refunds != 1 {
		test.Fatalf("expected exactly one refund, got %d", refunds)
	}
	assertBalance(test, env.ledger, account, 5)
}

func TestDecreaseBalanceIsGuarded(test *testing.T) {
	test.Parallel()
	db := openTestDatabase(test)
	store := New(db)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	if _, err := store.LockAccount(ctx, account); err != nil {
		test.Fatalf("lock: %v", err)
	}
	if _, err := store.LockAccount(ctx, account); err != nil {
		test.Fatalf("second lock must reuse the row: %v", err)
	}
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	if _, err := store.IncreaseBalance(ctx, account, 3, at); err != nil {
		test.Fatalf("increase: %v", err)
	}
	if _, err := store.DecreaseBalance(ctx, account, 4, at); !errors.Is(err, ledger.ErrInsufficientCredits) {
		test.Fatalf("expected insufficient credits, got %v", err)
	}
	balance, err := store.DecreaseBalance(ctx, account, 3, at)
	if err != nil || balance.Int64() != 0 {
		test.Fatalf("expected zero balance, got %d (%v)", balance.Int64(), err)
	}
	if _, err := store.GetAccount(ctx, mustAccountID(test, "missing")); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account, got %v", err)
	}
	if _, err := store.IncreaseBalance(ctx, mustAccountID(test, "missing"), 1, at); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected unknown account on increase, got %v", err)
	}
}

func TestWithTxRollsBackBalanceAndLog(test *testing.T) {
	test.Parallel()
	db := openTestDatabase(test)
	store := New(db)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	failure := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
		if _, err := txStore.LockAccount(ctx, account); err != nil {
			return err
		}
		if _, err := txStore.IncreaseBalance(ctx, account, 2, time.Now().UTC()); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected callback error, got %v", err)
	}
	if _, err := store.GetAccount(ctx, account); !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected rollback of account creation, got %v", err)
	}
}

func TestRefundTransactionGuard(test *testing.T) {
	test.Parallel()
	env := newServices(test)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	if _, err := env.ledger.Credit(ctx, account, 2, ledger.ReasonPurchase, nil); err != nil {
		test.Fatalf("credit: %v", err)
	}
	order, err := env.orders.PlaceOrder(ctx, orders.PlaceOrderRequest{
		AccountID:       account,
		SelectedItems:   orders.SelectedItems{"monday": {Selected: true, Date: "2026-03-02"}},
		DeliveryAddress: "1 Main Street",
	})
	if err != nil {
		test.Fatalf("place: %v", err)
	}
	store := NewOrderStore(env.db)
	first, _ := ledger.NewTransactionID("CR-first")
	second, _ := ledger.NewTransactionID("CR-second")
	at := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	if err := store.SetRefundTransaction(ctx, order.OrderID, first, at); err != nil {
		test.Fatalf("first refund: %v", err)
	}
	if err := store.SetRefundTransaction(ctx, order.OrderID, second, at.Add(time.Hour)); !errors.Is(err, orders.ErrDuplicateRefund) {
		test.Fatalf("expected duplicate refund, got %v", err)
	}
	missing, _ := ledger.NewOrderID("missing")
	if err := store.SetRefundTransaction(ctx, missing, second, at); !errors.Is(err, orders.ErrUnknownOrder) {
		test.Fatalf("expected unknown order, got %v", err)
	}
	stored, err := store.GetOrder(ctx, order.OrderID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if *stored.RefundTransactionID != first || !stored.RefundedAt.Equal(at) {
		test.Fatalf("unexpected refund state: %+v", stored)
	}

	stale := stored
	stale.Status = orders.StatusDelivery
	if err := store.UpdateOrder(ctx, stale, orders.StatusConfirmed); !errors.Is(err, ledger.ErrConcurrencyConflict) {
		test.Fatalf("expected conflict for stale status, got %v", err)
	}
}

func TestReporterPagination(test *testing.T) {
	test.Parallel()
	env := newServices(test)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	for amount := int64(1); amount <= 5; amount++ {
		if _, err := env.ledger.Credit(ctx, account, ledger.PositiveCredits(amount), ledger.ReasonPurchase, nil); err != nil {
			test.Fatalf("credit: %v", err)
		}
	}
	page, err := env.reporter.ListTransactionsByAccount(ctx, account, 2, 1)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].Amount().Int64() != 4 || page[1].Amount().Int64() != 3 {
		amounts := make([]string, 0, len(page))
		for _, transaction := range page {
			amounts = append(amounts, fmt.Sprint(transaction.Amount().Int64()))
		}
		test.Fatalf("unexpected page amounts %v", amounts)
	}
}

func TestReporterOrdersSameInstantEntriesBySequence(test *testing.T) {
	test.Parallel()
	db := openTestDatabase(test)
	store := New(db)
	ctx := context.Background()
	account := mustAccountID(test, "account-1")
	orderID, err := ledger.NewOrderID("order-1")
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	at := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	entries := []struct {
		id        string
		direction ledger.Direction
		reason    ledger.Reason
	}{
		{id: "DR-1900000000000000001", direction: ledger.DirectionDebit, reason: ledger.ReasonOrderDebit},
		{id: "CR-1900000000000000002", direction: ledger.DirectionCredit, reason: ledger.ReasonOrderRefund},
		{id: "DR-999", direction: ledger.DirectionDebit, reason: ledger.ReasonAdminDeduct},
	}
	for _, entry := range entries {
		transactionID, err := ledger.NewTransactionID(entry.id)
		if err != nil {
			test.Fatalf("transaction id: %v", err)
		}
		transaction, err := ledger.NewTransaction(transactionID, account, entry.direction, 1, entry.reason, &orderID, at)
		if err != nil {
			test.Fatalf("transaction: %v", err)
		}
		if err := store.InsertTransaction(ctx, transaction); err != nil {
			test.Fatalf("insert: %v", err)
		}
	}
	listed, err := NewReporter(db).ListTransactionsByOrder(ctx, orderID, 10, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(listed))
	for _, transaction := range listed {
		got = append(got, transaction.TransactionID().String())
	}
	expected := []string{"CR-1900000000000000002", "DR-1900000000000000001", "DR-999"}
	if fmt.Sprint(got) != fmt.Sprint(expected) {
		test.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestClassifyTxError(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, retryable: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, retryable: true},
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, retryable: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, retryable: false},
		{name: "wrapped deadlock", err: wrapStoreError(errorSubjectBalance, errorCodeUpdate, &pgconn.PgError{Code: "40P01"}), retryable: true},
		{name: "plain", err: errors.New("boom"), retryable: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			classified := classifyTxError(testCase.err)
			if ledger.IsRetryable(classified) != testCase.retryable {
				test.Fatalf("expected retryable=%v, got %v", testCase.retryable, classified)
			}
			if !errors.Is(classified, testCase.err) && !testCase.retryable {
				test.Fatalf("expected original error to be preserved")
			}
		})
	}
	if classifyTxError(nil) != nil {
		test.Fatalf("expected nil")
	}
}

func assertBalance(test *testing.T, service *ledger.Service, account ledger.AccountID, expected int64) {
	test.Helper()
	balance, err := service.Balance(context.Background(), account)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Balance.Int64() != expected {
		test.Fatalf("expected balance %d, got %d", expected, balance.Balance.Int64())
	}
}
