// Package reporting serves read-only, paginated views over orders and the
// transaction log.
package reporting

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var (
	ErrInvalidPage   = errors.New("invalid page")
	ErrInvalidSource = errors.New("reporting source is nil")
)

// Page selects a window of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// NewPage applies the default limit and rejects out of range values.
func NewPage(limit int, offset int) (Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return Page{}, fmt.Errorf("%w: limit exceeds maximum: %d > %d", ErrInvalidPage, limit, MaxLimit)
	}
	if offset < 0 {
		return Page{}, fmt.Errorf("%w: negative offset %d", ErrInvalidPage, offset)
	}
	return Page{Limit: limit, Offset: offset}, nil
}

// Source is implemented by the stores. Results are ordered newest first.
type Source interface {
	ListTransactionsByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]ledger.Transaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID ledger.OrderID, limit int, offset int) ([]ledger.Transaction, error)
	ListOrdersByAccount(ctx context.Context, accountID ledger.AccountID, limit int, offset int) ([]orders.Order, error)
}

// TransactionPage is one window of transactions.
type TransactionPage struct {
	Transactions []ledger.Transaction
	Page         Page
	HasMore      bool
}

// OrderPage is one window of orders.
type OrderPage struct {
	Orders  []orders.Order
	Page    Page
	HasMore bool
}

// Service reads pages from a Source.
type Service struct {
	source Source
}

// NewService wires a Service.
func NewService(source Source) (*Service, error) {
	if source == nil {
		return nil, ErrInvalidSource
	}
	return &Service{source: source}, nil
}

// TransactionsByAccount lists an account's transactions.
func (service *Service) TransactionsByAccount(ctx context.Context, accountID ledger.AccountID, page Page) (TransactionPage, error) {
	if accountID.IsZero() {
		return TransactionPage{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidAccountID)
	}
	transactions, err := service.source.ListTransactionsByAccount(ctx, accountID, page.Limit+1, page.Offset)
	if err != nil {
		return TransactionPage{}, err
	}
	return transactionPage(transactions, page), nil
}

// TransactionsByOrder lists the debit and any refund of an order.
func (service *Service) TransactionsByOrder(ctx context.Context, orderID ledger.OrderID, page Page) (TransactionPage, error) {
	if orderID.IsZero() {
		return TransactionPage{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidOrderID)
	}
	transactions, err := service.source.ListTransactionsByOrder(ctx, orderID, page.Limit+1, page.Offset)
	if err != nil {
		return TransactionPage{}, err
	}
	return transactionPage(transactions, page), nil
}

// OrdersByAccount lists an account's orders.
func (service *Service) OrdersByAccount(ctx context.Context, accountID ledger.AccountID, page Page) (OrderPage, error) {
	if accountID.IsZero() {
		return OrderPage{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidAccountID)
	}
	placed, err := service.source.ListOrdersByAccount(ctx, accountID, page.Limit+1, page.Offset)
	if err != nil {
		return OrderPage{}, err
	}
	result := OrderPage{Page: page, Orders: placed}
	if len(placed) > page.Limit {
		result.Orders = placed[:page.Limit]
		result.HasMore = true
	}
	return result, nil
}

func transactionPage(transactions []ledger.Transaction, page Page) TransactionPage {
	result := TransactionPage{Page: page, Transactions: transactions}
	if len(transactions) > page.Limit {
		result.Transactions = transactions[:page.Limit]
		result.HasMore = true
	}
	return result
}
