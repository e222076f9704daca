package grpcserver

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const (
	errorInsufficientCredits = "insufficient_credits"
	errorUnknownOrder        = "unknown_order"
	errorConcurrencyConflict = "concurrency_conflict"
	errorInvalidAccountID    = "invalid_account_id"
	errorInvalidOrderID      = "invalid_order_id"
	errorInvalidAmount       = "invalid_amount"
	errorInvalidReason       = "invalid_reason"
	errorInvalidStatus       = "invalid_status"
	errorInvalidSelection    = "invalid_selection"
	errorInvalidAddress      = "invalid_delivery_address"
	errorInvalidListLimit    = "invalid_list_limit"
	errorBalanceMismatch     = "balance_mismatch"
)

var _ LedgerServiceServer = (*Server)(nil)

// Server exposes the ledger, order and reporting services over gRPC.
type Server struct {
	ledgerService *ledger.Service
	orderService  *orders.Service
	reports       *reporting.Service
	retryPolicy   ledger.RetryPolicy
}

// NewServer constructs a gRPC server for the services.
func NewServer(ledgerService *ledger.Service, orderService *orders.Service, reports *reporting.Service, retryPolicy ledger.RetryPolicy) *Server {
	return &Server{
		ledgerService: ledgerService,
		orderService:  orderService,
		reports:       reports,
		retryPolicy:   retryPolicy,
	}
}

func (server *Server) Credit(ctx context.Context, request *MovementRequest) (*MovementResponse, error) {
	return server.move(ctx, request, ledger.ReasonAdminAdd, server.ledgerService.Credit)
}

func (server *Server) Debit(ctx context.Context, request *MovementRequest) (*MovementResponse, error) {
	return server.move(ctx, request, ledger.ReasonAdminDeduct, server.ledgerService.Debit)
}

type movement func(ctx context.Context, accountID ledger.AccountID, amount ledger.PositiveCredits, reason ledger.Reason, relatedOrderID *ledger.OrderID) (ledger.Transaction, error)

func (server *Server) move(ctx context.Context, request *MovementRequest, defaultReason ledger.Reason, apply movement) (*MovementResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reason := defaultReason
	if request.Reason != "" {
		reason, err = ledger.ParseReason(request.Reason)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	var relatedOrderID *ledger.OrderID
	if request.RelatedOrderID != "" {
		orderID, orderErr := ledger.NewOrderID(request.RelatedOrderID)
		if orderErr != nil {
			return nil, mapToGRPCError(orderErr)
		}
		relatedOrderID = &orderID
	}
	var transaction ledger.Transaction
	operationError := ledger.Retry(ctx, server.retryPolicy, func(ctx context.Context) error {
		var applyErr error
		transaction, applyErr = apply(ctx, accountID, amount, reason, relatedOrderID)
		return applyErr
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	account, err := server.ledgerService.Balance(ctx, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &MovementResponse{
		Transaction: newTransactionMessage(transaction),
		Balance:     account.Balance.Int64(),
	}, nil
}

func (server *Server) GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := server.ledgerService.Balance(ctx, accountID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &BalanceResponse{
		AccountID:      accountID.String(),
		Balance:        account.Balance.Int64(),
		UpdatedUnixUtc: unixOrZero(account.UpdatedAt),
	}, nil
}

func (server *Server) ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	page, err := reporting.NewPage(int(request.Limit), int(request.Offset))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	var result reporting.TransactionPage
	if request.OrderID != "" {
		orderID, idErr := ledger.NewOrderID(request.OrderID)
		if idErr != nil {
			return nil, mapToGRPCError(idErr)
		}
		result, err = server.reports.TransactionsByOrder(ctx, orderID, page)
	} else {
		accountID, idErr := ledger.NewAccountID(request.AccountID)
		if idErr != nil {
			return nil, mapToGRPCError(idErr)
		}
		result, err = server.reports.TransactionsByAccount(ctx, accountID, page)
	}
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListTransactionsResponse{
		Transactions: make([]*Transaction, 0, len(result.Transactions)),
		HasMore:      result.HasMore,
	}
	for _, transaction := range result.Transactions {
		response.Transactions = append(response.Transactions, newTransactionMessage(transaction))
	}
	return response, nil
}

func (server *Server) PlaceOrder(ctx context.Context, request *PlaceOrderRequest) (*OrderResponse, error) {
	accountID, err := ledger.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	items := make(orders.SelectedItems, len(request.SelectedItems))
	for key, item := range request.SelectedItems {
		items[key] = orders.SelectedItem{Selected: item.Selected, Date: item.Date}
	}
	var order orders.Order
	operationError := ledger.Retry(ctx, server.retryPolicy, func(ctx context.Context) error {
		var placeErr error
		order, placeErr = server.orderService.PlaceOrder(ctx, orders.PlaceOrderRequest{
			AccountID:           accountID,
			SelectedItems:       items,
			DeliveryAddress:     request.DeliveryAddress,
			SpecialInstructions: request.SpecialInstructions,
		})
		return placeErr
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &OrderResponse{Order: newOrderMessage(order)}, nil
}

func (server *Server) TransitionOrder(ctx context.Context, request *TransitionOrderRequest) (*OrderResponse, error) {
	orderID, err := ledger.NewOrderID(request.OrderID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	target, err := orders.ParseStatus(request.Status)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var order orders.Order
	operationError := ledger.Retry(ctx, server.retryPolicy, func(ctx context.Context) error {
		var transitionErr error
		order, transitionErr = server.orderService.Transition(ctx, orderID, target, orders.TransitionOptions{RefundCredits: request.RefundCredits})
		return transitionErr
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &OrderResponse{Order: newOrderMessage(order)}, nil
}

func (server *Server) GetOrder(ctx context.Context, request *GetOrderRequest) (*OrderResponse, error) {
	orderID, err := ledger.NewOrderID(request.OrderID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	order, operationError := server.orderService.GetOrder(ctx, orderID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &OrderResponse{Order: newOrderMessage(order)}, nil
}

func newTransactionMessage(transaction ledger.Transaction) *Transaction {
	message := &Transaction{
		TransactionID:  transaction.TransactionID().String(),
		AccountID:      transaction.AccountID().String(),
		Direction:      transaction.Direction().String(),
		Amount:         transaction.Amount().Int64(),
		Reason:         transaction.Reason().String(),
		CreatedUnixUtc: transaction.CreatedAt().UTC().Unix(),
	}
	if orderID, ok := transaction.RelatedOrderID(); ok {
		message.RelatedOrderID = orderID.String()
	}
	return message
}

func newOrderMessage(order orders.Order) *Order {
	items := make(map[string]SelectedItem, len(order.SelectedItems))
	for key, item := range order.SelectedItems {
		items[key] = SelectedItem{Selected: item.Selected, Date: item.Date}
	}
	message := &Order{
		OrderID:             order.OrderID.String(),
		AccountID:           order.AccountID.String(),
		SelectedItems:       items,
		CreditCost:          order.CreditCost.Int64(),
		DeliveryAddress:     order.DeliveryAddress,
		SpecialInstructions: order.SpecialInstructions,
		Status:              order.Status.String(),
		DebitTransactionID:  order.DebitTransactionID.String(),
		CreatedUnixUtc:      unixOrZero(order.CreatedAt),
		UpdatedUnixUtc:      unixOrZero(order.UpdatedAt),
		ConfirmedUnixUtc:    unixOrZeroPointer(order.ConfirmedAt),
		DeliveredUnixUtc:    unixOrZeroPointer(order.DeliveredAt),
		CancelledUnixUtc:    unixOrZeroPointer(order.CancelledAt),
		RefundedUnixUtc:     unixOrZeroPointer(order.RefundedAt),
	}
	if order.RefundTransactionID != nil {
		message.RefundTransactionID = order.RefundTransactionID.String()
	}
	return message
}

func unixOrZero(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().Unix()
}

func unixOrZeroPointer(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return unixOrZero(*value)
}

func mapToGRPCError(source error) error {
	var transitionError orders.TransitionError
	if errors.As(source, &transitionError) {
		return status.Error(codes.FailedPrecondition, transitionError.Error())
	}
	if errors.Is(source, ledger.ErrInvalidAccountID) {
		return status.Error(codes.InvalidArgument, errorInvalidAccountID)
	}
	if errors.Is(source, ledger.ErrInvalidOrderID) {
		return status.Error(codes.InvalidArgument, errorInvalidOrderID)
	}
	if errors.Is(source, ledger.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, ledger.ErrInvalidReason) {
		return status.Error(codes.InvalidArgument, errorInvalidReason)
	}
	if errors.Is(source, orders.ErrInvalidStatus) {
		return status.Error(codes.InvalidArgument, errorInvalidStatus)
	}
	if errors.Is(source, orders.ErrEmptySelection) || errors.Is(source, orders.ErrInvalidSelection) {
		return status.Error(codes.InvalidArgument, errorInvalidSelection)
	}
	if errors.Is(source, orders.ErrInvalidDeliveryAddress) {
		return status.Error(codes.InvalidArgument, errorInvalidAddress)
	}
	if errors.Is(source, reporting.ErrInvalidPage) {
		return status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	if errors.Is(source, ledger.ErrInsufficientCredits) {
		return status.Error(codes.FailedPrecondition, errorInsufficientCredits)
	}
	if errors.Is(source, orders.ErrUnknownOrder) {
		return status.Error(codes.NotFound, errorUnknownOrder)
	}
	if errors.Is(source, ledger.ErrConcurrencyConflict) {
		return status.Error(codes.Aborted, errorConcurrencyConflict)
	}
	if errors.Is(source, ledger.ErrBalanceMismatch) {
		return status.Error(codes.DataLoss, errorBalanceMismatch)
	}
	return status.Error(codes.Internal, source.Error())
}
