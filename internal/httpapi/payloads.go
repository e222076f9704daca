package httpapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

type placeOrderRequest struct {
	SelectedItems       orders.SelectedItems `json:"selected_items"`
	DeliveryAddress     string               `json:"delivery_address"`
	SpecialInstructions string               `json:"special_instructions"`
}

type adjustmentRequest struct {
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	RelatedOrderID string `json:"related_order_id"`
}

type transitionRequest struct {
	Status        string `json:"status"`
	RefundCredits bool   `json:"refund_credits"`
}

type pageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type balancePayload struct {
	AccountID string     `json:"account_id"`
	Balance   int64      `json:"balance"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type transactionPayload struct {
	TransactionID  string    `json:"transaction_id"`
	AccountID      string    `json:"account_id"`
	Direction      string    `json:"direction"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason"`
	RelatedOrderID string    `json:"related_order_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type orderPayload struct {
	OrderID             string               `json:"order_id"`
	AccountID           string               `json:"account_id"`
	SelectedItems       orders.SelectedItems `json:"selected_items"`
	CreditCost          int64                `json:"credit_cost"`
	DeliveryAddress     string               `json:"delivery_address"`
	SpecialInstructions string               `json:"special_instructions,omitempty"`
	Status              string               `json:"status"`
	DebitTransactionID  string               `json:"debit_transaction_id"`
	RefundTransactionID string               `json:"refund_transaction_id,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	ConfirmedAt         *time.Time           `json:"confirmed_at,omitempty"`
	DeliveredAt         *time.Time           `json:"delivered_at,omitempty"`
	CancelledAt         *time.Time           `json:"cancelled_at,omitempty"`
	RefundedAt          *time.Time           `json:"refunded_at,omitempty"`
}

type pagePayload struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

type transactionPagePayload struct {
	Transactions []transactionPayload `json:"transactions"`
	Page         pagePayload          `json:"page"`
}

type orderPagePayload struct {
	Orders []orderPayload `json:"orders"`
	Page   pagePayload    `json:"page"`
}

type reconciliationPayload struct {
	AccountID     string `json:"account_id"`
	CachedBalance int64  `json:"cached_balance"`
	CreditTotal   int64  `json:"credit_total"`
	DebitTotal    int64  `json:"debit_total"`
	LogBalance    int64  `json:"log_balance"`
	Consistent    bool   `json:"consistent"`
}

func newBalancePayload(account ledger.Account) balancePayload {
	payload := balancePayload{
		AccountID: account.AccountID.String(),
		Balance:   account.Balance.Int64(),
	}
	if !account.UpdatedAt.IsZero() {
		updatedAt := account.UpdatedAt.UTC()
		payload.UpdatedAt = &updatedAt
	}
	return payload
}

func newTransactionPayload(transaction ledger.Transaction) transactionPayload {
	payload := transactionPayload{
		TransactionID: transaction.TransactionID().String(),
		AccountID:     transaction.AccountID().String(),
		Direction:     transaction.Direction().String(),
		Amount:        transaction.Amount().Int64(),
		Reason:        transaction.Reason().String(),
		CreatedAt:     transaction.CreatedAt().UTC(),
	}
	if orderID, ok := transaction.RelatedOrderID(); ok {
		payload.RelatedOrderID = orderID.String()
	}
	return payload
}

func newOrderPayload(order orders.Order) orderPayload {
	payload := orderPayload{
		OrderID:             order.OrderID.String(),
		AccountID:           order.AccountID.String(),
		SelectedItems:       order.SelectedItems,
		CreditCost:          order.CreditCost.Int64(),
		DeliveryAddress:     order.DeliveryAddress,
		SpecialInstructions: order.SpecialInstructions,
		Status:              order.Status.String(),
		DebitTransactionID:  order.DebitTransactionID.String(),
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
		ConfirmedAt:         order.ConfirmedAt,
		DeliveredAt:         order.DeliveredAt,
		CancelledAt:         order.CancelledAt,
		RefundedAt:          order.RefundedAt,
	}
	if order.RefundTransactionID != nil {
		payload.RefundTransactionID = order.RefundTransactionID.String()
	}
	return payload
}

func newTransactionPagePayload(page reporting.TransactionPage) transactionPagePayload {
	transactions := make([]transactionPayload, 0, len(page.Transactions))
	for _, transaction := range page.Transactions {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	return transactionPagePayload{
		Transactions: transactions,
		Page:         pagePayload{Limit: page.Page.Limit, Offset: page.Page.Offset, HasMore: page.HasMore},
	}
}

func newOrderPagePayload(page reporting.OrderPage) orderPagePayload {
	list := make([]orderPayload, 0, len(page.Orders))
	for _, order := range page.Orders {
		list = append(list, newOrderPayload(order))
	}
	return orderPagePayload{
		Orders: list,
		Page:   pagePayload{Limit: page.Page.Limit, Offset: page.Page.Offset, HasMore: page.HasMore},
	}
}

func newReconciliationPayload(reconciliation ledger.Reconciliation) reconciliationPayload {
	return reconciliationPayload{
		AccountID:     reconciliation.AccountID.String(),
		CachedBalance: reconciliation.CachedBalance.Int64(),
		CreditTotal:   reconciliation.Totals.Credits,
		DebitTotal:    reconciliation.Totals.Debits,
		LogBalance:    reconciliation.Totals.Balance(),
		Consistent:    reconciliation.Consistent(),
	}
}
