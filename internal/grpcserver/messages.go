package grpcserver

// MovementRequest credits or debits an account.
type MovementRequest struct {
	AccountID      string `json:"account_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	RelatedOrderID string `json:"related_order_id,omitempty"`
}

// MovementResponse carries the appended transaction and the new balance.
type MovementResponse struct {
	Transaction *Transaction `json:"transaction"`
	Balance     int64        `json:"balance"`
}

type BalanceRequest struct {
	AccountID string `json:"account_id"`
}

type BalanceResponse struct {
	AccountID      string `json:"account_id"`
	Balance        int64  `json:"balance"`
	UpdatedUnixUtc int64  `json:"updated_unix_utc,omitempty"`
}

// ListTransactionsRequest filters by OrderID when set, by AccountID otherwise.
type ListTransactionsRequest struct {
	AccountID string `json:"account_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Limit     int32  `json:"limit,omitempty"`
	Offset    int32  `json:"offset,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
	HasMore      bool           `json:"has_more"`
}

type Transaction struct {
	TransactionID  string `json:"transaction_id"`
	AccountID      string `json:"account_id"`
	Direction      string `json:"direction"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	RelatedOrderID string `json:"related_order_id,omitempty"`
	CreatedUnixUtc int64  `json:"created_unix_utc"`
}

type SelectedItem struct {
	Selected bool   `json:"selected"`
	Date     string `json:"date"`
}

type PlaceOrderRequest struct {
	AccountID           string                  `json:"account_id"`
	SelectedItems       map[string]SelectedItem `json:"selected_items"`
	DeliveryAddress     string                  `json:"delivery_address"`
	SpecialInstructions string                  `json:"special_instructions,omitempty"`
}

type TransitionOrderRequest struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	RefundCredits bool   `json:"refund_credits,omitempty"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type OrderResponse struct {
	Order *Order `json:"order"`
}

type Order struct {
	OrderID             string                  `json:"order_id"`
	AccountID           string                  `json:"account_id"`
	SelectedItems       map[string]SelectedItem `json:"selected_items"`
	CreditCost          int64                   `json:"credit_cost"`
	DeliveryAddress     string                  `json:"delivery_address"`
	SpecialInstructions string                  `json:"special_instructions,omitempty"`
	Status              string                  `json:"status"`
	DebitTransactionID  string                  `json:"debit_transaction_id"`
	RefundTransactionID string                  `json:"refund_transaction_id,omitempty"`
	CreatedUnixUtc      int64                   `json:"created_unix_utc"`
	UpdatedUnixUtc      int64                   `json:"updated_unix_utc"`
	ConfirmedUnixUtc    int64                   `json:"confirmed_unix_utc,omitempty"`
	DeliveredUnixUtc    int64                   `json:"delivered_unix_utc,omitempty"`
	CancelledUnixUtc    int64                   `json:"cancelled_unix_utc,omitempty"`
	RefundedUnixUtc     int64                   `json:"refunded_unix_utc,omitempty"`
}
