package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Credits is a non-negative balance of prepaid meal credits.
type Credits int64

// PositiveCredits is a strictly positive credit amount.
type PositiveCredits int64

// AccountID identifies a credit account.
type AccountID struct {
	value string
}

// OrderID identifies an order that a transaction relates to.
type OrderID struct {
	value string
}

// TransactionID identifies a single transaction log entry.
type TransactionID struct {
	value string
}

// NewCredits validates a balance value.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must be non-negative", ErrInvalidBalance)
	}
	return Credits(raw), nil
}

// Int64 exposes the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// Covers reports whether the balance can absorb a debit of amount.
func (credits Credits) Covers(amount PositiveCredits) bool {
	return credits.Int64() >= amount.Int64()
}

// NewPositiveCredits validates an amount and ensures it is strictly positive.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveCredits(raw), nil
}

// Int64 exposes the raw value.
func (amount PositiveCredits) Int64() int64 {
	return int64(amount)
}

// ToCredits converts the amount to a balance value.
func (amount PositiveCredits) ToCredits() Credits {
	return Credits(amount)
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// IsZero reports whether the identifier was never set.
func (id AccountID) IsZero() bool {
	return id.value == ""
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// IsZero reports whether the identifier was never set.
func (id OrderID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the identifier was never set.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// Direction is the side of a credit movement.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ParseDirection converts raw input into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.TrimSpace(raw)) {
	case DirectionCredit:
		return DirectionCredit, nil
	case DirectionDebit:
		return DirectionDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// String returns the direction as text.
func (direction Direction) String() string {
	return string(direction)
}

// Reason records why credits moved.
type Reason string

const (
	ReasonPurchase    Reason = "purchase"
	ReasonAdminAdd    Reason = "admin-add"
	ReasonAdminDeduct Reason = "admin-deduct"
	ReasonOrderDebit  Reason = "order-debit"
	ReasonOrderRefund Reason = "order-refund"
)

var reasonDirections = map[Reason]Direction{
	ReasonPurchase:    DirectionCredit,
	ReasonAdminAdd:    DirectionCredit,
	ReasonOrderRefund: DirectionCredit,
	ReasonAdminDeduct: DirectionDebit,
	ReasonOrderDebit:  DirectionDebit,
}

// ParseReason converts raw input into a Reason.
func ParseReason(raw string) (Reason, error) {
	reason := Reason(strings.TrimSpace(raw))
	if _, ok := reasonDirections[reason]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, raw)
	}
	return reason, nil
}

// String returns the reason as text.
func (reason Reason) String() string {
	return string(reason)
}

// Direction returns the only direction the reason may be recorded with.
func (reason Reason) Direction() (Direction, bool) {
	direction, ok := reasonDirections[reason]
	return direction, ok
}

// IsOrderReason reports whether the reason belongs to the order lifecycle.
// Those movements are written only through CreditWithin and DebitWithin.
func (reason Reason) IsOrderReason() bool {
	return reason == ReasonOrderDebit || reason == ReasonOrderRefund
}

func validateReason(reason Reason, direction Direction) error {
	expected, ok := reason.Direction()
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason.String())
	}
	if expected != direction {
		return fmt.Errorf("%w: %q is not a %s reason", ErrInvalidReason, reason.String(), direction.String())
	}
	return nil
}

// Transaction is a single immutable line in the transaction log.
type Transaction struct {
	transactionID  TransactionID
	accountID      AccountID
	direction      Direction
	amount         PositiveCredits
	reason         Reason
	relatedOrderID *OrderID
	createdAt      time.Time
}

// NewTransaction validates and assembles a Transaction.
func NewTransaction(transactionID TransactionID, accountID AccountID, direction Direction, amount PositiveCredits, reason Reason, relatedOrderID *OrderID, createdAt time.Time) (Transaction, error) {
	if transactionID.IsZero() {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	if accountID.IsZero() {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseDirection(direction.String()); err != nil {
		return Transaction{}, err
	}
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if err := validateReason(reason, direction); err != nil {
		return Transaction{}, err
	}
	if createdAt.IsZero() {
		return Transaction{}, fmt.Errorf("%w: created at is zero", ErrInvalidTimestamp)
	}
	var relatedOrder *OrderID
	if relatedOrderID != nil {
		if relatedOrderID.IsZero() {
			return Transaction{}, fmt.Errorf("%w: empty related order", ErrInvalidOrderID)
		}
		value := *relatedOrderID
		relatedOrder = &value
	}
	return Transaction{
		transactionID:  transactionID,
		accountID:      accountID,
		direction:      direction,
		amount:         amount,
		reason:         reason,
		relatedOrderID: relatedOrder,
		createdAt:      createdAt.UTC(),
	}, nil
}

// TransactionID returns the transaction identifier.
func (transaction Transaction) TransactionID() TransactionID {
	return transaction.transactionID
}

// AccountID returns the owning account.
func (transaction Transaction) AccountID() AccountID {
	return transaction.accountID
}

// Direction returns whether credits were added or removed.
func (transaction Transaction) Direction() Direction {
	return transaction.direction
}

// Amount returns the unsigned amount moved.
func (transaction Transaction) Amount() PositiveCredits {
	return transaction.amount
}

// SignedAmount returns the balance delta of the transaction.
func (transaction Transaction) SignedAmount() int64 {
	if transaction.direction == DirectionDebit {
		return -transaction.amount.Int64()
	}
	return transaction.amount.Int64()
}

// Reason returns why credits moved.
func (transaction Transaction) Reason() Reason {
	return transaction.reason
}

// RelatedOrderID returns the linked order, if any.
func (transaction Transaction) RelatedOrderID() (OrderID, bool) {
	if transaction.relatedOrderID == nil {
		return OrderID{}, false
	}
	return *transaction.relatedOrderID, true
}

// CreatedAt returns when the transaction was recorded.
func (transaction Transaction) CreatedAt() time.Time {
	return transaction.createdAt
}

// Account is the cached balance view of an account.
type Account struct {
	AccountID AccountID
	Balance   Credits
	UpdatedAt time.Time
}

// TransactionTotals aggregates the log of one account.
type TransactionTotals struct {
	Credits int64
	Debits  int64
}

// Balance returns the balance implied by the totals.
func (totals TransactionTotals) Balance() int64 {
	return totals.Credits - totals.Debits
}

// Reconciliation compares the cached balance with the log.
type Reconciliation struct {
	AccountID     AccountID
	CachedBalance Credits
	Totals        TransactionTotals
}

// Consistent reports whether the cached balance equals the log.
func (reconciliation Reconciliation) Consistent() bool {
	return reconciliation.CachedBalance.Int64() == reconciliation.Totals.Balance()
}

// Store is the persistence contract used by Service.
//
// Implementations must make every write performed through a txStore handed to a
// WithTx callback visible atomically on commit, or not at all.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LockAccount returns the account, creating it with a zero balance if needed,
	// and holds a row lock on it until the surrounding transaction ends.
	LockAccount(ctx context.Context, accountID AccountID) (Account, error)
	// GetAccount reads without locking and reports ErrUnknownAccount when absent.
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	IncreaseBalance(ctx context.Context, accountID AccountID, amount PositiveCredits, at time.Time) (Credits, error)
	// DecreaseBalance must refuse, with ErrInsufficientCredits, to take the balance below zero.
	DecreaseBalance(ctx context.Context, accountID AccountID, amount PositiveCredits, at time.Time) (Credits, error)
	InsertTransaction(ctx context.Context, transaction Transaction) error
	SumTransactions(ctx context.Context, accountID AccountID) (TransactionTotals, error)
}
