package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents the accounts table. Balance is a cache of the transaction log.
type Account struct {
	AccountID string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance >= 0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Transaction mirrors the append-only transactions table.
type Transaction struct {
	TransactionID  string    `gorm:"primaryKey"`
	AccountID      string    `gorm:"not null;index:idx_transactions_account_created,priority:1"`
	Direction      string    `gorm:"not null"`
	Amount         int64     `gorm:"not null;check:chk_transactions_amount_positive,amount > 0"`
	Reason         string    `gorm:"not null"`
	RelatedOrderID *string   `gorm:"index:idx_transactions_related_order"`
	CreatedAt      time.Time `gorm:"not null;index:idx_transactions_account_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

// Order mirrors the orders table.
type Order struct {
	OrderID             string         `gorm:"primaryKey"`
	AccountID           string         `gorm:"not null;index:idx_orders_account_created,priority:1"`
	SelectedItems       datatypes.JSON `gorm:"not null"`
	CreditCost          int64          `gorm:"not null"`
	DeliveryAddress     string         `gorm:"not null"`
	SpecialInstructions string         `gorm:"not null;default:''"`
	Status              string         `gorm:"not null;index"`
	DebitTransactionID  string         `gorm:"not null"`
	RefundTransactionID *string        `gorm:"uniqueIndex"`
	CreatedAt           time.Time      `gorm:"not null;index:idx_orders_account_created,priority:2"`
	UpdatedAt           time.Time      `gorm:"not null"`
	ConfirmedAt         *time.Time
	DeliveredAt         *time.Time
	CancelledAt         *time.Time
	RefundedAt          *time.Time
}

func (Order) TableName() string { return "orders" }

// Models lists the tables for gorm AutoMigrate.
func Models() []any {
	return []any{&Account{}, &Transaction{}, &Order{}}
}
