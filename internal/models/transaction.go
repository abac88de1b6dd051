package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentTransaction: payment recorded against a session at settlement time.
type PaymentTransaction struct {
	ID          uint             `gorm:"primaryKey"`
	SessionID   uint             `gorm:"index;not null"`
	FarmerID    uint             `gorm:"index;not null"`
	Amount      decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	PricePerKg  *decimal.Decimal `gorm:"type:decimal(14,3)"`
	PaymentDate time.Time        `gorm:"index;not null"`
	Notes       string           `gorm:"size:500"`
	CreatedAt   time.Time
}

type TransactionType string

const (
	TransactionFarmerPayment TransactionType = "FARMER_PAYMENT" // generated by settlement, not deletable by hand
	TransactionDebit         TransactionType = "DEBIT"
	TransactionCredit        TransactionType = "CREDIT" // stored negative
)

// Transaction: append-only financial log line of a farmer.
type Transaction struct {
	ID          uint            `gorm:"primaryKey"`
	FarmerID    uint            `gorm:"index;not null"`
	SessionID   *uint           `gorm:"index"`
	Type        TransactionType `gorm:"type:varchar(20);not null;index"`
	Amount      decimal.Decimal `gorm:"type:decimal(14,3);not null"`
	Description string          `gorm:"size:500"`
	Date        time.Time       `gorm:"index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
