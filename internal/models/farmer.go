package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FarmerType string

const (
	FarmerTypeSmall FarmerType = "small"
	FarmerTypeLarge FarmerType = "large"
)

type FarmerPaymentStatus string

const (
	FarmerPaymentPending FarmerPaymentStatus = "pending"
	FarmerPaymentPaid    FarmerPaymentStatus = "paid"
)

// Farmer: olive supplier. TotalAmountDue, TotalAmountPaid and PaymentStatus are
// derived from the farmer's sessions by ledger.Recompute and never set by callers.
type Farmer struct {
	ID                 uint                `gorm:"primaryKey"`
	Name               string              `gorm:"size:150;not null;index"`
	Nickname           string              `gorm:"size:100"`
	Phone              string              `gorm:"size:50"`
	Type               FarmerType          `gorm:"size:16;not null"` // informational
	TotalAmountDue     decimal.Decimal     `gorm:"type:decimal(14,3);not null"`
	TotalAmountPaid    decimal.Decimal     `gorm:"type:decimal(14,3);not null"`
	PaymentStatus      FarmerPaymentStatus `gorm:"size:16;not null"`
	LastProcessingDate *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
