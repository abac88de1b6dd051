package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingProcessed ProcessingStatus = "processed"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// ProcessingSession: one intake-to-settlement record for a batch of boxes of one farmer.
// Price is chosen at settlement, not at intake.
type ProcessingSession struct {
	ID               uint             `gorm:"primaryKey"`
	SessionNumber    string           `gorm:"size:64;not null;uniqueIndex"` // "S#<n>"
	FarmerID         uint             `gorm:"index;not null"`
	Farmer           Farmer           `gorm:"foreignKey:FarmerID"`
	BoxCount         int              `gorm:"not null"`
	TotalBoxWeight   decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	OilWeight        *decimal.Decimal `gorm:"type:decimal(14,3)"`
	ProcessingStatus ProcessingStatus `gorm:"size:16;not null;index"`
	ProcessingDate   *time.Time
	PricePerKg       *decimal.Decimal `gorm:"type:decimal(14,3)"`
	TotalPrice       *decimal.Decimal `gorm:"type:decimal(14,3)"` // TotalBoxWeight * PricePerKg
	AmountPaid       decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	RemainingAmount  decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	PaymentStatus    PaymentStatus    `gorm:"size:16;not null;index"`
	PaymentDate      *time.Time
	Notes            string `gorm:"size:2000"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Boxes []SessionBox `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// SessionBox: snapshot of a box's weight and type taken when the session was opened.
// The live Box row is released at that moment and will diverge from this copy.
type SessionBox struct {
	ID        uint            `gorm:"primaryKey"`
	SessionID uint            `gorm:"index;not null"`
	BoxID     string          `gorm:"size:32;index;not null"`
	BoxWeight decimal.Decimal `gorm:"type:decimal(14,3);not null"`
	BoxType   BoxType         `gorm:"size:16;not null"`
	FarmerID  uint            `gorm:"index;not null"`
	CreatedAt time.Time
}

// SessionCounter: transactionally incremented sequence behind session numbers.
type SessionCounter struct {
	Name  string `gorm:"primaryKey;size:32"`
	Value int64  `gorm:"not null"`
}
