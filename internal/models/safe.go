package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OilSafe: oil storage vessel. 0 <= CurrentStock <= Capacity.
type OilSafe struct {
	ID           uint            `gorm:"primaryKey"`
	Name         string          `gorm:"size:100;not null;uniqueIndex"`
	Capacity     decimal.Decimal `gorm:"type:decimal(14,3);not null"` // kg
	CurrentStock decimal.Decimal `gorm:"type:decimal(14,3);not null"` // kg
	Description  string          `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OlivePurchase: oil intake stored in exactly one safe, either bought directly
// or produced from olives (optionally from a processing session).
type OlivePurchase struct {
	ID              uint             `gorm:"primaryKey"`
	SafeID          uint             `gorm:"index;not null"`
	Safe            OilSafe          `gorm:"foreignKey:SafeID"`
	SessionID       *uint            `gorm:"uniqueIndex"` // set when converted from a session
	FarmerID        *uint            `gorm:"index"`
	SupplierName    string           `gorm:"size:150"`
	OliveWeight     *decimal.Decimal `gorm:"type:decimal(14,3)"`
	PricePerKg      decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	TotalCost       decimal.Decimal  `gorm:"type:decimal(14,3);not null"`
	OilProduced     *decimal.Decimal `gorm:"type:decimal(14,3)"`
	YieldPercentage *decimal.Decimal `gorm:"type:decimal(8,3)"`
	IsBasePurchase  bool             `gorm:"not null"`
	PurchaseDate    time.Time        `gorm:"index;not null"`
	Notes           string           `gorm:"size:500"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
