package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BoxType string

const (
	BoxTypeNormal BoxType = "normal"
	BoxTypeNchira BoxType = "nchira"
	BoxTypeChkara BoxType = "chkara" // auxiliary pool only
)

func (t BoxType) Valid() bool {
	switch t {
	case BoxTypeNormal, BoxTypeNchira, BoxTypeChkara:
		return true
	}
	return false
}

type BoxStatus string

const (
	BoxStatusAvailable BoxStatus = "available"
	BoxStatusInUse     BoxStatus = "in_use"
)

// BoxPool tags which identity namespace a box belongs to.
type BoxPool string

const (
	BoxPoolFactory   BoxPool = "factory"   // "1".."600", seeded once
	BoxPoolAuxiliary BoxPool = "auxiliary" // "Chkara<N>", created on first use
)

// Box: physical container cycling between available and in_use.
// Status in_use <=> CurrentHolderID != nil.
type Box struct {
	ID              string           `gorm:"primaryKey;size:32"`
	Pool            BoxPool          `gorm:"size:16;not null;index"`
	Type            BoxType          `gorm:"size:16;not null"`
	Status          BoxStatus        `gorm:"size:16;not null;index"`
	CurrentHolderID *uint            `gorm:"index"`
	CurrentHolder   *Farmer          `gorm:"foreignKey:CurrentHolderID"`
	CurrentWeight   *decimal.Decimal `gorm:"type:decimal(14,3)"` // kg
	AssignedAt      *time.Time
	IsSelected      bool `gorm:"not null"` // UI multi-select flag
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Box) InUse() bool {
	return b.Status == BoxStatusInUse
}
