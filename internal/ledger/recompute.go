// Package ledger derives farmer totals from sessions and keeps the farmer's
// financial log (settlement payments and manual debit/credit entries).
package ledger

import (
	"olive-backend/internal/apperr"
	"olive-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Totals is the derived ledger state of one farmer.
type Totals struct {
	AmountDue     decimal.Decimal
	AmountPaid    decimal.Decimal
	PaymentStatus models.FarmerPaymentStatus
	// HasUnpaid is true when any session is unpriced, not fully paid or has a balance.
	HasUnpaid bool
}

// Compute folds a farmer's complete session set into totals. A farmer
// without sessions owes nothing and is paid.
func Compute(sessions []models.ProcessingSession) Totals {
	t := Totals{AmountDue: decimal.Zero, AmountPaid: decimal.Zero}
	for _, s := range sessions {
		if s.TotalPrice != nil {
			t.AmountDue = t.AmountDue.Add(*s.TotalPrice)
		}
		t.AmountPaid = t.AmountPaid.Add(s.AmountPaid)
		if s.TotalPrice == nil || s.PaymentStatus != models.PaymentPaid || s.RemainingAmount.IsPositive() {
			t.HasUnpaid = true
		}
	}
	t.PaymentStatus = models.FarmerPaymentPaid
	if t.HasUnpaid {
		t.PaymentStatus = models.FarmerPaymentPending
	}
	return t
}

// Recompute reloads every session of the farmer inside tx and overwrites the
// farmer's derived fields. Calling it twice yields the same row.
func Recompute(tx *gorm.DB, farmerID uint) (Totals, error) {
	var farmer models.Farmer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&farmer, farmerID).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return Totals{}, apperr.NotFound("farmer %d not found", farmerID)
		}
		return Totals{}, err
	}

	var sessions []models.ProcessingSession
	if err := tx.Select("id", "session_number", "total_price", "amount_paid", "remaining_amount", "payment_status").
		Where("farmer_id = ?", farmerID).
		Find(&sessions).Error; err != nil {
		return Totals{}, err
	}
	for _, s := range sessions {
		if s.AmountPaid.IsNegative() || (s.TotalPrice != nil && s.TotalPrice.IsNegative()) {
			return Totals{}, apperr.Invariant(nil, "session %s of farmer %d carries a negative amount", s.SessionNumber, farmerID)
		}
	}

	t := Compute(sessions)
	err := tx.Model(&models.Farmer{}).Where("id = ?", farmerID).Updates(map[string]any{
		"total_amount_due":  t.AmountDue,
		"total_amount_paid": t.AmountPaid,
		"payment_status":    t.PaymentStatus,
	}).Error
	return t, err
}

// Matches reports whether the stored farmer fields agree with t.
func (t Totals) Matches(f models.Farmer) bool {
	return f.TotalAmountDue.Equal(t.AmountDue) &&
		f.TotalAmountPaid.Equal(t.AmountPaid) &&
		f.PaymentStatus == t.PaymentStatus
}
