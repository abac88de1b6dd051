package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/logging"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Service struct {
	run *txn.Runner
	log *logrus.Entry
}

func NewService(run *txn.Runner) *Service {
	return &Service{run: run, log: logging.Component("ledger")}
}

// Drift describes a farmer whose stored totals disagreed with its sessions.
type Drift struct {
	FarmerID uint
	Before   Totals
	After    Totals
}

// RecomputeAll recomputes every farmer, one transaction each, and returns the
// farmers whose stored totals had drifted.
func (s *Service) RecomputeAll(ctx context.Context) ([]Drift, error) {
	var farmers []models.Farmer
	if err := s.run.DB(ctx).Find(&farmers).Error; err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, f := range farmers {
		if err := ctx.Err(); err != nil {
			return drifts, err
		}
		before := Totals{AmountDue: f.TotalAmountDue, AmountPaid: f.TotalAmountPaid, PaymentStatus: f.PaymentStatus}
		var after Totals
		err := s.run.Mutate(ctx, "ledger.reconcile", func(tx *gorm.DB) error {
			var err error
			after, err = Recompute(tx, f.ID)
			return err
		})
		if err != nil {
			return drifts, fmt.Errorf("recompute farmer %d: %w", f.ID, err)
		}
		if !after.Matches(f) {
			drifts = append(drifts, Drift{FarmerID: f.ID, Before: before, After: after})
			s.log.WithFields(logrus.Fields{
				"farmer_id":   f.ID,
				"due_before":  money.Format(before.AmountDue),
				"due_after":   money.Format(after.AmountDue),
				"paid_before": money.Format(before.AmountPaid),
				"paid_after":  money.Format(after.AmountPaid),
			}).Warn("farmer ledger drift corrected")
		}
	}
	return drifts, nil
}

// RecordSettlementPayment writes the pair of rows a settlement produces: a
// PaymentTransaction on the session and a FARMER_PAYMENT line in the farmer log.
func RecordSettlementPayment(tx *gorm.DB, session *models.ProcessingSession, amount decimal.Decimal, date time.Time, notes string) error {
	if !amount.IsPositive() {
		return nil
	}
	payment := models.PaymentTransaction{
		SessionID:   session.ID,
		FarmerID:    session.FarmerID,
		Amount:      amount,
		PricePerKg:  session.PricePerKg,
		PaymentDate: date,
		Notes:       notes,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return err
	}

	sessionID := session.ID
	entry := models.Transaction{
		FarmerID:    session.FarmerID,
		SessionID:   &sessionID,
		Type:        models.TransactionFarmerPayment,
		Amount:      amount,
		Description: fmt.Sprintf("Payment for session %s", session.SessionNumber),
		Date:        date,
	}
	return tx.Create(&entry).Error
}

// CountSessionPayments counts payment rows of either kind attached to a session.
func CountSessionPayments(tx *gorm.DB, sessionID uint) (int64, error) {
	var payments, entries int64
	if err := tx.Model(&models.PaymentTransaction{}).Where("session_id = ?", sessionID).Count(&payments).Error; err != nil {
		return 0, err
	}
	if err := tx.Model(&models.Transaction{}).
		Where("session_id = ? AND type = ?", sessionID, models.TransactionFarmerPayment).
		Count(&entries).Error; err != nil {
		return 0, err
	}
	return payments + entries, nil
}

// DeleteSessionPayments removes every payment row tied to the given sessions.
func DeleteSessionPayments(tx *gorm.DB, sessionIDs []uint) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := tx.Where("session_id IN ?", sessionIDs).Delete(&models.PaymentTransaction{})
	if res.Error != nil {
		return 0, res.Error
	}
	deleted := res.RowsAffected
	res = tx.Where("session_id IN ? AND type = ?", sessionIDs, models.TransactionFarmerPayment).Delete(&models.Transaction{})
	if res.Error != nil {
		return 0, res.Error
	}
	return deleted + res.RowsAffected, nil
}

// EntryInput is a manual ledger line. Amount is always given positive; credits
// are stored negated.
type EntryInput struct {
	Type        models.TransactionType
	Amount      decimal.Decimal
	Description string
	Date        *time.Time
}

func (s *Service) CreateEntry(ctx context.Context, farmerID uint, in EntryInput) (*models.Transaction, error) {
	if in.Type != models.TransactionDebit && in.Type != models.TransactionCredit {
		return nil, apperr.Validation("entry type must be %s or %s", models.TransactionDebit, models.TransactionCredit)
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than zero")
	}

	amount := money.Round(in.Amount)
	if in.Type == models.TransactionCredit {
		amount = amount.Neg()
	}
	date := s.run.Now()
	if in.Date != nil {
		date = *in.Date
	}
	entry := models.Transaction{
		FarmerID:    farmerID,
		Type:        in.Type,
		Amount:      amount,
		Description: strings.TrimSpace(in.Description),
		Date:        date,
	}

	err := s.run.Mutate(ctx, "ledger.entry_create", func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Farmer{}).Where("id = ?", farmerID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperr.NotFound("farmer %d not found", farmerID)
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries returns a farmer's log lines, newest first, and the page total.
func (s *Service) ListEntries(ctx context.Context, farmerID uint, p pagination.Params) ([]models.Transaction, int64, error) {
	dbq := s.run.DB(ctx).Model(&models.Transaction{}).Where("farmer_id = ?", farmerID)
	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.Transaction
	err := dbq.Order("date DESC, id DESC").Offset(p.Offset()).Limit(p.PerPage).Find(&entries).Error
	return entries, total, err
}

// DeleteEntry removes a manual entry. Settlement payments are reverted through
// session unpay, never deleted here.
func (s *Service) DeleteEntry(ctx context.Context, id uint) error {
	return s.run.Mutate(ctx, "ledger.entry_delete", func(tx *gorm.DB) error {
		var entry models.Transaction
		if err := tx.First(&entry, id).Error; err != nil {
			if apperr.IsRecordNotFound(err) {
				return apperr.NotFound("transaction %d not found", id)
			}
			return err
		}
		if entry.Type == models.TransactionFarmerPayment {
			return apperr.Conflict(apperr.CodeInvalidState, "transaction %d is a session payment, unpay the session instead", id)
		}
		return tx.Delete(&entry).Error
	})
}
