// Package sessions runs the processing-session lifecycle: intake from held
// boxes, processing, settlement, unpay, merge and deletion. Every mutation ends
// with a full recompute of the farmer ledger inside the same transaction.
package sessions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/audit"
	"olive-backend/internal/boxes"
	"olive-backend/internal/ledger"
	"olive-backend/internal/logging"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	run *txn.Runner
	log *logrus.Entry
}

func NewService(run *txn.Runner) *Service {
	return &Service{run: run, log: logging.Component("sessions")}
}

type CreateInput struct {
	FarmerID uint
	BoxIDs   []string
	Notes    string
}

type CompleteInput struct {
	OilWeight      decimal.Decimal
	ProcessingDate *time.Time
	PaymentDate    *time.Time
}

type SettleInput struct {
	PricePerKg  decimal.Decimal
	AmountPaid  decimal.Decimal
	PaymentDate *time.Time
	Notes       string
}

type UpdateInput struct {
	Notes     *string
	OilWeight *decimal.Decimal
}

type ListFilter struct {
	FarmerID         uint
	ProcessingStatus models.ProcessingStatus
	PaymentStatus    models.PaymentStatus
}

// Create opens a session from boxes the farmer currently holds. The boxes are
// snapshotted and released in the same transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.ProcessingSession, error) {
	ids := boxes.NormalizeIDs(in.BoxIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation("a session needs at least one box")
	}

	var created models.ProcessingSession
	err := s.run.Mutate(ctx, "session.create", func(tx *gorm.DB) error {
		var farmer models.Farmer
		if err := tx.First(&farmer, in.FarmerID).Error; err != nil {
			if apperr.IsRecordNotFound(err) {
				return apperr.NotFound("farmer %d not found", in.FarmerID)
			}
			return err
		}

		held, err := boxes.LockBoxes(tx, ids)
		if err != nil {
			return err
		}
		var invalid []string
		for _, b := range held {
			if !b.InUse() || b.CurrentHolderID == nil || *b.CurrentHolderID != in.FarmerID {
				invalid = append(invalid, b.ID)
			}
		}
		if len(invalid) > 0 {
			return apperr.Validation("boxes are not held by farmer %d", in.FarmerID).WithDetails(invalid...)
		}

		now := s.run.Now()
		number, err := nextSessionNumber(tx, now)
		if err != nil {
			return err
		}

		total := decimal.Zero
		snapshots := make([]models.SessionBox, 0, len(held))
		for _, b := range held {
			w := money.Or(b.CurrentWeight, decimal.Zero)
			total = total.Add(w)
			snapshots = append(snapshots, models.SessionBox{
				BoxID:     b.ID,
				BoxWeight: w,
				BoxType:   b.Type,
				FarmerID:  in.FarmerID,
			})
		}

		created = models.ProcessingSession{
			SessionNumber:    number,
			FarmerID:         in.FarmerID,
			BoxCount:         len(held),
			TotalBoxWeight:   total,
			ProcessingStatus: models.ProcessingPending,
			AmountPaid:       decimal.Zero,
			RemainingAmount:  decimal.Zero,
			PaymentStatus:    models.PaymentUnpaid,
			Notes:            strings.TrimSpace(in.Notes),
			Boxes:            snapshots,
		}
		if err := tx.Create(&created).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return apperr.Conflict(apperr.CodeDuplicate, "session number %s already exists", number)
			}
			return err
		}

		if err := boxes.ReleaseTx(tx, ids); err != nil {
			return err
		}
		if err := tx.Model(&models.Farmer{}).Where("id = ?", in.FarmerID).
			Update("last_processing_date", now).Error; err != nil {
			return err
		}
		_, err = ledger.Recompute(tx, in.FarmerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"session":   created.SessionNumber,
		"farmer_id": created.FarmerID,
		"boxes":     created.BoxCount,
	}).Info("session created")
	return &created, nil
}

// Complete records the oil yield. A payment date marks the session paid at once.
func (s *Service) Complete(ctx context.Context, id uint, in CompleteInput) (*models.ProcessingSession, error) {
	if !in.OilWeight.IsPositive() {
		return nil, apperr.Validation("oil weight must be greater than zero")
	}
	return s.mutate(ctx, "session.complete", id, ActionComplete, func(tx *gorm.DB, sess *models.ProcessingSession) error {
		now := s.run.Now()
		processed := now
		if in.ProcessingDate != nil {
			processed = *in.ProcessingDate
		}
		sess.OilWeight = money.Ptr(in.OilWeight)
		sess.ProcessingStatus = models.ProcessingProcessed
		sess.ProcessingDate = &processed
		if in.PaymentDate != nil {
			if err := markPaid(tx, sess, *in.PaymentDate); err != nil {
				return err
			}
		}
		return save(tx, sess)
	})
}

// TogglePayment flips the payment status without new pricing. Marking paid
// settles the full price when one is set. Marking unpaid reverts a status that
// has no recorded payment behind it; anything else goes through Unpay.
func (s *Service) TogglePayment(ctx context.Context, id uint, status models.PaymentStatus) (*models.ProcessingSession, error) {
	switch status {
	case models.PaymentPaid:
		return s.mutate(ctx, "session.mark_paid", id, ActionMarkPaid, func(tx *gorm.DB, sess *models.ProcessingSession) error {
			if err := markPaid(tx, sess, s.run.Now()); err != nil {
				return err
			}
			return save(tx, sess)
		})
	case models.PaymentUnpaid:
		return s.mutate(ctx, "session.mark_unpaid", id, ActionMarkUnpaid, func(tx *gorm.DB, sess *models.ProcessingSession) error {
			n, err := ledger.CountSessionPayments(tx, sess.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.Conflict(apperr.CodeSessionPaid, "session %s has recorded payments, unpay it instead", sess.SessionNumber)
			}
			sess.PaymentStatus = models.PaymentUnpaid
			sess.PaymentDate = nil
			return save(tx, sess)
		})
	}
	return nil, apperr.Validation("payment status must be %s or %s", models.PaymentPaid, models.PaymentUnpaid)
}

// Settle prices the session and records what the farmer paid so far. AmountPaid
// is cumulative; the increase over the previous amount becomes one payment row.
func (s *Service) Settle(ctx context.Context, id uint, in SettleInput) (*models.ProcessingSession, error) {
	if !in.PricePerKg.IsPositive() {
		return nil, apperr.Validation("price per kg must be greater than zero")
	}
	if in.AmountPaid.IsNegative() {
		return nil, apperr.Validation("amount paid cannot be negative")
	}
	return s.mutate(ctx, "session.settle", id, ActionSettle, func(tx *gorm.DB, sess *models.ProcessingSession) error {
		if in.AmountPaid.LessThan(sess.AmountPaid) {
			return apperr.Validation("amount paid %s is below the %s already recorded for %s, unpay the session to lower it",
				money.Format(in.AmountPaid), money.Format(sess.AmountPaid), sess.SessionNumber)
		}
		date := s.run.Now()
		if in.PaymentDate != nil {
			date = *in.PaymentDate
		}

		total := money.Round(sess.TotalBoxWeight.Mul(in.PricePerKg))
		increase := in.AmountPaid.Sub(sess.AmountPaid)

		sess.PricePerKg = money.Ptr(in.PricePerKg)
		sess.TotalPrice = &total
		sess.AmountPaid = in.AmountPaid
		sess.RemainingAmount = remaining(total, in.AmountPaid)
		sess.PaymentStatus = paymentStatusFor(total, in.AmountPaid)
		if sess.PaymentStatus != models.PaymentUnpaid {
			sess.PaymentDate = &date
		}
		if err := ledger.RecordSettlementPayment(tx, sess, increase, date, in.Notes); err != nil {
			return err
		}
		return save(tx, sess)
	})
}

// Unpay reverts every payment of the session and clears its pricing.
func (s *Service) Unpay(ctx context.Context, id uint) (*models.ProcessingSession, error) {
	return s.mutate(ctx, "session.unpay", id, ActionUnpay, func(tx *gorm.DB, sess *models.ProcessingSession) error {
		n, err := ledger.CountSessionPayments(tx, sess.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.Conflict(apperr.CodeInvalidState, "session %s has no recorded payment to revert", sess.SessionNumber)
		}
		before := snapshot(sess)
		if _, err := ledger.DeleteSessionPayments(tx, []uint{sess.ID}); err != nil {
			return err
		}
		sess.PaymentStatus = models.PaymentUnpaid
		sess.PaymentDate = nil
		sess.AmountPaid = decimal.Zero
		sess.RemainingAmount = decimal.Zero
		sess.PricePerKg = nil
		sess.TotalPrice = nil
		if err := save(tx, sess); err != nil {
			return err
		}
		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  "session",
			EntityID:    sess.SessionNumber,
			Action:      models.AuditActionUnpay,
			Description: fmt.Sprintf("payment of session %s reverted, %d payment rows removed", sess.SessionNumber, n),
			Before:      before,
			After:       snapshot(sess),
		})
	})
}

// Update edits notes or oil weight of a session that is not paid.
func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*models.ProcessingSession, error) {
	if in.OilWeight != nil && in.OilWeight.IsNegative() {
		return nil, apperr.Validation("oil weight cannot be negative")
	}
	return s.mutate(ctx, "session.update", id, ActionUpdate, func(tx *gorm.DB, sess *models.ProcessingSession) error {
		if in.Notes != nil {
			sess.Notes = strings.TrimSpace(*in.Notes)
		}
		if in.OilWeight != nil {
			sess.OilWeight = money.Ptr(*in.OilWeight)
		}
		return save(tx, sess)
	})
}

// Reset sends a session back to pending. Payment fields are left alone.
func (s *Service) Reset(ctx context.Context, id uint) (*models.ProcessingSession, error) {
	return s.mutate(ctx, "session.reset", id, ActionReset, func(tx *gorm.DB, sess *models.ProcessingSession) error {
		before := snapshot(sess)
		sess.ProcessingStatus = models.ProcessingPending
		sess.OilWeight = money.Ptr(decimal.Zero)
		sess.ProcessingDate = nil
		if err := save(tx, sess); err != nil {
			return err
		}
		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  "session",
			EntityID:    sess.SessionNumber,
			Action:      models.AuditActionReset,
			Description: fmt.Sprintf("session %s reset to pending", sess.SessionNumber),
			Before:      before,
			After:       snapshot(sess),
		})
	})
}

// Delete removes a session that is not paid, with its snapshots and payments.
func (s *Service) Delete(ctx context.Context, id uint) error {
	var number string
	err := s.run.Mutate(ctx, "session.delete", func(tx *gorm.DB) error {
		sess, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if err := Check(ActionDelete, sess); err != nil {
			return err
		}
		if err := rejectStocked(tx, sess); err != nil {
			return err
		}
		number = sess.SessionNumber

		if err := clearSelection(tx, []uint{sess.ID}); err != nil {
			return err
		}
		if err := removeSessions(tx, []uint{sess.ID}); err != nil {
			return err
		}
		_, err = ledger.Recompute(tx, sess.FarmerID)
		return err
	})
	if err != nil {
		return err
	}
	s.log.WithField("session", number).Info("session deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.ProcessingSession, error) {
	var sess models.ProcessingSession
	err := s.run.DB(ctx).
		Preload("Farmer").
		Preload("Boxes", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&sess, id).Error
	if err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("session %d not found", id)
		}
		return nil, err
	}
	sortSnapshots(sess.Boxes)
	return &sess, nil
}

// List returns sessions newest first.
func (s *Service) List(ctx context.Context, f ListFilter, p pagination.Params) ([]models.ProcessingSession, int64, error) {
	dbq := s.run.DB(ctx).Model(&models.ProcessingSession{})
	if f.FarmerID != 0 {
		dbq = dbq.Where("farmer_id = ?", f.FarmerID)
	}
	if f.ProcessingStatus != "" {
		dbq = dbq.Where("processing_status = ?", f.ProcessingStatus)
	}
	if f.PaymentStatus != "" {
		dbq = dbq.Where("payment_status = ?", f.PaymentStatus)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.ProcessingSession
	err := dbq.Preload("Farmer").
		Order("created_at DESC, id DESC").
		Offset(p.Offset()).Limit(p.PerPage).
		Find(&list).Error
	return list, total, err
}

// mutate loads and locks the session, checks the action's guards, applies fn
// and recomputes the farmer ledger, all in one transaction.
func (s *Service) mutate(ctx context.Context, op string, id uint, action Action,
	fn func(tx *gorm.DB, sess *models.ProcessingSession) error) (*models.ProcessingSession, error) {
	var out *models.ProcessingSession
	err := s.run.Mutate(ctx, op, func(tx *gorm.DB) error {
		sess, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if err := Check(action, sess); err != nil {
			return err
		}
		if err := fn(tx, sess); err != nil {
			return err
		}
		if _, err := ledger.Recompute(tx, sess.FarmerID); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"session": out.SessionNumber, "op": op, "state": StateOf(out).String()}).Debug("session updated")
	return out, nil
}

// markPaid settles the whole price when the session is priced, recording the
// outstanding part as a payment.
func markPaid(tx *gorm.DB, sess *models.ProcessingSession, date time.Time) error {
	sess.PaymentStatus = models.PaymentPaid
	sess.PaymentDate = &date
	if sess.TotalPrice == nil {
		return nil
	}
	increase := sess.TotalPrice.Sub(sess.AmountPaid)
	if increase.IsPositive() {
		if err := ledger.RecordSettlementPayment(tx, sess, increase, date, ""); err != nil {
			return err
		}
		sess.AmountPaid = *sess.TotalPrice
	}
	sess.RemainingAmount = decimal.Zero
	return nil
}

func lockSession(tx *gorm.DB, id uint) (*models.ProcessingSession, error) {
	var sess models.ProcessingSession
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sess, id).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("session %d not found", id)
		}
		return nil, err
	}
	return &sess, nil
}

// rejectStocked refuses to drop a session whose oil already sits in a safe.
func rejectStocked(tx *gorm.DB, sess *models.ProcessingSession) error {
	var count int64
	if err := tx.Model(&models.OlivePurchase{}).Where("session_id = ?", sess.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperr.Conflict(apperr.CodeInUse, "session %s was converted to stock, delete the purchase first", sess.SessionNumber)
	}
	return nil
}

// clearSelection drops the UI selection flag on available boxes the sessions
// reference. Boxes already reused by another farmer are left alone.
func clearSelection(tx *gorm.DB, sessionIDs []uint) error {
	var ids []string
	if err := tx.Model(&models.SessionBox{}).Where("session_id IN ?", sessionIDs).
		Distinct().Pluck("box_id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.Box{}).
		Where("id IN ? AND status = ?", ids, models.BoxStatusAvailable).
		Update("is_selected", false).Error
}

// removeSessions deletes sessions with their snapshots and payment rows.
func removeSessions(tx *gorm.DB, sessionIDs []uint) error {
	if _, err := ledger.DeleteSessionPayments(tx, sessionIDs); err != nil {
		return err
	}
	if err := tx.Where("session_id IN ?", sessionIDs).Delete(&models.SessionBox{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", sessionIDs).Delete(&models.ProcessingSession{}).Error
}

func remaining(total, paid decimal.Decimal) decimal.Decimal {
	r := total.Sub(paid)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func snapshot(sess *models.ProcessingSession) map[string]any {
	return map[string]any{
		"session_number":    sess.SessionNumber,
		"processing_status": sess.ProcessingStatus,
		"payment_status":    sess.PaymentStatus,
		"oil_weight":        money.FormatPtr(sess.OilWeight),
		"price_per_kg":      money.FormatPtr(sess.PricePerKg),
		"total_price":       money.FormatPtr(sess.TotalPrice),
		"amount_paid":       money.Format(sess.AmountPaid),
		"remaining_amount":  money.Format(sess.RemainingAmount),
	}
}

func sortSnapshots(list []models.SessionBox) {
	sort.SliceStable(list, func(i, j int) bool { return boxes.LessID(list[i].BoxID, list[j].BoxID) })
}

func save(tx *gorm.DB, sess *models.ProcessingSession) error {
	return tx.Omit(clause.Associations).Save(sess).Error
}
