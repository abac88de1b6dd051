package sessions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/audit"
	"olive-backend/internal/ledger"
	"olive-backend/internal/models"
	"olive-backend/internal/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MergeInput combines several sessions of one farmer into a single processed
// session. OilWeight defaults to the sum of the sources' oil weights. Without a
// price the result stays unpriced and AmountPaid must be zero.
type MergeInput struct {
	FarmerID       uint
	SessionIDs     []uint
	PricePerKg     *decimal.Decimal
	AmountPaid     decimal.Decimal
	OilWeight      *decimal.Decimal
	ProcessingDate *time.Time
	PaymentDate    *time.Time
	Notes          string
}

// Merge absorbs the source sessions into a new one named after the first
// source. Snapshots sharing a box id are summed into one row. Sources and their
// payments are deleted; the merged session carries at most one payment.
func (s *Service) Merge(ctx context.Context, in MergeInput) (*models.ProcessingSession, error) {
	ids := uniqueSessionIDs(in.SessionIDs)
	if len(ids) < 2 {
		return nil, apperr.Validation("at least two distinct sessions are needed for a merge")
	}
	if in.AmountPaid.IsNegative() {
		return nil, apperr.Validation("amount paid cannot be negative")
	}
	if in.PricePerKg != nil && !in.PricePerKg.IsPositive() {
		return nil, apperr.Validation("price per kg must be greater than zero")
	}
	if in.PricePerKg == nil && in.AmountPaid.IsPositive() {
		return nil, apperr.Validation("a payment needs a price per kg")
	}
	if in.OilWeight != nil && in.OilWeight.IsNegative() {
		return nil, apperr.Validation("oil weight cannot be negative")
	}

	var merged models.ProcessingSession
	err := s.run.Mutate(ctx, "session.merge", func(tx *gorm.DB) error {
		var sources []models.ProcessingSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Boxes", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
			Where("id IN ?", ids).
			Find(&sources).Error; err != nil {
			return err
		}
		sources, err := orderSources(sources, ids)
		if err != nil {
			return err
		}

		var foreign []string
		for i := range sources {
			src := &sources[i]
			if src.FarmerID != in.FarmerID {
				foreign = append(foreign, src.SessionNumber)
				continue
			}
			if err := Check(ActionMerge, src); err != nil {
				return err
			}
			if err := rejectStocked(tx, src); err != nil {
				return err
			}
		}
		if len(foreign) > 0 {
			return apperr.Validation("sessions do not belong to farmer %d", in.FarmerID).WithDetails(foreign...)
		}

		now := s.run.Now()
		number, err := mergedNumber(tx, sources[0].SessionNumber, now)
		if err != nil {
			return err
		}

		snapshots := mergeSnapshots(sources)
		totalWeight := decimal.Zero
		oil := decimal.Zero
		processed := sources[0].ProcessingDate
		sourceNumbers := make([]string, 0, len(sources))
		for _, src := range sources {
			totalWeight = totalWeight.Add(src.TotalBoxWeight)
			oil = oil.Add(money.Or(src.OilWeight, decimal.Zero))
			if src.ProcessingDate != nil && (processed == nil || src.ProcessingDate.After(*processed)) {
				processed = src.ProcessingDate
			}
			sourceNumbers = append(sourceNumbers, src.SessionNumber)
		}
		if in.OilWeight != nil {
			oil = *in.OilWeight
		}
		if in.ProcessingDate != nil {
			processed = in.ProcessingDate
		}
		if processed == nil {
			processed = &now
		}

		merged = models.ProcessingSession{
			SessionNumber:    number,
			FarmerID:         in.FarmerID,
			BoxCount:         len(snapshots),
			TotalBoxWeight:   totalWeight,
			OilWeight:        money.Ptr(oil),
			ProcessingStatus: models.ProcessingProcessed,
			ProcessingDate:   processed,
			AmountPaid:       decimal.Zero,
			RemainingAmount:  decimal.Zero,
			PaymentStatus:    models.PaymentUnpaid,
			Notes:            mergedNotes(in.Notes, sources),
			Boxes:            snapshots,
		}
		if in.PricePerKg != nil {
			total := money.Round(totalWeight.Mul(*in.PricePerKg))
			merged.PricePerKg = money.Ptr(*in.PricePerKg)
			merged.TotalPrice = &total
			merged.AmountPaid = in.AmountPaid
			merged.RemainingAmount = remaining(total, in.AmountPaid)
			merged.PaymentStatus = paymentStatusFor(total, in.AmountPaid)
			if merged.PaymentStatus != models.PaymentUnpaid {
				date := now
				if in.PaymentDate != nil {
					date = *in.PaymentDate
				}
				merged.PaymentDate = &date
			}
		}

		if err := removeSessions(tx, ids); err != nil {
			return err
		}
		if err := tx.Create(&merged).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return apperr.Conflict(apperr.CodeDuplicate, "session number %s already exists", number)
			}
			return err
		}
		if merged.PaymentDate != nil {
			note := "Merged settlement of " + strings.Join(sourceNumbers, ", ")
			if err := ledger.RecordSettlementPayment(tx, &merged, merged.AmountPaid, *merged.PaymentDate, note); err != nil {
				return err
			}
		}

		if err := audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  "session",
			EntityID:    merged.SessionNumber,
			Action:      models.AuditActionMerge,
			Description: fmt.Sprintf("%d sessions merged into %s", len(sources), merged.SessionNumber),
			Before:      map[string]any{"sessions": sourceNumbers},
			After:       snapshot(&merged),
		}); err != nil {
			return err
		}
		_, err = ledger.Recompute(tx, in.FarmerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("session", merged.SessionNumber).WithField("sources", len(ids)).Info("sessions merged")
	return &merged, nil
}

// orderSources returns sources in the caller's order and names missing ids.
func orderSources(found []models.ProcessingSession, ids []uint) ([]models.ProcessingSession, error) {
	byID := make(map[uint]models.ProcessingSession, len(found))
	for _, src := range found {
		byID[src.ID] = src
	}
	ordered := make([]models.ProcessingSession, 0, len(ids))
	var missing []string
	for _, id := range ids {
		src, ok := byID[id]
		if !ok {
			missing = append(missing, strconv.FormatUint(uint64(id), 10))
			continue
		}
		ordered = append(ordered, src)
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("sessions not found").WithDetails(missing...)
	}
	return ordered, nil
}

// mergeSnapshots keeps one snapshot per box id, summing weights. The first
// occurrence fixes the row's position and type.
func mergeSnapshots(sources []models.ProcessingSession) []models.SessionBox {
	var out []models.SessionBox
	index := make(map[string]int)
	for _, src := range sources {
		for _, b := range src.Boxes {
			if i, ok := index[b.BoxID]; ok {
				out[i].BoxWeight = out[i].BoxWeight.Add(b.BoxWeight)
				continue
			}
			index[b.BoxID] = len(out)
			out = append(out, models.SessionBox{
				BoxID:     b.BoxID,
				BoxWeight: b.BoxWeight,
				BoxType:   b.BoxType,
				FarmerID:  b.FarmerID,
			})
		}
	}
	sortSnapshots(out)
	return out
}

// maxNotes matches the size of the notes column.
const maxNotes = 2000

func mergedNotes(extra string, sources []models.ProcessingSession) string {
	var parts []string
	if extra = strings.TrimSpace(extra); extra != "" {
		parts = append(parts, extra)
	}
	numbers := make([]string, 0, len(sources))
	for _, src := range sources {
		numbers = append(numbers, src.SessionNumber)
		if note := strings.TrimSpace(src.Notes); note != "" {
			parts = append(parts, src.SessionNumber+": "+note)
		}
	}
	if len(parts) == 0 {
		return "Merged from " + strings.Join(numbers, ", ")
	}
	notes := []rune(strings.Join(parts, "\n"))
	if len(notes) > maxNotes {
		notes = notes[:maxNotes]
	}
	return string(notes)
}

func uniqueSessionIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
