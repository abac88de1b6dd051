// Package safes keeps the oil stock of each storage safe in step with the
// purchases stored in it. Stock never leaves 0..capacity.
package safes

import (
	"context"
	"strings"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/logging"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/sessions"
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
	return &Service{run: run, log: logging.Component("safes")}
}

type SafeInput struct {
	Name        string
	Capacity    decimal.Decimal
	Description string
}

type SafeUpdate struct {
	Name        *string
	Capacity    *decimal.Decimal
	Description *string
}

type PurchaseInput struct {
	SafeID         uint
	FarmerID       *uint
	SupplierName   string
	OliveWeight    *decimal.Decimal
	PricePerKg     decimal.Decimal
	OilProduced    *decimal.Decimal
	IsBasePurchase bool
	PurchaseDate   *time.Time
	Notes          string
}

type PurchaseFilter struct {
	SafeID uint
}

func (s *Service) CreateSafe(ctx context.Context, in SafeInput) (*models.OilSafe, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("safe name is required")
	}
	if !in.Capacity.IsPositive() {
		return nil, apperr.Validation("capacity must be greater than zero")
	}
	safe := models.OilSafe{
		Name:         name,
		Capacity:     in.Capacity,
		CurrentStock: decimal.Zero,
		Description:  strings.TrimSpace(in.Description),
	}
	err := s.run.Mutate(ctx, "safe.create", func(tx *gorm.DB) error {
		if err := tx.Create(&safe).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return apperr.Conflict(apperr.CodeDuplicate, "a safe named %s already exists", name)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &safe, nil
}

func (s *Service) UpdateSafe(ctx context.Context, id uint, in SafeUpdate) (*models.OilSafe, error) {
	var safe *models.OilSafe
	err := s.run.Mutate(ctx, "safe.update", func(tx *gorm.DB) error {
		var err error
		safe, err = lockSafe(tx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return apperr.Validation("safe name is required")
			}
			safe.Name = name
		}
		if in.Description != nil {
			safe.Description = strings.TrimSpace(*in.Description)
		}
		if in.Capacity != nil {
			if !in.Capacity.IsPositive() {
				return apperr.Validation("capacity must be greater than zero")
			}
			if in.Capacity.LessThan(safe.CurrentStock) {
				return apperr.Conflict(apperr.CodeCapacityExceeded,
					"safe %s holds %s kg, capacity cannot drop to %s kg",
					safe.Name, money.Format(safe.CurrentStock), money.Format(*in.Capacity))
			}
			safe.Capacity = *in.Capacity
		}
		if err := tx.Save(safe).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return apperr.Conflict(apperr.CodeDuplicate, "a safe named %s already exists", safe.Name)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return safe, nil
}

// DeleteSafe removes an empty safe that no purchase points to.
func (s *Service) DeleteSafe(ctx context.Context, id uint) error {
	return s.run.Mutate(ctx, "safe.delete", func(tx *gorm.DB) error {
		safe, err := lockSafe(tx, id)
		if err != nil {
			return err
		}
		var purchases int64
		if err := tx.Model(&models.OlivePurchase{}).Where("safe_id = ?", id).Count(&purchases).Error; err != nil {
			return err
		}
		if purchases > 0 || !safe.CurrentStock.IsZero() {
			return apperr.Conflict(apperr.CodeInUse, "safe %s still holds %s kg in %d purchases",
				safe.Name, money.Format(safe.CurrentStock), purchases)
		}
		return tx.Delete(safe).Error
	})
}

func (s *Service) GetSafe(ctx context.Context, id uint) (*models.OilSafe, error) {
	var safe models.OilSafe
	if err := s.run.DB(ctx).First(&safe, id).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("safe %d not found", id)
		}
		return nil, err
	}
	return &safe, nil
}

func (s *Service) ListSafes(ctx context.Context) ([]models.OilSafe, error) {
	var list []models.OilSafe
	err := s.run.DB(ctx).Order("name").Find(&list).Error
	return list, err
}

// RecordPurchase stores an oil intake in a safe after checking its free capacity.
func (s *Service) RecordPurchase(ctx context.Context, in PurchaseInput) (*models.OlivePurchase, error) {
	var purchase models.OlivePurchase
	err := s.run.Mutate(ctx, "purchase.create", func(tx *gorm.DB) error {
		p, err := s.recordPurchaseTx(tx, in, nil)
		if err != nil {
			return err
		}
		purchase = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Service) recordPurchaseTx(tx *gorm.DB, in PurchaseInput, sessionID *uint) (*models.OlivePurchase, error) {
	total, yield, err := pricePurchase(in)
	if err != nil {
		return nil, err
	}
	safe, err := lockSafe(tx, in.SafeID)
	if err != nil {
		return nil, err
	}
	oil := money.Or(in.OilProduced, decimal.Zero)
	if err := ensureRoom(safe, oil); err != nil {
		return nil, err
	}

	date := s.run.Now()
	if in.PurchaseDate != nil {
		date = *in.PurchaseDate
	}
	purchase := models.OlivePurchase{
		SafeID:          safe.ID,
		SessionID:       sessionID,
		FarmerID:        in.FarmerID,
		SupplierName:    strings.TrimSpace(in.SupplierName),
		OliveWeight:     in.OliveWeight,
		PricePerKg:      in.PricePerKg,
		TotalCost:       total,
		OilProduced:     in.OilProduced,
		YieldPercentage: yield,
		IsBasePurchase:  in.IsBasePurchase,
		PurchaseDate:    date,
		Notes:           strings.TrimSpace(in.Notes),
	}
	if err := tx.Omit(clause.Associations).Create(&purchase).Error; err != nil {
		if apperr.IsDuplicateKey(err) && sessionID != nil {
			return nil, apperr.Conflict(apperr.CodeDuplicate, "session %d is already in stock", *sessionID)
		}
		return nil, err
	}
	if err := adjustStock(tx, safe, oil); err != nil {
		return nil, err
	}
	return &purchase, nil
}

// UpdatePurchase replaces a purchase's figures. A changed oil quantity moves the
// safe's stock by the difference, and an increase must fit in the safe.
func (s *Service) UpdatePurchase(ctx context.Context, id uint, in PurchaseInput) (*models.OlivePurchase, error) {
	var purchase models.OlivePurchase
	err := s.run.Mutate(ctx, "purchase.update", func(tx *gorm.DB) error {
		existing, err := lockPurchase(tx, id)
		if err != nil {
			return err
		}
		if in.SafeID != 0 && in.SafeID != existing.SafeID {
			return apperr.Validation("use the move operation to change the safe of purchase %d", id)
		}
		total, yield, err := pricePurchase(in)
		if err != nil {
			return err
		}
		safe, err := lockSafe(tx, existing.SafeID)
		if err != nil {
			return err
		}

		diff := money.Or(in.OilProduced, decimal.Zero).Sub(money.Or(existing.OilProduced, decimal.Zero))
		if diff.IsPositive() {
			if err := ensureRoom(safe, diff); err != nil {
				return err
			}
		}
		if err := adjustStock(tx, safe, diff); err != nil {
			return err
		}

		existing.FarmerID = in.FarmerID
		existing.SupplierName = strings.TrimSpace(in.SupplierName)
		existing.OliveWeight = in.OliveWeight
		existing.PricePerKg = in.PricePerKg
		existing.TotalCost = total
		existing.OilProduced = in.OilProduced
		existing.YieldPercentage = yield
		existing.IsBasePurchase = in.IsBasePurchase
		existing.Notes = strings.TrimSpace(in.Notes)
		if in.PurchaseDate != nil {
			existing.PurchaseDate = *in.PurchaseDate
		}
		if err := tx.Omit(clause.Associations).Save(existing).Error; err != nil {
			return err
		}
		purchase = *existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// DeletePurchase removes a purchase and takes its oil out of the safe.
func (s *Service) DeletePurchase(ctx context.Context, id uint) error {
	return s.run.Mutate(ctx, "purchase.delete", func(tx *gorm.DB) error {
		purchase, err := lockPurchase(tx, id)
		if err != nil {
			return err
		}
		safe, err := lockSafe(tx, purchase.SafeID)
		if err != nil {
			return err
		}
		if err := adjustStock(tx, safe, money.Or(purchase.OilProduced, decimal.Zero).Neg()); err != nil {
			return err
		}
		return tx.Delete(purchase).Error
	})
}

// MoveStock transfers a purchase and its oil to another safe.
func (s *Service) MoveStock(ctx context.Context, purchaseID, newSafeID uint) (*models.OlivePurchase, error) {
	var moved models.OlivePurchase
	err := s.run.Mutate(ctx, "purchase.move", func(tx *gorm.DB) error {
		purchase, err := lockPurchase(tx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.SafeID == newSafeID {
			return apperr.Validation("purchase %d is already in safe %d", purchaseID, newSafeID)
		}

		// lock both safes in id order
		firstID, secondID := purchase.SafeID, newSafeID
		if firstID > secondID {
			firstID, secondID = secondID, firstID
		}
		first, err := lockSafe(tx, firstID)
		if err != nil {
			return err
		}
		second, err := lockSafe(tx, secondID)
		if err != nil {
			return err
		}
		from, to := first, second
		if from.ID != purchase.SafeID {
			from, to = second, first
		}

		oil := money.Or(purchase.OilProduced, decimal.Zero)
		if err := ensureRoom(to, oil); err != nil {
			return err
		}
		if err := adjustStock(tx, from, oil.Neg()); err != nil {
			return err
		}
		if err := adjustStock(tx, to, oil); err != nil {
			return err
		}
		if err := tx.Model(purchase).Update("safe_id", to.ID).Error; err != nil {
			return err
		}
		purchase.SafeID = to.ID
		moved = *purchase
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"purchase_id": purchaseID, "safe_id": newSafeID}).Info("purchase moved")
	return &moved, nil
}

func (s *Service) ListPurchases(ctx context.Context, f PurchaseFilter, p pagination.Params) ([]models.OlivePurchase, int64, error) {
	dbq := s.run.DB(ctx).Model(&models.OlivePurchase{})
	if f.SafeID != 0 {
		dbq = dbq.Where("safe_id = ?", f.SafeID)
	}
	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.OlivePurchase
	err := dbq.Preload("Safe").
		Order("purchase_date DESC, id DESC").
		Offset(p.Offset()).Limit(p.PerPage).
		Find(&list).Error
	return list, total, err
}

// ConvertSessionToStock stores the oil of a processed session in a safe. The
// olive weight is the session's box weight and the cost follows its price, if any.
func (s *Service) ConvertSessionToStock(ctx context.Context, sessionID, safeID uint) (*models.OlivePurchase, error) {
	var purchase models.OlivePurchase
	err := s.run.Mutate(ctx, "session.stock", func(tx *gorm.DB) error {
		var sess models.ProcessingSession
		if err := tx.Preload("Farmer").First(&sess, sessionID).Error; err != nil {
			if apperr.IsRecordNotFound(err) {
				return apperr.NotFound("session %d not found", sessionID)
			}
			return err
		}
		if err := sessions.Check(sessions.ActionStock, &sess); err != nil {
			return err
		}

		farmerID := sess.FarmerID
		weight := sess.TotalBoxWeight
		date := s.run.Now()
		if sess.ProcessingDate != nil {
			date = *sess.ProcessingDate
		}
		p, err := s.recordPurchaseTx(tx, PurchaseInput{
			SafeID:       safeID,
			FarmerID:     &farmerID,
			SupplierName: sess.Farmer.Name,
			OliveWeight:  &weight,
			PricePerKg:   money.Or(sess.PricePerKg, decimal.Zero),
			OilProduced:  sess.OilWeight,
			PurchaseDate: &date,
			Notes:        "Session " + sess.SessionNumber,
		}, &sess.ID)
		if err != nil {
			return err
		}
		purchase = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// pricePurchase computes total cost and yield. Base purchases are priced on the
// oil; others on the olives, or on the oil when no olive weight is given.
func pricePurchase(in PurchaseInput) (decimal.Decimal, *decimal.Decimal, error) {
	if in.PricePerKg.IsNegative() {
		return decimal.Zero, nil, apperr.Validation("price per kg cannot be negative")
	}
	if in.OliveWeight != nil && !in.OliveWeight.IsPositive() {
		return decimal.Zero, nil, apperr.Validation("olive weight must be greater than zero")
	}
	if in.OilProduced != nil && in.OilProduced.IsNegative() {
		return decimal.Zero, nil, apperr.Validation("oil produced cannot be negative")
	}

	var total decimal.Decimal
	switch {
	case in.IsBasePurchase || in.OliveWeight == nil:
		if in.OilProduced == nil {
			return decimal.Zero, nil, apperr.Validation("oil produced is required when pricing on oil")
		}
		total = in.OilProduced.Mul(in.PricePerKg)
	default:
		total = in.OliveWeight.Mul(in.PricePerKg)
	}

	var yield *decimal.Decimal
	if in.OliveWeight != nil && in.OilProduced != nil {
		y := money.Round(in.OilProduced.Div(*in.OliveWeight).Mul(decimal.NewFromInt(100)))
		yield = &y
	}
	return money.Round(total), yield, nil
}

func ensureRoom(safe *models.OilSafe, oil decimal.Decimal) error {
	free := safe.Capacity.Sub(safe.CurrentStock)
	if oil.GreaterThan(free) {
		return apperr.Conflict(apperr.CodeCapacityExceeded,
			"safe %s has %s kg free, %s kg requested (short by %s kg)",
			safe.Name, money.Format(free), money.Format(oil), money.Format(oil.Sub(free)))
	}
	return nil
}

// adjustStock adds delta to the safe's stock, refusing to leave 0..capacity.
func adjustStock(tx *gorm.DB, safe *models.OilSafe, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	next := safe.CurrentStock.Add(delta)
	if next.IsNegative() {
		return apperr.Invariant(nil, "safe %s would hold %s kg", safe.Name, money.Format(next))
	}
	if next.GreaterThan(safe.Capacity) {
		return ensureRoom(safe, delta)
	}
	if err := tx.Model(&models.OilSafe{}).Where("id = ?", safe.ID).Update("current_stock", next).Error; err != nil {
		return err
	}
	safe.CurrentStock = next
	return nil
}

func lockSafe(tx *gorm.DB, id uint) (*models.OilSafe, error) {
	var safe models.OilSafe
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&safe, id).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("safe %d not found", id)
		}
		return nil, err
	}
	return &safe, nil
}

func lockPurchase(tx *gorm.DB, id uint) (*models.OlivePurchase, error) {
	var p models.OlivePurchase
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("purchase %d not found", id)
		}
		return nil, err
	}
	return &p, nil
}
