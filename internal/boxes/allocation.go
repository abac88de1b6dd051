package boxes

import (
	"context"
	"fmt"
	"strconv"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AssignItem is one box handed to a farmer. Type may be empty, in which case it
// follows the id namespace (chkara for auxiliary ids, normal otherwise).
type AssignItem struct {
	BoxID  string
	Type   models.BoxType
	Weight decimal.Decimal
}

// ItemError reports why one item of a bulk request was refused.
type ItemError struct {
	BoxID  string `json:"box_id"`
	Row    int    `json:"row,omitempty"`
	Reason string `json:"reason"`
}

type BulkResult struct {
	Assigned []models.Box
	Failed   []ItemError
}

// IdentityCheck answers validateIdentity for the intake screen.
type IdentityCheck struct {
	ID                   string
	Valid                bool
	Reason               string
	Pool                 models.BoxPool
	Type                 models.BoxType
	Exists               bool
	Status               models.BoxStatus
	SuggestedAuxiliaryID string
}

// ValidateIdentity checks id against the namespace rules of boxType (or of its own
// namespace when boxType is empty) and reports the next free auxiliary id. A
// malformed id is not an error, it yields Valid=false with the reason.
func (s *Service) ValidateIdentity(ctx context.Context, id string, boxType models.BoxType) (IdentityCheck, error) {
	check := IdentityCheck{ID: id}

	next, err := s.NextAuxiliaryID(ctx)
	if err != nil {
		return check, err
	}
	check.SuggestedAuxiliaryID = next

	var ident Identity
	if boxType == "" {
		ident, err = ParseIdentity(id, s.poolSize)
		boxType = DefaultType(ident)
	} else {
		ident, err = ParseTyped(id, boxType, s.poolSize)
	}
	if err != nil {
		if apperr.IsKind(err, apperr.KindValidation) {
			check.Reason = err.Error()
			return check, nil
		}
		return check, err
	}

	check.Valid = true
	check.Pool = ident.Pool
	check.Type = boxType

	var box models.Box
	err = s.run.DB(ctx).Select("id", "status").First(&box, "id = ?", id).Error
	switch {
	case err == nil:
		check.Exists = true
		check.Status = box.Status
	case apperr.IsRecordNotFound(err):
	default:
		return check, err
	}
	return check, nil
}

// NextAuxiliaryID returns Chkara<N> for the smallest N not used by any existing box.
func (s *Service) NextAuxiliaryID(ctx context.Context) (string, error) {
	var ids []string
	if err := s.run.DB(ctx).Model(&models.Box{}).
		Where("pool = ?", models.BoxPoolAuxiliary).
		Pluck("id", &ids).Error; err != nil {
		return "", err
	}
	used := make([]int, 0, len(ids))
	for _, id := range ids {
		if ident, err := ParseIdentity(id, s.poolSize); err == nil && ident.Pool == models.BoxPoolAuxiliary {
			used = append(used, ident.Number)
		}
	}
	return AuxiliaryID(NextAuxiliaryNumber(used)), nil
}

// Assign hands one available box to a farmer. The availability check and the
// status change are a single conditional update, so of two concurrent callers
// exactly one wins and the other gets a not_available conflict.
func (s *Service) Assign(ctx context.Context, farmerID uint, item AssignItem) (*models.Box, error) {
	var assigned *models.Box
	err := s.run.Mutate(ctx, "box.assign", func(tx *gorm.DB) error {
		if err := requireFarmer(tx, farmerID); err != nil {
			return err
		}
		box, err := s.assignTx(tx, farmerID, item)
		if err != nil {
			return err
		}
		assigned = box
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("box_id", assigned.ID).WithField("farmer_id", farmerID).Debug("box assigned")
	return assigned, nil
}

// BulkAssign assigns each item in its own transaction. Failed items are collected
// next to the successful ones; the call fails only when nothing was assigned.
func (s *Service) BulkAssign(ctx context.Context, farmerID uint, items []AssignItem) (*BulkResult, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("no boxes given")
	}
	if err := requireFarmer(s.run.DB(ctx), farmerID); err != nil {
		return nil, err
	}

	res := &BulkResult{}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if seen[item.BoxID] {
			res.Failed = append(res.Failed, ItemError{BoxID: item.BoxID, Reason: "listed more than once"})
			continue
		}
		seen[item.BoxID] = true

		box, err := s.Assign(ctx, farmerID, item)
		if err != nil {
			if !isItemError(err) {
				return nil, err
			}
			res.Failed = append(res.Failed, ItemError{BoxID: item.BoxID, Reason: err.Error()})
			continue
		}
		res.Assigned = append(res.Assigned, *box)
	}

	if len(res.Assigned) == 0 {
		ids := make([]string, 0, len(res.Failed))
		for _, f := range res.Failed {
			ids = append(ids, fmt.Sprintf("%s (%s)", f.BoxID, f.Reason))
		}
		return res, apperr.Validation("none of the %d boxes could be assigned", len(items)).WithDetails(ids...)
	}
	SortBoxes(res.Assigned)
	return res, nil
}

// BulkSetSelection flips the UI selection flag on every listed box.
func (s *Service) BulkSetSelection(ctx context.Context, ids []string, selected bool) (int64, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return 0, apperr.Validation("no box ids given")
	}
	var updated int64
	err := s.run.Mutate(ctx, "box.selection", func(tx *gorm.DB) error {
		if _, err := LockBoxes(tx, ids); err != nil {
			return err
		}
		res := tx.Model(&models.Box{}).Where("id IN ?", ids).Update("is_selected", selected)
		updated = res.RowsAffected
		return res.Error
	})
	return updated, err
}

// BulkRelease makes the listed boxes available. Without force, any in-use box in
// the list rejects the whole call and the caller must release those one by one.
// The count covers boxes that were in use.
func (s *Service) BulkRelease(ctx context.Context, ids []string, force bool) (int64, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return 0, apperr.Validation("no box ids given")
	}
	var released int64
	err := s.run.Mutate(ctx, "box.bulk_release", func(tx *gorm.DB) error {
		locked, err := LockBoxes(tx, ids)
		if err != nil {
			return err
		}
		var inUse []string
		for _, b := range locked {
			if b.InUse() {
				inUse = append(inUse, b.ID)
			}
		}
		if len(inUse) > 0 && !force {
			return apperr.Conflict(apperr.CodeInUse, "%d boxes are still in use, release them individually", len(inUse)).
				WithDetails(inUse...)
		}
		if err := ReleaseTx(tx, ids); err != nil {
			return err
		}
		released = int64(len(inUse))
		return nil
	})
	return released, err
}

func (s *Service) assignTx(tx *gorm.DB, farmerID uint, item AssignItem) (*models.Box, error) {
	if item.Weight.IsNegative() || item.Weight.IsZero() {
		return nil, apperr.Validation("box %s: weight must be greater than zero", item.BoxID)
	}

	boxType := item.Type
	if boxType == "" {
		ident, err := ParseIdentity(item.BoxID, s.poolSize)
		if err != nil {
			return nil, err
		}
		boxType = DefaultType(ident)
	}
	ident, err := ParseTyped(item.BoxID, boxType, s.poolSize)
	if err != nil {
		return nil, err
	}

	now := s.run.Now()
	weight := item.Weight

	existing, err := lockOne(tx, item.BoxID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if ident.Pool == models.BoxPoolFactory {
			return nil, apperr.Validation("box %s does not exist", item.BoxID)
		}
		// auxiliary boxes come into existence on first use
		box := models.Box{
			ID:              item.BoxID,
			Pool:            models.BoxPoolAuxiliary,
			Type:            boxType,
			Status:          models.BoxStatusInUse,
			CurrentHolderID: &farmerID,
			CurrentWeight:   &weight,
			AssignedAt:      &now,
		}
		if err := tx.Create(&box).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return nil, apperr.Conflict(apperr.CodeNotAvailable, "box %s is not available", item.BoxID)
			}
			return nil, err
		}
		return &box, nil
	}

	res := tx.Model(&models.Box{}).
		Where("id = ? AND status = ?", item.BoxID, models.BoxStatusAvailable).
		Updates(map[string]any{
			"type":              boxType,
			"status":            models.BoxStatusInUse,
			"current_holder_id": farmerID,
			"current_weight":    weight,
			"assigned_at":       now,
			"is_selected":       false,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		holder := "another farmer"
		if existing.CurrentHolderID != nil {
			holder = "farmer " + strconv.FormatUint(uint64(*existing.CurrentHolderID), 10)
		}
		return nil, apperr.Conflict(apperr.CodeNotAvailable, "box %s is not available, held by %s", item.BoxID, holder)
	}

	var box models.Box
	if err := tx.First(&box, "id = ?", item.BoxID).Error; err != nil {
		return nil, err
	}
	return &box, nil
}

func requireFarmer(db *gorm.DB, farmerID uint) error {
	var count int64
	if err := db.Model(&models.Farmer{}).Where("id = ?", farmerID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return apperr.NotFound("farmer %d not found", farmerID)
	}
	return nil
}

// isItemError tells per-item refusals apart from store failures, which abort a bulk call.
func isItemError(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict, apperr.KindNotFound:
		return true
	}
	return false
}
