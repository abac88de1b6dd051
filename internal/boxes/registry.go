package boxes

import (
	"context"
	"fmt"

	"olive-backend/internal/apperr"
	"olive-backend/internal/audit"
	"olive-backend/internal/logging"
	"olive-backend/internal/models"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service owns box state: registry reads, releases, administrative renames and
// allocation to farmers.
type Service struct {
	run      *txn.Runner
	poolSize int
	log      *logrus.Entry
}

func NewService(run *txn.Runner, poolSize int) *Service {
	return &Service{
		run:      run,
		poolSize: poolSize,
		log:      logging.Component("boxes"),
	}
}

func (s *Service) PoolSize() int { return s.poolSize }

type ListFilter struct {
	Type models.BoxType
	// IncludeAuxiliary lists Chkara boxes alongside factory boxes.
	IncludeAuxiliary bool
}

func (s *Service) GetBox(ctx context.Context, id string) (*models.Box, error) {
	var box models.Box
	if err := s.run.DB(ctx).First(&box, "id = ?", id).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("box %s not found", id)
		}
		return nil, err
	}
	return &box, nil
}

// ListAvailable returns available boxes sorted numerically, one page at a time.
// Auxiliary boxes are excluded unless requested or filtered on explicitly.
func (s *Service) ListAvailable(ctx context.Context, f ListFilter, p pagination.Params) ([]models.Box, int64, error) {
	dbq := s.run.DB(ctx).Model(&models.Box{}).Where("status = ?", models.BoxStatusAvailable)
	if f.Type != "" {
		if !f.Type.Valid() {
			return nil, 0, apperr.Validation("unknown box type %q", f.Type)
		}
		dbq = dbq.Where("type = ?", f.Type)
	}
	if !f.IncludeAuxiliary && f.Type != models.BoxTypeChkara {
		dbq = dbq.Where("pool = ?", models.BoxPoolFactory)
	}

	var all []models.Box
	if err := dbq.Find(&all).Error; err != nil {
		return nil, 0, err
	}
	// ids are strings; ordering must be numeric so it happens here, not in SQL
	SortBoxes(all)

	p = p.Normalize()
	start, end := p.Window(len(all))
	return all[start:end], int64(len(all)), nil
}

// ListHeldBy returns the boxes a farmer currently holds.
func (s *Service) ListHeldBy(ctx context.Context, farmerID uint) ([]models.Box, error) {
	var held []models.Box
	if err := s.run.DB(ctx).
		Where("status = ? AND current_holder_id = ?", models.BoxStatusInUse, farmerID).
		Find(&held).Error; err != nil {
		return nil, err
	}
	SortBoxes(held)
	return held, nil
}

// Release makes the given boxes available again. Already available boxes are
// left as they are, so the call is idempotent. Returns how many boxes were in use.
func (s *Service) Release(ctx context.Context, ids []string) (int64, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return 0, apperr.Validation("no box ids given")
	}

	var released int64
	err := s.run.Mutate(ctx, "box.release", func(tx *gorm.DB) error {
		locked, err := LockBoxes(tx, ids)
		if err != nil {
			return err
		}
		inUse := make([]string, 0, len(locked))
		for _, b := range locked {
			if b.InUse() {
				inUse = append(inUse, b.ID)
			}
		}
		if err := ReleaseTx(tx, inUse); err != nil {
			return err
		}
		released = int64(len(inUse))
		return nil
	})
	return released, err
}

type ReassignFields struct {
	Type   models.BoxType
	Weight *decimal.Decimal
}

// ReassignIdentity renames an in-use box. An available box already holding newID is
// replaced; an in-use one blocks the rename. Holder, weight and assignment time move
// to the new identity. A factory box keeps its row and returns to the pool so the
// factory count stays constant; an auxiliary box row is removed.
func (s *Service) ReassignIdentity(ctx context.Context, oldID, newID string, f ReassignFields) (*models.Box, error) {
	if oldID == "" || newID == "" {
		return nil, apperr.Validation("both current and new box ids are required")
	}
	if oldID == newID {
		return nil, apperr.Validation("new box id must differ from %s", oldID)
	}
	if f.Weight != nil && f.Weight.IsNegative() {
		return nil, apperr.Validation("weight cannot be negative")
	}

	var renamed models.Box
	err := s.run.Mutate(ctx, "box.reassign", func(tx *gorm.DB) error {
		old, err := lockOne(tx, oldID)
		if err != nil {
			return err
		}
		if old == nil {
			return apperr.Validation("box %s does not exist", oldID)
		}
		if !old.InUse() {
			return apperr.Conflict(apperr.CodeInvalidState, "box %s is available, only in-use boxes can be reassigned", oldID)
		}

		newType := f.Type
		if newType == "" {
			ident, err := ParseIdentity(newID, s.poolSize)
			if err != nil {
				return err
			}
			newType = old.Type
			if ident.Pool == models.BoxPoolAuxiliary {
				newType = models.BoxTypeChkara
			} else if newType == models.BoxTypeChkara {
				newType = models.BoxTypeNormal
			}
		}
		ident, err := ParseTyped(newID, newType, s.poolSize)
		if err != nil {
			return err
		}

		target, err := lockOne(tx, newID)
		if err != nil {
			return err
		}
		if target != nil {
			if target.InUse() {
				return apperr.Conflict(apperr.CodeInUse, "box %s is already in use, cannot rename %s to it", newID, oldID)
			}
			if err := tx.Delete(&models.Box{}, "id = ?", newID).Error; err != nil {
				return err
			}
		}

		weight := old.CurrentWeight
		if f.Weight != nil {
			weight = f.Weight
		}
		renamed = models.Box{
			ID:              newID,
			Pool:            ident.Pool,
			Type:            newType,
			Status:          models.BoxStatusInUse,
			CurrentHolderID: old.CurrentHolderID,
			CurrentWeight:   weight,
			AssignedAt:      old.AssignedAt,
		}
		if err := tx.Create(&renamed).Error; err != nil {
			if apperr.IsDuplicateKey(err) {
				return apperr.Conflict(apperr.CodeDuplicate, "box %s already exists", newID)
			}
			return err
		}

		// factory ids and auxiliary ids still named by session snapshots stay as available rows
		keep := old.Pool == models.BoxPoolFactory
		if !keep {
			refs, err := sessionRefs(tx, oldID)
			if err != nil {
				return err
			}
			keep = refs > 0
		}
		if keep {
			err = ReleaseTx(tx, []string{oldID})
		} else {
			err = tx.Delete(&models.Box{}, "id = ?", oldID).Error
		}
		if err != nil {
			return err
		}

		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  "box",
			EntityID:    newID,
			Action:      models.AuditActionReassign,
			Description: fmt.Sprintf("box %s reassigned to identity %s", oldID, newID),
			Before:      boxSnapshot(old),
			After:       boxSnapshot(&renamed),
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("old_id", oldID).WithField("new_id", newID).Info("box identity reassigned")
	return &renamed, nil
}

// ResetFactoryPool releases every in-use factory box. Auxiliary boxes are untouched.
func (s *Service) ResetFactoryPool(ctx context.Context) (int64, error) {
	var count int64
	err := s.run.Mutate(ctx, "box.reset_pool", func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.Box{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pool = ? AND status = ?", models.BoxPoolFactory, models.BoxStatusInUse).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		count = int64(len(ids))
		if count == 0 {
			return nil
		}
		if err := ReleaseTx(tx, ids); err != nil {
			return err
		}
		SortIDs(ids)
		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  "box_pool",
			EntityID:    string(models.BoxPoolFactory),
			Action:      models.AuditActionReset,
			Description: fmt.Sprintf("factory pool reset, %d boxes released", count),
			Before:      map[string]any{"in_use": ids},
		})
	})
	if err != nil {
		return 0, err
	}
	s.log.WithField("released", count).Info("factory pool reset")
	return count, nil
}

// RetireAuxiliary deletes an available Chkara box that no session snapshot references.
func (s *Service) RetireAuxiliary(ctx context.Context, id string) error {
	ident, err := ParseIdentity(id, s.poolSize)
	if err != nil {
		return err
	}
	if ident.Pool != models.BoxPoolAuxiliary {
		return apperr.Validation("factory box %s cannot be deleted", id)
	}

	return s.run.Mutate(ctx, "box.retire", func(tx *gorm.DB) error {
		box, err := lockOne(tx, id)
		if err != nil {
			return err
		}
		if box == nil {
			return apperr.Validation("box %s does not exist", id)
		}
		if box.InUse() {
			return apperr.Conflict(apperr.CodeInUse, "box %s is in use, release it first", id)
		}
		refs, err := sessionRefs(tx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return apperr.Conflict(apperr.CodeInUse, "box %s is referenced by %d session records and is kept", id, refs)
		}
		return tx.Delete(&models.Box{}, "id = ?", id).Error
	})
}

// sessionRefs counts the session snapshots that name box id.
func sessionRefs(tx *gorm.DB, id string) (int64, error) {
	var refs int64
	err := tx.Model(&models.SessionBox{}).Where("box_id = ?", id).Count(&refs).Error
	return refs, err
}

// LockBoxes loads and row-locks the given boxes inside tx. Any missing id is a
// validation error naming every missing id.
func LockBoxes(tx *gorm.DB, ids []string) ([]models.Box, error) {
	var locked []models.Box
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&locked).Error; err != nil {
		return nil, err
	}
	if len(locked) != len(ids) {
		found := make(map[string]bool, len(locked))
		for _, b := range locked {
			found[b.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		SortIDs(missing)
		return nil, apperr.Validation("unknown boxes").WithDetails(missing...)
	}
	SortBoxes(locked)
	return locked, nil
}

// ReleaseTx clears holder, weight, assignment time and selection of ids.
func ReleaseTx(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.Box{}).Where("id IN ?", ids).Updates(map[string]any{
		"status":            models.BoxStatusAvailable,
		"current_holder_id": nil,
		"current_weight":    nil,
		"assigned_at":       nil,
		"is_selected":       false,
	}).Error
}

// lockOne returns nil, nil when the box does not exist.
func lockOne(tx *gorm.DB, id string) (*models.Box, error) {
	var box models.Box
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&box, "id = ?", id).Error
	if apperr.IsRecordNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &box, nil
}

func boxSnapshot(b *models.Box) map[string]any {
	snap := map[string]any{
		"id":     b.ID,
		"pool":   b.Pool,
		"type":   b.Type,
		"status": b.Status,
	}
	if b.CurrentHolderID != nil {
		snap["current_holder_id"] = *b.CurrentHolderID
	}
	if b.CurrentWeight != nil {
		snap["current_weight"] = b.CurrentWeight.String()
	}
	if b.AssignedAt != nil {
		snap["assigned_at"] = b.AssignedAt
	}
	return snap
}
