// Package farmers manages supplier records. Ledger totals on a farmer are
// read-only here; they are rewritten by ledger.Recompute.
package farmers

import (
	"context"
	"strconv"
	"strings"

	"olive-backend/internal/apperr"
	"olive-backend/internal/audit"
	"olive-backend/internal/boxes"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service struct {
	run   *txn.Runner
	boxes *boxes.Service
}

func NewService(run *txn.Runner, boxSvc *boxes.Service) *Service {
	return &Service{run: run, boxes: boxSvc}
}

type Input struct {
	Name     string
	Nickname string
	Phone    string
	Type     models.FarmerType
}

type ListFilter struct {
	Search        string
	PaymentStatus models.FarmerPaymentStatus
}

// Summary is a farmer with held boxes and session figures.
type Summary struct {
	Farmer       models.Farmer
	HeldBoxes    []models.Box
	SessionCount int64
	ChkaraBoxes  int64
	// TotalChakra counts chkara snapshots in units of five.
	TotalChakra decimal.Decimal
}

func (in Input) normalize() (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Nickname = strings.TrimSpace(in.Nickname)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Name == "" {
		return in, apperr.Validation("farmer name is required")
	}
	if in.Type == "" {
		in.Type = models.FarmerTypeSmall
	}
	if in.Type != models.FarmerTypeSmall && in.Type != models.FarmerTypeLarge {
		return in, apperr.Validation("farmer type must be %s or %s", models.FarmerTypeSmall, models.FarmerTypeLarge)
	}
	return in, nil
}

func (s *Service) Create(ctx context.Context, in Input) (*models.Farmer, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	farmer := models.Farmer{
		Name:            in.Name,
		Nickname:        in.Nickname,
		Phone:           in.Phone,
		Type:            in.Type,
		TotalAmountDue:  decimal.Zero,
		TotalAmountPaid: decimal.Zero,
		PaymentStatus:   models.FarmerPaymentPaid,
	}
	err = s.run.Mutate(ctx, "farmer.create", func(tx *gorm.DB) error {
		return tx.Create(&farmer).Error
	})
	if err != nil {
		return nil, err
	}
	return &farmer, nil
}

// Update changes identity fields only.
func (s *Service) Update(ctx context.Context, id uint, in Input) (*models.Farmer, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	var farmer models.Farmer
	err = s.run.Mutate(ctx, "farmer.update", func(tx *gorm.DB) error {
		if err := tx.First(&farmer, id).Error; err != nil {
			if apperr.IsRecordNotFound(err) {
				return apperr.NotFound("farmer %d not found", id)
			}
			return err
		}
		farmer.Name = in.Name
		farmer.Nickname = in.Nickname
		farmer.Phone = in.Phone
		farmer.Type = in.Type
		return tx.Model(&farmer).Select("name", "nickname", "phone", "type").Updates(&farmer).Error
	})
	if err != nil {
		return nil, err
	}
	return &farmer, nil
}

// Delete removes a farmer without boxes in hand and without sessions.
func (s *Service) Delete(ctx context.Context, id uint) error {
	return s.run.Mutate(ctx, "farmer.delete", func(tx *gorm.DB) error {
		var farmer models.Farmer
		if err := tx.First(&farmer, id).Error; err != nil {
			if apperr.IsRecordNotFound(err) {
				return apperr.NotFound("farmer %d not found", id)
			}
			return err
		}
		var held, sessionCount int64
		if err := tx.Model(&models.Box{}).Where("current_holder_id = ?", id).Count(&held).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ProcessingSession{}).Where("farmer_id = ?", id).Count(&sessionCount).Error; err != nil {
			return err
		}
		if held > 0 || sessionCount > 0 {
			return apperr.Conflict(apperr.CodeInUse, "farmer %s holds %d boxes and has %d sessions", farmer.Name, held, sessionCount)
		}
		if err := tx.Where("farmer_id = ?", id).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&farmer).Error; err != nil {
			return err
		}
		return audit.WriteLog(ctx, tx, audit.LogOptions{
			EntityType:  "farmer",
			EntityID:    strconv.FormatUint(uint64(id), 10),
			Action:      models.AuditActionDelete,
			Description: "farmer " + farmer.Name + " deleted",
			Before:      farmer,
		})
	})
}

func (s *Service) Get(ctx context.Context, id uint) (*Summary, error) {
	db := s.run.DB(ctx)
	var farmer models.Farmer
	if err := db.First(&farmer, id).Error; err != nil {
		if apperr.IsRecordNotFound(err) {
			return nil, apperr.NotFound("farmer %d not found", id)
		}
		return nil, err
	}

	held, err := s.boxes.ListHeldBy(ctx, id)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Farmer: farmer, HeldBoxes: held}
	if err := db.Model(&models.ProcessingSession{}).Where("farmer_id = ?", id).Count(&sum.SessionCount).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.SessionBox{}).
		Where("farmer_id = ? AND box_type = ?", id, models.BoxTypeChkara).
		Count(&sum.ChkaraBoxes).Error; err != nil {
		return nil, err
	}
	sum.TotalChakra = money.ChakraUnits(decimal.NewFromInt(sum.ChkaraBoxes))
	return sum, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, p pagination.Params) ([]models.Farmer, int64, error) {
	dbq := s.run.DB(ctx).Model(&models.Farmer{})
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		dbq = dbq.Where("LOWER(name) LIKE ? OR LOWER(nickname) LIKE ? OR phone LIKE ?", like, like, like)
	}
	if f.PaymentStatus != "" {
		dbq = dbq.Where("payment_status = ?", f.PaymentStatus)
	}
	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Farmer
	err := dbq.Order("name, id").Offset(p.Offset()).Limit(p.PerPage).Find(&list).Error
	return list, total, err
}
