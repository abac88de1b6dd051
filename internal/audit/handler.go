package audit

import (
	"olive-backend/internal/models"
	"olive-backend/internal/pagination"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID            uint               `json:"id"`
	CreatedAt     string             `json:"created_at"`
	UserID        uint               `json:"user_id"`
	UserName      string             `json:"user_name"`
	EntityType    string             `json:"entity_type"`
	EntityID      string             `json:"entity_id"`
	Action        models.AuditAction `json:"action"`
	Description   string             `json:"description"`
	BeforeData    string             `json:"before_data"`
	AfterData     string             `json:"after_data"`
	CorrelationID string             `json:"correlation_id"`
}

// GET /api/admin/audit-logs?entity_type=box&entity_id=5&action=reassign
func ListAuditLogsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := db.WithContext(c.UserContext()).Model(&models.AuditLog{})

		if v := c.Query("entity_type"); v != "" {
			dbq = dbq.Where("entity_type = ?", v)
		}
		if v := c.Query("entity_id"); v != "" {
			dbq = dbq.Where("entity_id = ?", v)
		}
		if v := c.Query("action"); v != "" {
			dbq = dbq.Where("action = ?", v)
		}

		var total int64
		if err := dbq.Count(&total).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "audit logs could not be counted")
		}

		p := pagination.FromQuery(c)
		var logs []models.AuditLog
		if err := dbq.Order("created_at DESC, id DESC").Offset(p.Offset()).Limit(p.PerPage).Find(&logs).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "audit logs could not be listed")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, log := range logs {
			resp = append(resp, AuditLogResponse{
				ID:            log.ID,
				CreatedAt:     log.CreatedAt.Format("2006-01-02 15:04:05"),
				UserID:        log.UserID,
				UserName:      log.UserName,
				EntityType:    log.EntityType,
				EntityID:      log.EntityID,
				Action:        log.Action,
				Description:   log.Description,
				BeforeData:    log.BeforeData,
				AfterData:     log.AfterData,
				CorrelationID: log.CorrelationID,
			})
		}

		return c.JSON(fiber.Map{"data": resp, "meta": pagination.NewMeta(p, total)})
	}
}
