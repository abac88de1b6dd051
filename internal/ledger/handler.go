package ledger

import (
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CreateEntryRequest struct {
	Type        models.TransactionType `json:"type" validate:"required,oneof=DEBIT CREDIT"`
	Amount      decimal.Decimal        `json:"amount"`
	Description string                 `json:"description" validate:"max=500"`
	Date        *time.Time             `json:"date"`
}

type EntryResponse struct {
	ID          uint                   `json:"id"`
	FarmerID    uint                   `json:"farmer_id"`
	SessionID   *uint                  `json:"session_id"`
	Type        models.TransactionType `json:"type"`
	Amount      string                 `json:"amount"`
	Description string                 `json:"description"`
	Date        string                 `json:"date"`
}

func toEntryResponse(t models.Transaction) EntryResponse {
	return EntryResponse{
		ID:          t.ID,
		FarmerID:    t.FarmerID,
		SessionID:   t.SessionID,
		Type:        t.Type,
		Amount:      money.Format(t.Amount),
		Description: t.Description,
		Date:        t.Date.Format("2006-01-02"),
	}
}

// GET /api/farmers/:id/transactions
func ListEntriesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		farmerID, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		p := pagination.FromQuery(c)
		entries, total, err := svc.ListEntries(c.UserContext(), farmerID, p)
		if err != nil {
			return apperr.Fiber(err)
		}
		resp := make([]EntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, toEntryResponse(e))
		}
		return c.JSON(fiber.Map{"data": resp, "meta": pagination.NewMeta(p, total)})
	}
}

// POST /api/farmers/:id/transactions
func CreateEntryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		farmerID, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body CreateEntryRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		entry, err := svc.CreateEntry(c.UserContext(), farmerID, EntryInput{
			Type:        body.Type,
			Amount:      body.Amount,
			Description: body.Description,
			Date:        body.Date,
		})
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toEntryResponse(*entry))
	}
}

// DELETE /api/transactions/:id
func DeleteEntryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		if err := svc.DeleteEntry(c.UserContext(), id); err != nil {
			return apperr.Fiber(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/admin/ledger/reconcile
func ReconcileHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		drifts, err := svc.RecomputeAll(c.UserContext())
		if err != nil {
			return apperr.Fiber(err)
		}
		ids := make([]uint, 0, len(drifts))
		for _, d := range drifts {
			ids = append(ids, d.FarmerID)
		}
		return c.JSON(fiber.Map{"drifted": len(drifts), "farmer_ids": ids})
	}
}

// Register mounts the farmer ledger routes under api. Deleting a manual
// entry is left to the caller so it can sit behind an admin check.
func Register(api fiber.Router, svc *Service) {
	api.Get("/farmers/:id/transactions", ListEntriesHandler(svc))
	api.Post("/farmers/:id/transactions", CreateEntryHandler(svc))
}
