package safes

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

type CreateSafeRequest struct {
	Name        string          `json:"name" validate:"required,max=100"`
	Capacity    decimal.Decimal `json:"capacity"`
	Description string          `json:"description" validate:"max=255"`
}

type UpdateSafeRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=100"`
	Capacity    *decimal.Decimal `json:"capacity"`
	Description *string          `json:"description" validate:"omitempty,max=255"`
}

type PurchaseRequest struct {
	SafeID         uint             `json:"safe_id"`
	FarmerID       *uint            `json:"farmer_id"`
	SupplierName   string           `json:"supplier_name" validate:"max=150"`
	OliveWeight    *decimal.Decimal `json:"olive_weight"`
	PricePerKg     decimal.Decimal  `json:"price_per_kg"`
	OilProduced    *decimal.Decimal `json:"oil_produced"`
	IsBasePurchase bool             `json:"is_base_purchase"`
	PurchaseDate   *time.Time       `json:"purchase_date"`
	Notes          string           `json:"notes" validate:"max=500"`
}

type MoveRequest struct {
	SafeID uint `json:"safe_id" validate:"required"`
}

type StockRequest struct {
	SafeID uint `json:"safe_id" validate:"required"`
}

type SafeResponse struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	Capacity     string `json:"capacity"`
	CurrentStock string `json:"current_stock"`
	FreeSpace    string `json:"free_space"`
	Description  string `json:"description"`
}

type PurchaseResponse struct {
	ID              uint    `json:"id"`
	SafeID          uint    `json:"safe_id"`
	SafeName        string  `json:"safe_name,omitempty"`
	SessionID       *uint   `json:"session_id"`
	FarmerID        *uint   `json:"farmer_id"`
	SupplierName    string  `json:"supplier_name"`
	OliveWeight     *string `json:"olive_weight"`
	PricePerKg      string  `json:"price_per_kg"`
	TotalCost       string  `json:"total_cost"`
	OilProduced     *string `json:"oil_produced"`
	YieldPercentage *string `json:"yield_percentage"`
	IsBasePurchase  bool    `json:"is_base_purchase"`
	PurchaseDate    string  `json:"purchase_date"`
	Notes           string  `json:"notes"`
}

func toSafeResponse(s models.OilSafe) SafeResponse {
	return SafeResponse{
		ID:           s.ID,
		Name:         s.Name,
		Capacity:     money.Format(s.Capacity),
		CurrentStock: money.Format(s.CurrentStock),
		FreeSpace:    money.Format(s.Capacity.Sub(s.CurrentStock)),
		Description:  s.Description,
	}
}

func toPurchaseResponse(p models.OlivePurchase) PurchaseResponse {
	return PurchaseResponse{
		ID:              p.ID,
		SafeID:          p.SafeID,
		SafeName:        p.Safe.Name,
		SessionID:       p.SessionID,
		FarmerID:        p.FarmerID,
		SupplierName:    p.SupplierName,
		OliveWeight:     money.FormatPtr(p.OliveWeight),
		PricePerKg:      money.Format(p.PricePerKg),
		TotalCost:       money.Format(p.TotalCost),
		OilProduced:     money.FormatPtr(p.OilProduced),
		YieldPercentage: money.FormatPtr(p.YieldPercentage),
		IsBasePurchase:  p.IsBasePurchase,
		PurchaseDate:    p.PurchaseDate.Format("2006-01-02"),
		Notes:           p.Notes,
	}
}

func (r PurchaseRequest) input() PurchaseInput {
	return PurchaseInput{
		SafeID:         r.SafeID,
		FarmerID:       r.FarmerID,
		SupplierName:   r.SupplierName,
		OliveWeight:    r.OliveWeight,
		PricePerKg:     r.PricePerKg,
		OilProduced:    r.OilProduced,
		IsBasePurchase: r.IsBasePurchase,
		PurchaseDate:   r.PurchaseDate,
		Notes:          r.Notes,
	}
}

// GET /api/safes
func ListSafesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := svc.ListSafes(c.UserContext())
		if err != nil {
			return apperr.Fiber(err)
		}
		resp := make([]SafeResponse, 0, len(list))
		for _, s := range list {
			resp = append(resp, toSafeResponse(s))
		}
		return c.JSON(resp)
	}
}

// GET /api/safes/:id
func GetSafeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		safe, err := svc.GetSafe(c.UserContext(), id)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toSafeResponse(*safe))
	}
}

// POST /api/safes
func CreateSafeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateSafeRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		safe, err := svc.CreateSafe(c.UserContext(), SafeInput{Name: body.Name, Capacity: body.Capacity, Description: body.Description})
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toSafeResponse(*safe))
	}
}

// PUT /api/safes/:id
func UpdateSafeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body UpdateSafeRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		safe, err := svc.UpdateSafe(c.UserContext(), id, SafeUpdate{Name: body.Name, Capacity: body.Capacity, Description: body.Description})
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toSafeResponse(*safe))
	}
}

// DELETE /api/safes/:id
func DeleteSafeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		if err := svc.DeleteSafe(c.UserContext(), id); err != nil {
			return apperr.Fiber(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/purchases?safe_id=
func ListPurchasesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var f PurchaseFilter
		if v := c.Query("safe_id"); v != "" {
			id, err := validation.ParseID(v, "safe_id")
			if err != nil {
				return apperr.Fiber(err)
			}
			f.SafeID = id
		}
		p := pagination.FromQuery(c)
		list, total, err := svc.ListPurchases(c.UserContext(), f, p)
		if err != nil {
			return apperr.Fiber(err)
		}
		resp := make([]PurchaseResponse, 0, len(list))
		for _, pu := range list {
			resp = append(resp, toPurchaseResponse(pu))
		}
		return c.JSON(fiber.Map{"data": resp, "meta": pagination.NewMeta(p, total)})
	}
}

// POST /api/purchases
func CreatePurchaseHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body PurchaseRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		if body.SafeID == 0 {
			return apperr.Fiber(apperr.Validation("safe_id is required"))
		}
		p, err := svc.RecordPurchase(c.UserContext(), body.input())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toPurchaseResponse(*p))
	}
}

// PUT /api/purchases/:id
func UpdatePurchaseHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body PurchaseRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		p, err := svc.UpdatePurchase(c.UserContext(), id, body.input())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toPurchaseResponse(*p))
	}
}

// DELETE /api/purchases/:id
func DeletePurchaseHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		if err := svc.DeletePurchase(c.UserContext(), id); err != nil {
			return apperr.Fiber(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/purchases/:id/move
func MovePurchaseHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body MoveRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		p, err := svc.MoveStock(c.UserContext(), id, body.SafeID)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toPurchaseResponse(*p))
	}
}

// POST /api/sessions/:id/stock
func SessionStockHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body StockRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		p, err := svc.ConvertSessionToStock(c.UserContext(), id, body.SafeID)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toPurchaseResponse(*p))
	}
}

// Register mounts safe and purchase routes under api.
func Register(api fiber.Router, svc *Service) {
	safes := api.Group("/safes")
	safes.Get("/", ListSafesHandler(svc))
	safes.Post("/", CreateSafeHandler(svc))
	safes.Get("/:id", GetSafeHandler(svc))
	safes.Put("/:id", UpdateSafeHandler(svc))
	safes.Delete("/:id", DeleteSafeHandler(svc))

	purchases := api.Group("/purchases")
	purchases.Get("/", ListPurchasesHandler(svc))
	purchases.Post("/", CreatePurchaseHandler(svc))
	purchases.Put("/:id", UpdatePurchaseHandler(svc))
	purchases.Delete("/:id", DeletePurchaseHandler(svc))
	purchases.Post("/:id/move", MovePurchaseHandler(svc))

	api.Post("/sessions/:id/stock", SessionStockHandler(svc))
}
