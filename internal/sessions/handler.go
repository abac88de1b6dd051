package sessions

import (
	"strconv"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type CreateSessionRequest struct {
	FarmerID uint     `json:"farmer_id" validate:"required"`
	BoxIDs   []string `json:"box_ids" validate:"required,min=1"`
	Notes    string   `json:"notes" validate:"max=2000"`
}

type CompleteSessionRequest struct {
	OilWeight      decimal.Decimal `json:"oil_weight"`
	ProcessingDate *time.Time      `json:"processing_date"`
	PaymentDate    *time.Time      `json:"payment_date"`
}

type PaymentStatusRequest struct {
	Status models.PaymentStatus `json:"status" validate:"required,oneof=paid unpaid"`
}

type SettleSessionRequest struct {
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	PaymentDate *time.Time      `json:"payment_date"`
	Notes       string          `json:"notes" validate:"max=500"`
}

type UpdateSessionRequest struct {
	Notes     *string          `json:"notes" validate:"omitempty,max=2000"`
	OilWeight *decimal.Decimal `json:"oil_weight"`
}

type MergeSessionsRequest struct {
	FarmerID       uint             `json:"farmer_id" validate:"required"`
	SessionIDs     []uint           `json:"session_ids" validate:"required,min=2"`
	PricePerKg     *decimal.Decimal `json:"price_per_kg"`
	AmountPaid     decimal.Decimal  `json:"amount_paid"`
	OilWeight      *decimal.Decimal `json:"oil_weight"`
	ProcessingDate *time.Time       `json:"processing_date"`
	PaymentDate    *time.Time       `json:"payment_date"`
	Notes          string           `json:"notes" validate:"max=2000"`
}

type SessionBoxResponse struct {
	BoxID     string         `json:"box_id"`
	BoxWeight string         `json:"box_weight"`
	BoxType   models.BoxType `json:"box_type"`
}

type SessionResponse struct {
	ID               uint                    `json:"id"`
	SessionNumber    string                  `json:"session_number"`
	FarmerID         uint                    `json:"farmer_id"`
	FarmerName       string                  `json:"farmer_name,omitempty"`
	BoxCount         int                     `json:"box_count"`
	TotalBoxWeight   string                  `json:"total_box_weight"`
	OilWeight        *string                 `json:"oil_weight"`
	ProcessingStatus models.ProcessingStatus `json:"processing_status"`
	ProcessingDate   *string                 `json:"processing_date"`
	PricePerKg       *string                 `json:"price_per_kg"`
	TotalPrice       *string                 `json:"total_price"`
	AmountPaid       string                  `json:"amount_paid"`
	RemainingAmount  string                  `json:"remaining_amount"`
	PaymentStatus    models.PaymentStatus    `json:"payment_status"`
	PaymentDate      *string                 `json:"payment_date"`
	Notes            string                  `json:"notes"`
	CreatedAt        string                  `json:"created_at"`
	Boxes            []SessionBoxResponse    `json:"boxes,omitempty"`
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}

func toSessionResponse(s models.ProcessingSession) SessionResponse {
	resp := SessionResponse{
		ID:               s.ID,
		SessionNumber:    s.SessionNumber,
		FarmerID:         s.FarmerID,
		FarmerName:       s.Farmer.Name,
		BoxCount:         s.BoxCount,
		TotalBoxWeight:   money.Format(s.TotalBoxWeight),
		OilWeight:        money.FormatPtr(s.OilWeight),
		ProcessingStatus: s.ProcessingStatus,
		ProcessingDate:   formatDate(s.ProcessingDate),
		PricePerKg:       money.FormatPtr(s.PricePerKg),
		TotalPrice:       money.FormatPtr(s.TotalPrice),
		AmountPaid:       money.Format(s.AmountPaid),
		RemainingAmount:  money.Format(s.RemainingAmount),
		PaymentStatus:    s.PaymentStatus,
		PaymentDate:      formatDate(s.PaymentDate),
		Notes:            s.Notes,
		CreatedAt:        s.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	for _, b := range s.Boxes {
		resp.Boxes = append(resp.Boxes, SessionBoxResponse{
			BoxID:     b.BoxID,
			BoxWeight: money.Format(b.BoxWeight),
			BoxType:   b.BoxType,
		})
	}
	return resp
}

// sessionResult wraps a service call returning a session into a JSON response.
func sessionResult(c *fiber.Ctx, status int, sess *models.ProcessingSession, err error) error {
	if err != nil {
		return apperr.Fiber(err)
	}
	return c.Status(status).JSON(toSessionResponse(*sess))
}

// POST /api/sessions
func CreateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateSessionRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Create(c.UserContext(), CreateInput{FarmerID: body.FarmerID, BoxIDs: body.BoxIDs, Notes: body.Notes})
		return sessionResult(c, fiber.StatusCreated, sess, err)
	}
}

// GET /api/sessions?farmer_id=&processing_status=&payment_status=
func ListHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var f ListFilter
		if v := c.Query("farmer_id"); v != "" {
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid farmer_id")
			}
			f.FarmerID = uint(id)
		}
		f.ProcessingStatus = models.ProcessingStatus(c.Query("processing_status"))
		f.PaymentStatus = models.PaymentStatus(c.Query("payment_status"))

		p := pagination.FromQuery(c)
		list, total, err := svc.List(c.UserContext(), f, p)
		if err != nil {
			return apperr.Fiber(err)
		}
		resp := make([]SessionResponse, 0, len(list))
		for _, s := range list {
			resp = append(resp, toSessionResponse(s))
		}
		return c.JSON(fiber.Map{"data": resp, "meta": pagination.NewMeta(p, total)})
	}
}

// GET /api/sessions/:id
func GetHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Get(c.UserContext(), id)
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// PUT /api/sessions/:id
func UpdateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body UpdateSessionRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Update(c.UserContext(), id, UpdateInput{Notes: body.Notes, OilWeight: body.OilWeight})
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// POST /api/sessions/:id/complete
func CompleteHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body CompleteSessionRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Complete(c.UserContext(), id, CompleteInput{
			OilWeight:      body.OilWeight,
			ProcessingDate: body.ProcessingDate,
			PaymentDate:    body.PaymentDate,
		})
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// POST /api/sessions/:id/payment-status
func PaymentStatusHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body PaymentStatusRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.TogglePayment(c.UserContext(), id, body.Status)
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// POST /api/sessions/:id/settle
func SettleHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body SettleSessionRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Settle(c.UserContext(), id, SettleInput{
			PricePerKg:  body.PricePerKg,
			AmountPaid:  body.AmountPaid,
			PaymentDate: body.PaymentDate,
			Notes:       body.Notes,
		})
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// POST /api/sessions/:id/unpay
func UnpayHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Unpay(c.UserContext(), id)
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// POST /api/sessions/merge
func MergeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body MergeSessionsRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Merge(c.UserContext(), MergeInput{
			FarmerID:       body.FarmerID,
			SessionIDs:     body.SessionIDs,
			PricePerKg:     body.PricePerKg,
			AmountPaid:     body.AmountPaid,
			OilWeight:      body.OilWeight,
			ProcessingDate: body.ProcessingDate,
			PaymentDate:    body.PaymentDate,
			Notes:          body.Notes,
		})
		return sessionResult(c, fiber.StatusCreated, sess, err)
	}
}

// DELETE /api/sessions/:id
func DeleteHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		if err := svc.Delete(c.UserContext(), id); err != nil {
			return apperr.Fiber(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/admin/sessions/:id/reset
func ResetHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		sess, err := svc.Reset(c.UserContext(), id)
		return sessionResult(c, fiber.StatusOK, sess, err)
	}
}

// Register mounts the session routes on r.
func Register(r fiber.Router, svc *Service) {
	r.Post("/", CreateHandler(svc))
	r.Get("/", ListHandler(svc))
	r.Post("/merge", MergeHandler(svc))
	r.Get("/:id", GetHandler(svc))
	r.Put("/:id", UpdateHandler(svc))
	r.Delete("/:id", DeleteHandler(svc))
	r.Post("/:id/complete", CompleteHandler(svc))
	r.Post("/:id/payment-status", PaymentStatusHandler(svc))
	r.Post("/:id/settle", SettleHandler(svc))
	r.Post("/:id/unpay", UnpayHandler(svc))
}
