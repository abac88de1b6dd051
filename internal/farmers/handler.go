package farmers

import (
	"fmt"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/boxes"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type FarmerRequest struct {
	Name     string            `json:"name" validate:"required,max=150"`
	Nickname string            `json:"nickname" validate:"max=100"`
	Phone    string            `json:"phone" validate:"max=50"`
	Type     models.FarmerType `json:"type" validate:"omitempty,oneof=small large"`
}

type FarmerResponse struct {
	ID                 uint                       `json:"id"`
	Name               string                     `json:"name"`
	Nickname           string                     `json:"nickname"`
	Phone              string                     `json:"phone"`
	Type               models.FarmerType          `json:"type"`
	TotalAmountDue     string                     `json:"total_amount_due"`
	TotalAmountPaid    string                     `json:"total_amount_paid"`
	PaymentStatus      models.FarmerPaymentStatus `json:"payment_status"`
	LastProcessingDate *string                    `json:"last_processing_date"`
	CreatedAt          time.Time                  `json:"created_at"`
}

type FarmerDetailResponse struct {
	FarmerResponse
	HeldBoxes    []boxes.BoxResponse `json:"held_boxes"`
	SessionCount int64               `json:"session_count"`
	ChkaraBoxes  int64               `json:"chkara_boxes"`
	TotalChakra  string              `json:"total_chakra"`
}

func (r FarmerRequest) input() Input {
	return Input{Name: r.Name, Nickname: r.Nickname, Phone: r.Phone, Type: r.Type}
}

func toFarmerResponse(f models.Farmer) FarmerResponse {
	resp := FarmerResponse{
		ID:              f.ID,
		Name:            f.Name,
		Nickname:        f.Nickname,
		Phone:           f.Phone,
		Type:            f.Type,
		TotalAmountDue:  money.Format(f.TotalAmountDue),
		TotalAmountPaid: money.Format(f.TotalAmountPaid),
		PaymentStatus:   f.PaymentStatus,
		CreatedAt:       f.CreatedAt,
	}
	if f.LastProcessingDate != nil {
		s := f.LastProcessingDate.Format("2006-01-02")
		resp.LastProcessingDate = &s
	}
	return resp
}

// GET /api/farmers
func ListFarmersHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := pagination.FromQuery(c)
		filter := ListFilter{
			Search:        c.Query("search"),
			PaymentStatus: models.FarmerPaymentStatus(c.Query("payment_status")),
		}
		list, total, err := svc.List(c.UserContext(), filter, p)
		if err != nil {
			return apperr.Fiber(err)
		}
		out := make([]FarmerResponse, 0, len(list))
		for _, f := range list {
			out = append(out, toFarmerResponse(f))
		}
		return c.JSON(fiber.Map{"data": out, "meta": pagination.NewMeta(p, total)})
	}
}

// GET /api/farmers/:id
func GetFarmerHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		sum, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(FarmerDetailResponse{
			FarmerResponse: toFarmerResponse(sum.Farmer),
			HeldBoxes:      boxes.ToBoxResponses(sum.HeldBoxes),
			SessionCount:   sum.SessionCount,
			ChkaraBoxes:    sum.ChkaraBoxes,
			TotalChakra:    money.Format(sum.TotalChakra),
		})
	}
}

// POST /api/farmers
func CreateFarmerHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body FarmerRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		farmer, err := svc.Create(c.UserContext(), body.input())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toFarmerResponse(*farmer))
	}
}

// PUT /api/farmers/:id
func UpdateFarmerHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		var body FarmerRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		farmer, err := svc.Update(c.UserContext(), id, body.input())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toFarmerResponse(*farmer))
	}
}

// DELETE /api/farmers/:id
func DeleteFarmerHandler(svc *Service) fiber.Handler {
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

// GET /api/farmers/:id/statement
func StatementHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := validation.ParamID(c, "id")
		if err != nil {
			return apperr.Fiber(err)
		}
		st, err := svc.Statement(c.UserContext(), id)
		if err != nil {
			return apperr.Fiber(err)
		}
		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Attachment(fmt.Sprintf("farmer-%d-statement.xlsx", id))
		return st.WriteXLSX(c.Response().BodyWriter())
	}
}

func Register(r fiber.Router, svc *Service) {
	r.Get("/", ListFarmersHandler(svc))
	r.Post("/", CreateFarmerHandler(svc))
	r.Get("/:id", GetFarmerHandler(svc))
	r.Get("/:id/statement", StatementHandler(svc))
	r.Put("/:id", UpdateFarmerHandler(svc))
	r.Delete("/:id", DeleteFarmerHandler(svc))
}
