package dashboard

import (
	"strconv"

	"olive-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

// GET /api/dashboard/overview
func OverviewHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ov, err := svc.Overview(c.UserContext())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(ov)
	}
}

// GET /api/dashboard/chart?period=daily&count=7
func ChartHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count := 0
		if raw := c.Query("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return fiber.NewError(fiber.StatusBadRequest, "invalid count")
			}
			count = n
		}
		chart, err := svc.Chart(c.UserContext(), Period(c.Query("period", string(PeriodDaily))), count)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(chart)
	}
}

func Register(r fiber.Router, svc *Service) {
	r.Get("/overview", OverviewHandler(svc))
	r.Get("/chart", ChartHandler(svc))
}
