package boxes

import (
	"strings"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type BoxResponse struct {
	ID              string           `json:"id"`
	Pool            models.BoxPool   `json:"pool"`
	Type            models.BoxType   `json:"type"`
	Status          models.BoxStatus `json:"status"`
	CurrentHolderID *uint            `json:"current_holder_id"`
	CurrentWeight   *string          `json:"current_weight"`
	AssignedAt      *string          `json:"assigned_at"`
	IsSelected      bool             `json:"is_selected"`
}

type AssignBoxRequest struct {
	BoxID    string          `json:"box_id" validate:"required,max=32"`
	FarmerID uint            `json:"farmer_id" validate:"required"`
	Type     models.BoxType  `json:"type" validate:"omitempty,oneof=normal nchira chkara"`
	Weight   decimal.Decimal `json:"weight"`
}

type BulkAssignItem struct {
	BoxID  string          `json:"box_id" validate:"required,max=32"`
	Type   models.BoxType  `json:"type" validate:"omitempty,oneof=normal nchira chkara"`
	Weight decimal.Decimal `json:"weight"`
}

type BulkAssignRequest struct {
	FarmerID uint             `json:"farmer_id" validate:"required"`
	Boxes    []BulkAssignItem `json:"boxes" validate:"required,min=1,dive"`
}

type BoxIDsRequest struct {
	BoxIDs []string `json:"box_ids" validate:"required,min=1"`
	Force  bool     `json:"force"`
}

type SelectionRequest struct {
	BoxIDs   []string `json:"box_ids" validate:"required,min=1"`
	Selected bool     `json:"selected"`
}

type ValidateIdentityRequest struct {
	BoxID string         `json:"box_id" validate:"required"`
	Type  models.BoxType `json:"type" validate:"omitempty,oneof=normal nchira chkara"`
}

type ReassignIdentityRequest struct {
	NewID  string           `json:"new_id" validate:"required,max=32"`
	Type   models.BoxType   `json:"type" validate:"omitempty,oneof=normal nchira chkara"`
	Weight *decimal.Decimal `json:"weight"`
}

func toBoxResponse(b models.Box) BoxResponse {
	resp := BoxResponse{
		ID:              b.ID,
		Pool:            b.Pool,
		Type:            b.Type,
		Status:          b.Status,
		CurrentHolderID: b.CurrentHolderID,
		CurrentWeight:   money.FormatPtr(b.CurrentWeight),
		IsSelected:      b.IsSelected,
	}
	if b.AssignedAt != nil {
		s := b.AssignedAt.Format(time.RFC3339)
		resp.AssignedAt = &s
	}
	return resp
}

func ToBoxResponses(list []models.Box) []BoxResponse {
	out := make([]BoxResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBoxResponse(b))
	}
	return out
}

func bulkResponse(res *BulkResult) fiber.Map {
	failed := res.Failed
	if failed == nil {
		failed = []ItemError{}
	}
	return fiber.Map{
		"assigned": ToBoxResponses(res.Assigned),
		"failed":   failed,
	}
}

// GET /api/boxes/:id
func GetBoxHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := svc.GetBox(c.UserContext(), c.Params("id"))
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toBoxResponse(*box))
	}
}

// GET /api/boxes/available?type=normal&include_auxiliary=true&page=1&per_page=50
func ListAvailableHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := pagination.FromQuery(c)
		filter := ListFilter{
			Type:             models.BoxType(strings.ToLower(c.Query("type"))),
			IncludeAuxiliary: c.QueryBool("include_auxiliary", false),
		}
		list, total, err := svc.ListAvailable(c.UserContext(), filter, p)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{"data": ToBoxResponses(list), "meta": pagination.NewMeta(p, total)})
	}
}

// GET /api/boxes/held/:farmerId
func ListHeldHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		farmerID, err := validation.ParamID(c, "farmerId")
		if err != nil {
			return apperr.Fiber(err)
		}
		held, err := svc.ListHeldBy(c.UserContext(), farmerID)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(ToBoxResponses(held))
	}
}

// POST /api/boxes/assign
func AssignHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body AssignBoxRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		box, err := svc.Assign(c.UserContext(), body.FarmerID, AssignItem{
			BoxID:  strings.TrimSpace(body.BoxID),
			Type:   body.Type,
			Weight: body.Weight,
		})
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(toBoxResponse(*box))
	}
}

// POST /api/boxes/bulk-assign
func BulkAssignHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body BulkAssignRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		items := make([]AssignItem, 0, len(body.Boxes))
		for _, b := range body.Boxes {
			items = append(items, AssignItem{BoxID: strings.TrimSpace(b.BoxID), Type: b.Type, Weight: b.Weight})
		}
		res, err := svc.BulkAssign(c.UserContext(), body.FarmerID, items)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(bulkResponse(res))
	}
}

// POST /api/boxes/import (multipart: farmer_id, file)
func ImportHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		farmerID, err := validation.ParseID(c.FormValue("farmer_id"), "farmer_id")
		if err != nil {
			return apperr.Fiber(err)
		}
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file upload failed: "+err.Error())
		}
		if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "only .xlsx files are accepted")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "file could not be opened")
		}
		defer file.Close()

		res, err := svc.ImportIntake(c.UserContext(), farmerID, file)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.Status(fiber.StatusCreated).JSON(bulkResponse(res))
	}
}

// POST /api/boxes/release
func ReleaseHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body BoxIDsRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		n, err := svc.Release(c.UserContext(), body.BoxIDs)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{"released": n})
	}
}

// POST /api/boxes/bulk-release
func BulkReleaseHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body BoxIDsRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		n, err := svc.BulkRelease(c.UserContext(), body.BoxIDs, body.Force)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{"released": n})
	}
}

// POST /api/boxes/selection
func SelectionHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SelectionRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		n, err := svc.BulkSetSelection(c.UserContext(), body.BoxIDs, body.Selected)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{"updated": n})
	}
}

// POST /api/boxes/validate
func ValidateIdentityHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ValidateIdentityRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		check, err := svc.ValidateIdentity(c.UserContext(), strings.TrimSpace(body.BoxID), body.Type)
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{
			"box_id":                 check.ID,
			"valid":                  check.Valid,
			"reason":                 check.Reason,
			"pool":                   check.Pool,
			"type":                   check.Type,
			"exists":                 check.Exists,
			"status":                 check.Status,
			"suggested_auxiliary_id": check.SuggestedAuxiliaryID,
		})
	}
}

// GET /api/boxes/next-auxiliary
func NextAuxiliaryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := svc.NextAuxiliaryID(c.UserContext())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{"box_id": id})
	}
}

// DELETE /api/boxes/:id
func RetireAuxiliaryHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.RetireAuxiliary(c.UserContext(), c.Params("id")); err != nil {
			return apperr.Fiber(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// PUT /api/admin/boxes/:id/identity
func ReassignIdentityHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ReassignIdentityRequest
		if err := validation.Body(c, &body); err != nil {
			return apperr.Fiber(err)
		}
		box, err := svc.ReassignIdentity(c.UserContext(), c.Params("id"), strings.TrimSpace(body.NewID), ReassignFields{
			Type:   body.Type,
			Weight: body.Weight,
		})
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(toBoxResponse(*box))
	}
}

// POST /api/admin/boxes/reset-pool
func ResetPoolHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := svc.ResetFactoryPool(c.UserContext())
		if err != nil {
			return apperr.Fiber(err)
		}
		return c.JSON(fiber.Map{"released": n})
	}
}

// Register mounts the operator box routes on r.
func Register(r fiber.Router, svc *Service) {
	r.Get("/available", ListAvailableHandler(svc))
	r.Get("/next-auxiliary", NextAuxiliaryHandler(svc))
	r.Get("/held/:farmerId", ListHeldHandler(svc))
	r.Post("/assign", AssignHandler(svc))
	r.Post("/bulk-assign", BulkAssignHandler(svc))
	r.Post("/import", ImportHandler(svc))
	r.Post("/release", ReleaseHandler(svc))
	r.Post("/bulk-release", BulkReleaseHandler(svc))
	r.Post("/selection", SelectionHandler(svc))
	r.Post("/validate", ValidateIdentityHandler(svc))
	r.Get("/:id", GetBoxHandler(svc))
	r.Delete("/:id", RetireAuxiliaryHandler(svc))
}

// RegisterAdmin mounts the privileged box routes on r.
func RegisterAdmin(r fiber.Router, svc *Service) {
	r.Put("/boxes/:id/identity", ReassignIdentityHandler(svc))
	r.Post("/boxes/reset-pool", ResetPoolHandler(svc))
}
