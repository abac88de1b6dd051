package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"olive-backend/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// Struct validates v against its `validate` tags and returns an apperr
// validation error naming every failing field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request: %v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s (%s=%s)", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return apperr.Validation("invalid request").WithDetails(fields...)
}

// Body parses the JSON request body into v and validates it.
func Body(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return Struct(v)
}

// ParamID reads a positive numeric path parameter.
func ParamID(c *fiber.Ctx, name string) (uint, error) {
	return ParseID(c.Params(name), name)
}

// ParseID parses a positive numeric identifier; name labels the error.
func ParseID(raw, name string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || n == 0 {
		return 0, apperr.Validation("invalid %s %q", name, raw)
	}
	return uint(n), nil
}
