package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"validation", Validation("bad id %q", "x"), KindValidation, http.StatusBadRequest},
		{"not found", NotFound("box %s not found", "7"), KindNotFound, http.StatusNotFound},
		{"conflict", Conflict(CodeNotAvailable, "box busy"), KindConflict, http.StatusConflict},
		{"invariant", Invariant(errors.New("boom"), "ledger broken"), KindInvariant, http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("gone")), KindNotFound, http.StatusNotFound},
		{"plain", errors.New("db down"), 0, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
			assert.Equal(t, tc.status, HTTPStatus(tc.err))
		})
	}
}

func TestErrorMessageListsDetails(t *testing.T) {
	err := Conflict(CodeNotAvailable, "boxes not available").WithDetails("5", "9")
	assert.Equal(t, "boxes not available: 5, 9", err.Error())
	assert.True(t, HasCode(err, CodeNotAvailable))
	assert.False(t, HasCode(err, CodeDuplicate))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKey(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKey(errors.New("UNIQUE constraint failed: boxes.id")))
	assert.False(t, IsDuplicateKey(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsDuplicateKey(nil))
}

func TestFiberMapsKinds(t *testing.T) {
	fe, ok := Fiber(Conflict(CodeNotAvailable, "box busy").WithDetails("5")).(*fiber.Error)
	assert.True(t, ok)
	assert.Equal(t, http.StatusConflict, fe.Code)
	assert.Equal(t, "box busy: 5", fe.Message)

	fe, _ = Fiber(errors.New("db down")).(*fiber.Error)
	assert.Equal(t, http.StatusInternalServerError, fe.Code)
	assert.Equal(t, "internal server error", fe.Message)

	fe, _ = Fiber(Invariant(errors.New("x"), "ledger mismatch")).(*fiber.Error)
	assert.Equal(t, "ledger mismatch", fe.Message)

	assert.Nil(t, Fiber(nil))
}
