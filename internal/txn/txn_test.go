package txn

import (
	"context"
	"errors"
	"testing"

	"olive-backend/internal/database/dbtest"
	"olive-backend/internal/models"
	"olive-backend/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMutateCommitsAndNotifies(t *testing.T) {
	db := dbtest.Open(t, 3)
	var reasons []string
	r := NewRunner(db, notify.Func(func(_ context.Context, reason string) { reasons = append(reasons, reason) }))

	err := r.Mutate(context.Background(), "box.select", func(tx *gorm.DB) error {
		return tx.Model(&models.Box{}).Where("id = ?", "2").Update("is_selected", true).Error
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"box.select"}, reasons)

	var box models.Box
	require.NoError(t, db.First(&box, "id = ?", "2").Error)
	assert.True(t, box.IsSelected)
}

func TestMutateRollsBackWithoutNotifying(t *testing.T) {
	db := dbtest.Open(t, 3)
	notified := false
	r := NewRunner(db, notify.Func(func(context.Context, string) { notified = true }))

	err := r.Mutate(context.Background(), "box.select", func(tx *gorm.DB) error {
		if err := tx.Model(&models.Box{}).Where("id = ?", "2").Update("is_selected", true).Error; err != nil {
			return err
		}
		return errors.New("second step failed")
	})
	require.Error(t, err)
	assert.False(t, notified)

	var box models.Box
	require.NoError(t, db.First(&box, "id = ?", "2").Error)
	assert.False(t, box.IsSelected)
}
