package audit

import (
	"context"
	"testing"

	"olive-backend/internal/database/dbtest"
	"olive-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLogStoresActorAndSnapshots(t *testing.T) {
	db := dbtest.Open(t, 0)
	ctx := WithActor(context.Background(), Actor{UserID: 7, UserName: "Salah"})
	ctx = WithCorrelationID(ctx, "req-1")

	err := WriteLog(ctx, db, LogOptions{
		EntityType:  "box",
		EntityID:    "12",
		Action:      models.AuditActionReassign,
		Description: "box 12 renamed to 14",
		Before:      map[string]any{"id": "12"},
		After:       map[string]any{"id": "14"},
	})
	require.NoError(t, err)

	var log models.AuditLog
	require.NoError(t, db.First(&log).Error)
	assert.Equal(t, uint(7), log.UserID)
	assert.Equal(t, "Salah", log.UserName)
	assert.Equal(t, "req-1", log.CorrelationID)
	assert.JSONEq(t, `{"id":"12"}`, log.BeforeData)
	assert.JSONEq(t, `{"id":"14"}`, log.AfterData)
}

func TestWriteLogWithoutActorUsesSystem(t *testing.T) {
	db := dbtest.Open(t, 0)

	require.NoError(t, WriteLog(context.Background(), db, LogOptions{
		EntityType: "box_pool",
		EntityID:   "factory",
		Action:     models.AuditActionReset,
	}))

	var log models.AuditLog
	require.NoError(t, db.First(&log).Error)
	assert.Equal(t, "system", log.UserName)
	assert.Equal(t, "null", log.BeforeData)
	assert.NotEmpty(t, log.CorrelationID)
}
