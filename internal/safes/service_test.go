package safes

import (
	"context"
	"testing"

	"olive-backend/internal/apperr"
	"olive-backend/internal/database/dbtest"
	"olive-backend/internal/models"
	"olive-backend/internal/money"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, 0)
	return NewService(txn.NewRunner(db, nil)), db
}

func mustSafe(t *testing.T, svc *Service, name, capacity string) *models.OilSafe {
	t.Helper()
	safe, err := svc.CreateSafe(context.Background(), SafeInput{Name: name, Capacity: d(capacity)})
	require.NoError(t, err)
	return safe
}

func stock(t *testing.T, svc *Service, id uint) decimal.Decimal {
	t.Helper()
	safe, err := svc.GetSafe(context.Background(), id)
	require.NoError(t, err)
	return safe.CurrentStock
}

func TestSafeCRUD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	safe := mustSafe(t, svc, "Tank A", "1000")
	_, err := svc.CreateSafe(ctx, SafeInput{Name: "Tank A", Capacity: d("10")})
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicate))
	_, err = svc.CreateSafe(ctx, SafeInput{Name: "Tank B", Capacity: d("0")})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = svc.RecordPurchase(ctx, PurchaseInput{SafeID: safe.ID, PricePerKg: d("10"), OilProduced: money.Ptr(d("300"))})
	require.NoError(t, err)

	_, err = svc.UpdateSafe(ctx, safe.ID, SafeUpdate{Capacity: money.Ptr(d("250"))})
	assert.True(t, apperr.HasCode(err, apperr.CodeCapacityExceeded))

	name := "Tank A1"
	updated, err := svc.UpdateSafe(ctx, safe.ID, SafeUpdate{Name: &name, Capacity: money.Ptr(d("300"))})
	require.NoError(t, err)
	assert.Equal(t, "Tank A1", updated.Name)

	assert.True(t, apperr.HasCode(svc.DeleteSafe(ctx, safe.ID), apperr.CodeInUse))

	empty := mustSafe(t, svc, "Spare", "50")
	require.NoError(t, svc.DeleteSafe(ctx, empty.ID))
	_, err = svc.GetSafe(ctx, empty.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestRecordPurchasePricing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	safe := mustSafe(t, svc, "Tank", "500")

	t.Run("olive purchase with yield", func(t *testing.T) {
		p, err := svc.RecordPurchase(ctx, PurchaseInput{
			SafeID: safe.ID, OliveWeight: money.Ptr(d("400")), PricePerKg: d("1.2"), OilProduced: money.Ptr(d("80")),
		})
		require.NoError(t, err)
		assert.True(t, d("480").Equal(p.TotalCost))
		require.NotNil(t, p.YieldPercentage)
		assert.True(t, d("20").Equal(*p.YieldPercentage))
	})

	t.Run("base purchase is priced on oil", func(t *testing.T) {
		p, err := svc.RecordPurchase(ctx, PurchaseInput{
			SafeID: safe.ID, OliveWeight: money.Ptr(d("100")), PricePerKg: d("9"), OilProduced: money.Ptr(d("15")), IsBasePurchase: true,
		})
		require.NoError(t, err)
		assert.True(t, d("135").Equal(p.TotalCost))
	})

	t.Run("direct oil purchase", func(t *testing.T) {
		p, err := svc.RecordPurchase(ctx, PurchaseInput{SafeID: safe.ID, PricePerKg: d("8"), OilProduced: money.Ptr(d("5"))})
		require.NoError(t, err)
		assert.True(t, d("40").Equal(p.TotalCost))
		assert.Nil(t, p.YieldPercentage)
	})

	t.Run("capacity is enforced", func(t *testing.T) {
		_, err := svc.RecordPurchase(ctx, PurchaseInput{SafeID: safe.ID, PricePerKg: d("8"), OilProduced: money.Ptr(d("401"))})
		require.Error(t, err)
		assert.True(t, apperr.HasCode(err, apperr.CodeCapacityExceeded))
		assert.Contains(t, err.Error(), "400.000 kg free")
		assert.Contains(t, err.Error(), "short by 1.000 kg")
	})

	t.Run("nothing to price", func(t *testing.T) {
		_, err := svc.RecordPurchase(ctx, PurchaseInput{SafeID: safe.ID, PricePerKg: d("8")})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	assert.True(t, d("100").Equal(stock(t, svc, safe.ID)))
}

func TestUpdatePurchaseAppliesDifference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	safe := mustSafe(t, svc, "Tank", "100")
	other, err := svc.RecordPurchase(ctx, PurchaseInput{SafeID: safe.ID, PricePerKg: d("1"), OilProduced: money.Ptr(d("30"))})
	require.NoError(t, err)
	p, err := svc.RecordPurchase(ctx, PurchaseInput{SafeID: safe.ID, PricePerKg: d("1"), OilProduced: money.Ptr(d("50"))})
	require.NoError(t, err)

	_, err = svc.UpdatePurchase(ctx, p.ID, PurchaseInput{PricePerKg: d("1"), OilProduced: money.Ptr(d("71"))})
	assert.True(t, apperr.HasCode(err, apperr.CodeCapacityExceeded))

	updated, err := svc.UpdatePurchase(ctx, p.ID, PurchaseInput{PricePerKg: d("2"), OilProduced: money.Ptr(d("70"))})
	require.NoError(t, err)
	assert.True(t, d("140").Equal(updated.TotalCost))
	assert.True(t, d("100").Equal(stock(t, svc, safe.ID)))

	_, err = svc.UpdatePurchase(ctx, p.ID, PurchaseInput{PricePerKg: d("2"), OilProduced: money.Ptr(d("20"))})
	require.NoError(t, err)
	assert.True(t, d("50").Equal(stock(t, svc, safe.ID)))

	require.NoError(t, svc.DeletePurchase(ctx, other.ID))
	assert.True(t, d("20").Equal(stock(t, svc, safe.ID)))
}

func TestMoveStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	big := mustSafe(t, svc, "Big", "100")
	small := mustSafe(t, svc, "Small", "20")
	p, err := svc.RecordPurchase(ctx, PurchaseInput{SafeID: big.ID, PricePerKg: d("1"), OilProduced: money.Ptr(d("30"))})
	require.NoError(t, err)

	_, err = svc.MoveStock(ctx, p.ID, small.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeCapacityExceeded))
	assert.True(t, d("30").Equal(stock(t, svc, big.ID)))
	assert.True(t, stock(t, svc, small.ID).IsZero())

	_, err = svc.MoveStock(ctx, p.ID, big.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	third := mustSafe(t, svc, "Third", "40")
	moved, err := svc.MoveStock(ctx, p.ID, third.ID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, moved.SafeID)
	assert.True(t, stock(t, svc, big.ID).IsZero())
	assert.True(t, d("30").Equal(stock(t, svc, third.ID)))

	list, total, err := svc.ListPurchases(ctx, PurchaseFilter{SafeID: third.ID}, pagination.Params{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "Third", list[0].Safe.Name)
}

func TestConvertSessionToStock(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	safe := mustSafe(t, svc, "Tank", "100")

	farmer := models.Farmer{Name: "Hedi", Type: models.FarmerTypeSmall, PaymentStatus: models.FarmerPaymentPending}
	require.NoError(t, db.Create(&farmer).Error)
	sess := models.ProcessingSession{
		SessionNumber: "S#1", FarmerID: farmer.ID, BoxCount: 2, TotalBoxWeight: d("60"),
		ProcessingStatus: models.ProcessingPending, PaymentStatus: models.PaymentUnpaid,
	}
	require.NoError(t, db.Create(&sess).Error)

	_, err := svc.ConvertSessionToStock(ctx, sess.ID, safe.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidState))

	require.NoError(t, db.Model(&sess).Updates(map[string]any{
		"processing_status": models.ProcessingProcessed,
		"oil_weight":        d("12"),
		"price_per_kg":      d("0.5"),
	}).Error)

	p, err := svc.ConvertSessionToStock(ctx, sess.ID, safe.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hedi", p.SupplierName)
	assert.True(t, d("30").Equal(p.TotalCost))
	assert.True(t, d("20").Equal(*p.YieldPercentage))
	assert.True(t, d("12").Equal(stock(t, svc, safe.ID)))

	_, err = svc.ConvertSessionToStock(ctx, sess.ID, safe.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicate))
	assert.True(t, d("12").Equal(stock(t, svc, safe.ID)))
}
