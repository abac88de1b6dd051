package sessions

import (
	"context"
	"testing"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"
	"olive-backend/internal/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSumsSharedBoxes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, "F")

	first := f.intake(t, farmer.ID, map[string]string{"7": "12.5", "2": "4"})
	second := f.intake(t, farmer.ID, map[string]string{"7": "8", "10": "3.25"})
	notes := "second batch wet"
	_, err := f.svc.Update(ctx, second.ID, UpdateInput{Notes: &notes})
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, first.ID, CompleteInput{OilWeight: d("3")})
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, first.ID, SettleInput{PricePerKg: d("0.1"), AmountPaid: d("1")})
	require.NoError(t, err)

	merged, err := f.svc.Merge(ctx, MergeInput{
		FarmerID:   farmer.ID,
		SessionIDs: []uint{first.ID, second.ID},
		PricePerKg: money.Ptr(d("0.2")),
		AmountPaid: d("2"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.SessionNumber+" (Groupé)", merged.SessionNumber)
	assert.Equal(t, models.ProcessingProcessed, merged.ProcessingStatus)
	assert.True(t, d("27.75").Equal(merged.TotalBoxWeight))
	assert.True(t, d("3").Equal(*merged.OilWeight))
	assert.Equal(t, 3, merged.BoxCount)
	assert.True(t, d("5.55").Equal(*merged.TotalPrice))
	assert.True(t, d("3.55").Equal(merged.RemainingAmount))
	assert.Equal(t, models.PaymentPartial, merged.PaymentStatus)
	assert.Equal(t, second.SessionNumber+": second batch wet", merged.Notes)

	got, err := f.svc.Get(ctx, merged.ID)
	require.NoError(t, err)
	require.Len(t, got.Boxes, 3)
	weights := map[string]decimal.Decimal{}
	sum := decimal.Zero
	for _, b := range got.Boxes {
		weights[b.BoxID] = b.BoxWeight
		sum = sum.Add(b.BoxWeight)
	}
	assert.Equal(t, "2", got.Boxes[0].BoxID)
	assert.True(t, d("20.5").Equal(weights["7"]))
	assert.True(t, sum.Equal(merged.TotalBoxWeight))

	for _, id := range []uint{first.ID, second.ID} {
		_, err := f.svc.Get(ctx, id)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
		payments, entries := f.paymentRows(t, id)
		assert.Zero(t, payments+entries)
	}
	payments, entries := f.paymentRows(t, merged.ID)
	assert.Equal(t, int64(1), payments)
	assert.Equal(t, int64(1), entries)

	stored := f.reloadFarmer(t, farmer.ID)
	assert.True(t, d("5.55").Equal(stored.TotalAmountDue))
	assert.True(t, d("2").Equal(stored.TotalAmountPaid))
	assert.Equal(t, models.FarmerPaymentPending, stored.PaymentStatus)

	var trail []models.AuditLog
	require.NoError(t, f.db.Where("action = ?", models.AuditActionMerge).Find(&trail).Error)
	assert.Len(t, trail, 1)
}

func TestMergeWithoutPriceOrNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, "F")
	a := f.intake(t, farmer.ID, map[string]string{"1": "2"})
	b := f.intake(t, farmer.ID, map[string]string{"2": "3"})

	merged, err := f.svc.Merge(ctx, MergeInput{FarmerID: farmer.ID, SessionIDs: []uint{b.ID, a.ID}})
	require.NoError(t, err)
	assert.Equal(t, b.SessionNumber+" (Groupé)", merged.SessionNumber)
	assert.Nil(t, merged.TotalPrice)
	assert.Equal(t, models.PaymentUnpaid, merged.PaymentStatus)
	assert.Equal(t, "Merged from "+b.SessionNumber+", "+a.SessionNumber, merged.Notes)
	payments, entries := f.paymentRows(t, merged.ID)
	assert.Zero(t, payments+entries)
}

func TestMergeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	farmer := f.farmer(t, "F")
	other := f.farmer(t, "O")
	a := f.intake(t, farmer.ID, map[string]string{"1": "10"})
	b := f.intake(t, farmer.ID, map[string]string{"2": "10"})
	foreign := f.intake(t, other.ID, map[string]string{"3": "10"})

	_, err := f.svc.Merge(ctx, MergeInput{FarmerID: farmer.ID, SessionIDs: []uint{a.ID, a.ID}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = f.svc.Merge(ctx, MergeInput{FarmerID: farmer.ID, SessionIDs: []uint{a.ID, b.ID}, AmountPaid: d("1")})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation), "payment without price")

	_, err = f.svc.Merge(ctx, MergeInput{FarmerID: farmer.ID, SessionIDs: []uint{a.ID, foreign.ID}})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), foreign.SessionNumber)

	_, err = f.svc.Merge(ctx, MergeInput{FarmerID: farmer.ID, SessionIDs: []uint{a.ID, 999}})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = f.svc.Complete(ctx, b.ID, CompleteInput{OilWeight: d("1")})
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, b.ID, SettleInput{PricePerKg: d("1"), AmountPaid: d("10")})
	require.NoError(t, err)
	_, err = f.svc.Merge(ctx, MergeInput{FarmerID: farmer.ID, SessionIDs: []uint{a.ID, b.ID}})
	assert.True(t, apperr.HasCode(err, apperr.CodeSessionPaid))

	// nothing was touched by the failed attempts
	for _, id := range []uint{a.ID, b.ID, foreign.ID} {
		_, err := f.svc.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestCheckTransitions(t *testing.T) {
	oil := d("2")
	tests := []struct {
		action Action
		sess   models.ProcessingSession
		code   string
	}{
		{ActionSettle, models.ProcessingSession{ProcessingStatus: models.ProcessingPending, PaymentStatus: models.PaymentUnpaid}, apperr.CodeInvalidState},
		{ActionSettle, models.ProcessingSession{ProcessingStatus: models.ProcessingPending, PaymentStatus: models.PaymentUnpaid, OilWeight: &oil}, ""},
		{ActionSettle, models.ProcessingSession{ProcessingStatus: models.ProcessingProcessed, PaymentStatus: models.PaymentPaid}, apperr.CodeSessionPaid},
		{ActionUnpay, models.ProcessingSession{ProcessingStatus: models.ProcessingProcessed, PaymentStatus: models.PaymentUnpaid}, apperr.CodeInvalidState},
		{ActionUnpay, models.ProcessingSession{ProcessingStatus: models.ProcessingProcessed, PaymentStatus: models.PaymentPaid}, ""},
		{ActionDelete, models.ProcessingSession{PaymentStatus: models.PaymentPartial}, ""},
		{ActionStock, models.ProcessingSession{ProcessingStatus: models.ProcessingPending, OilWeight: &oil}, apperr.CodeInvalidState},
		{ActionStock, models.ProcessingSession{ProcessingStatus: models.ProcessingProcessed, OilWeight: &oil}, ""},
	}
	for _, tc := range tests {
		t.Run(string(tc.action)+"/"+StateOf(&tc.sess).String(), func(t *testing.T) {
			err := Check(tc.action, &tc.sess)
			if tc.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.HasCode(err, tc.code), "%v", err)
		})
	}

	assert.True(t, apperr.IsKind(Check("explode", &models.ProcessingSession{}), apperr.KindInvariant))
}
