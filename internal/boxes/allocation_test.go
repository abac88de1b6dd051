package boxes

import (
	"bytes"
	"context"
	"testing"

	"olive-backend/internal/apperr"
	"olive-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestBulkAssignPartialSuccess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")
	b := createFarmer(t, db, "B")

	_, err := svc.Assign(ctx, b.ID, AssignItem{BoxID: "2", Weight: kg("3")})
	require.NoError(t, err)

	res, err := svc.BulkAssign(ctx, a.ID, []AssignItem{
		{BoxID: "10", Weight: kg("5")},
		{BoxID: "2", Weight: kg("5")},
		{BoxID: "999", Weight: kg("5")},
		{BoxID: "Chkara1", Weight: kg("2.25")},
		{BoxID: "10", Weight: kg("5")},
	})
	require.NoError(t, err)
	require.Len(t, res.Assigned, 2)
	assert.Equal(t, "10", res.Assigned[0].ID)
	assert.Equal(t, "Chkara1", res.Assigned[1].ID)

	failed := map[string]string{}
	for _, f := range res.Failed {
		failed[f.BoxID] = f.Reason
	}
	assert.Len(t, res.Failed, 3)
	assert.Contains(t, failed["2"], "not available")
	assert.Contains(t, failed["999"], "factory range")
	assert.Contains(t, failed, "10")
}

func TestBulkAssignFailsWhenNothingAssigned(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")

	res, err := svc.BulkAssign(ctx, a.ID, []AssignItem{{BoxID: "0", Weight: kg("1")}, {BoxID: "x", Weight: kg("1")}})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	require.NotNil(t, res)
	assert.Len(t, res.Failed, 2)

	_, err = svc.BulkAssign(ctx, 4242, []AssignItem{{BoxID: "1", Weight: kg("1")}})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestBulkReleaseRejectsInUseWithoutForce(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")

	_, err := svc.Assign(ctx, a.ID, AssignItem{BoxID: "3", Weight: kg("1")})
	require.NoError(t, err)

	_, err = svc.BulkRelease(ctx, []string{"1", "3"}, false)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInUse))
	assert.Contains(t, err.Error(), "3")

	n, err := svc.BulkRelease(ctx, []string{"1", "3"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the in-use box counts")
	box, err := svc.GetBox(ctx, "3")
	require.NoError(t, err)
	assert.False(t, box.InUse())

	n, err = svc.BulkRelease(ctx, []string{"1", "2"}, false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBulkSetSelection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.BulkSetSelection(ctx, []string{"1", "2", " 2 "}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	box, err := svc.GetBox(ctx, "2")
	require.NoError(t, err)
	assert.True(t, box.IsSelected)

	_, err = svc.BulkSetSelection(ctx, []string{"1", "Chkara7"}, false)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestNextAuxiliaryFillsFirstGap(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")

	next, err := svc.NextAuxiliaryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Chkara1", next)

	for _, id := range []string{"Chkara1", "Chkara2", "Chkara4"} {
		_, err := svc.Assign(ctx, a.ID, AssignItem{BoxID: id, Weight: kg("1")})
		require.NoError(t, err)
	}
	next, err = svc.NextAuxiliaryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Chkara3", next)
}

func TestValidateIdentity(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")
	_, err := svc.Assign(ctx, a.ID, AssignItem{BoxID: "12", Weight: kg("1")})
	require.NoError(t, err)

	check, err := svc.ValidateIdentity(ctx, "12", "")
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.True(t, check.Exists)
	assert.Equal(t, models.BoxStatusInUse, check.Status)
	assert.Equal(t, "Chkara1", check.SuggestedAuxiliaryID)

	check, err = svc.ValidateIdentity(ctx, "Chkara5", models.BoxTypeChkara)
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.False(t, check.Exists)

	check, err = svc.ValidateIdentity(ctx, "Chkara5", models.BoxTypeNchira)
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.NotEmpty(t, check.Reason)

	check, err = svc.ValidateIdentity(ctx, "601", "")
	require.NoError(t, err)
	assert.False(t, check.Valid)
}

func TestRetireAuxiliary(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")
	_, err := svc.Assign(ctx, a.ID, AssignItem{BoxID: "Chkara1", Weight: kg("1")})
	require.NoError(t, err)

	assert.True(t, apperr.HasCode(svc.RetireAuxiliary(ctx, "Chkara1"), apperr.CodeInUse))
	assert.True(t, apperr.IsKind(svc.RetireAuxiliary(ctx, "3"), apperr.KindValidation))

	_, err = svc.Release(ctx, []string{"Chkara1"})
	require.NoError(t, err)
	require.NoError(t, svc.RetireAuxiliary(ctx, "Chkara1"))
	_, err = svc.GetBox(ctx, "Chkara1")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func intakeSheet(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportIntake(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")

	sheet := intakeSheet(t, [][]any{
		{"Box", "Type", "Weight"},
		{"4", "nchira", "18,5"},
		{"Chkara2", "", "6"},
		{"5", "plastic", "3"},
		{"6", "normal", "heavy"},
	})

	res, err := svc.ImportIntake(ctx, a.ID, sheet)
	require.NoError(t, err)
	require.Len(t, res.Assigned, 2)
	assert.Equal(t, models.BoxTypeNchira, res.Assigned[0].Type)
	assert.True(t, kg("18.5").Equal(*res.Assigned[0].CurrentWeight))
	require.Len(t, res.Failed, 2)
	assert.Equal(t, 4, res.Failed[0].Row)
	assert.Equal(t, 5, res.Failed[1].Row)
}

func TestImportIntakeRejectsEmptySheet(t *testing.T) {
	svc, db := newTestService(t)
	a := createFarmer(t, db, "A")

	_, err := svc.ImportIntake(context.Background(), a.ID, intakeSheet(t, [][]any{{"Box", "Type", "Weight"}}))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
