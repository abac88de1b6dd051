package boxes

import (
	"context"
	"sync"
	"testing"

	"olive-backend/internal/apperr"
	"olive-backend/internal/database/dbtest"
	"olive-backend/internal/models"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPool = 20

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, testPool)
	return NewService(txn.NewRunner(db, nil), testPool), db
}

func createFarmer(t *testing.T, db *gorm.DB, name string) models.Farmer {
	t.Helper()
	f := models.Farmer{Name: name, Type: models.FarmerTypeSmall, PaymentStatus: models.FarmerPaymentPaid}
	require.NoError(t, db.Create(&f).Error)
	return f
}

func kg(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func countFactory(t *testing.T, db *gorm.DB, status models.BoxStatus) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Box{}).Where("pool = ? AND status = ?", models.BoxPoolFactory, status).Count(&n).Error)
	return n
}

func TestAssignAndRelease(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	f := createFarmer(t, db, "Ali")

	box, err := svc.Assign(ctx, f.ID, AssignItem{BoxID: "5", Weight: kg("20")})
	require.NoError(t, err)
	assert.Equal(t, models.BoxStatusInUse, box.Status)
	assert.Equal(t, models.BoxTypeNormal, box.Type)
	require.NotNil(t, box.CurrentHolderID)
	assert.Equal(t, f.ID, *box.CurrentHolderID)
	assert.True(t, kg("20").Equal(*box.CurrentWeight))
	assert.NotNil(t, box.AssignedAt)

	n, err := svc.Release(ctx, []string{"5"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := svc.GetBox(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, models.BoxStatusAvailable, got.Status)
	assert.Nil(t, got.CurrentHolderID)
	assert.Nil(t, got.CurrentWeight)
	assert.Nil(t, got.AssignedAt)
}

func TestAssignInUseBoxConflicts(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := createFarmer(t, db, "A")
	b := createFarmer(t, db, "B")

	_, err := svc.Assign(ctx, a.ID, AssignItem{BoxID: "3", Weight: kg("10")})
	require.NoError(t, err)

	_, err = svc.Assign(ctx, b.ID, AssignItem{BoxID: "3", Weight: kg("12")})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.True(t, apperr.HasCode(err, apperr.CodeNotAvailable))

	got, err := svc.GetBox(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, a.ID, *got.CurrentHolderID)
}

func TestConcurrentAssignHasOneWinner(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	farmers := []models.Farmer{createFarmer(t, db, "A"), createFarmer(t, db, "B"), createFarmer(t, db, "C"), createFarmer(t, db, "D")}

	var wg sync.WaitGroup
	errs := make([]error, len(farmers))
	for i, f := range farmers {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = svc.Assign(ctx, id, AssignItem{BoxID: "7", Weight: kg("15")})
		}(i, f.ID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperr.HasCode(err, apperr.CodeNotAvailable), err.Error())
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(testPool), countFactory(t, db, models.BoxStatusAvailable)+countFactory(t, db, models.BoxStatusInUse))
}

func TestAssignValidation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	f := createFarmer(t, db, "A")

	tests := []struct {
		name string
		item AssignItem
		kind apperr.Kind
	}{
		{"out of range", AssignItem{BoxID: "21", Weight: kg("1")}, apperr.KindValidation},
		{"zero weight", AssignItem{BoxID: "1", Weight: decimal.Zero}, apperr.KindValidation},
		{"chkara with factory id", AssignItem{BoxID: "2", Type: models.BoxTypeChkara, Weight: kg("1")}, apperr.KindValidation},
		{"normal with auxiliary id", AssignItem{BoxID: "Chkara1", Type: models.BoxTypeNormal, Weight: kg("1")}, apperr.KindValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Assign(ctx, f.ID, tc.item)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}

	_, err := svc.Assign(ctx, 999, AssignItem{BoxID: "1", Weight: kg("1")})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAssignCreatesAuxiliaryOnFirstUse(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	f := createFarmer(t, db, "A")

	box, err := svc.Assign(ctx, f.ID, AssignItem{BoxID: "Chkara1", Weight: kg("8.5")})
	require.NoError(t, err)
	assert.Equal(t, models.BoxPoolAuxiliary, box.Pool)
	assert.Equal(t, models.BoxTypeChkara, box.Type)

	_, err = svc.Assign(ctx, f.ID, AssignItem{BoxID: "Chkara1", Weight: kg("3")})
	assert.True(t, apperr.HasCode(err, apperr.CodeNotAvailable))

	_, err = svc.Release(ctx, []string{"Chkara1"})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, f.ID, AssignItem{BoxID: "Chkara1", Weight: kg("3")})
	require.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.Release(ctx, []string{"1", "2"})
	require.NoError(t, err)
	assert.Zero(t, n)

	box, err := svc.GetBox(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.BoxStatusAvailable, box.Status)

	_, err = svc.Release(ctx, []string{"1", "404"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "404")
}

func TestListAvailableSortsNumerically(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	f := createFarmer(t, db, "A")

	_, err := svc.Assign(ctx, f.ID, AssignItem{BoxID: "2", Weight: kg("1")})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, f.ID, AssignItem{BoxID: "Chkara3", Weight: kg("1")})
	require.NoError(t, err)
	_, err = svc.Release(ctx, []string{"Chkara3"})
	require.NoError(t, err)

	list, total, err := svc.ListAvailable(ctx, ListFilter{}, pagination.Params{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(testPool-1), total)
	ids := make([]string, 0, len(list))
	for _, b := range list {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"1", "3", "4", "5", "6", "7", "8", "9", "10", "11"}, ids)

	list, total, err = svc.ListAvailable(ctx, ListFilter{IncludeAuxiliary: true}, pagination.Params{Page: 2, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(testPool), total)
	assert.Equal(t, "Chkara3", list[len(list)-1].ID)

	list, _, err = svc.ListAvailable(ctx, ListFilter{Type: models.BoxTypeChkara}, pagination.Params{Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Chkara3", list[0].ID)

	list, total, err = svc.ListAvailable(ctx, ListFilter{}, pagination.Params{Page: 20000000000000000, PerPage: 600}.Normalize())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int64(testPool-1), total)
}

func TestResetFactoryPoolKeepsAuxiliary(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	f := createFarmer(t, db, "A")

	for _, id := range []string{"1", "9", "Chkara1"} {
		_, err := svc.Assign(ctx, f.ID, AssignItem{BoxID: id, Weight: kg("4")})
		require.NoError(t, err)
	}

	n, err := svc.ResetFactoryPool(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, countFactory(t, db, models.BoxStatusInUse))

	aux, err := svc.GetBox(ctx, "Chkara1")
	require.NoError(t, err)
	assert.Equal(t, models.BoxStatusInUse, aux.Status)

	var logs []models.AuditLog
	require.NoError(t, db.Where("action = ?", models.AuditActionReset).Find(&logs).Error)
	assert.Len(t, logs, 1)

	n, err = svc.ResetFactoryPool(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReassignIdentity(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	f := createFarmer(t, db, "A")
	g := createFarmer(t, db, "B")

	_, err := svc.Assign(ctx, f.ID, AssignItem{BoxID: "4", Type: models.BoxTypeNchira, Weight: kg("11")})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, g.ID, AssignItem{BoxID: "6", Weight: kg("2")})
	require.NoError(t, err)

	t.Run("available box cannot be renamed", func(t *testing.T) {
		_, err := svc.ReassignIdentity(ctx, "5", "8", ReassignFields{})
		assert.True(t, apperr.HasCode(err, apperr.CodeInvalidState))
	})

	t.Run("in-use target is rejected", func(t *testing.T) {
		_, err := svc.ReassignIdentity(ctx, "4", "6", ReassignFields{})
		assert.True(t, apperr.HasCode(err, apperr.CodeInUse))
	})

	t.Run("missing box is a validation error", func(t *testing.T) {
		_, err := svc.ReassignIdentity(ctx, "Chkara9", "8", ReassignFields{})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("rename onto available box", func(t *testing.T) {
		box, err := svc.ReassignIdentity(ctx, "4", "8", ReassignFields{})
		require.NoError(t, err)
		assert.Equal(t, "8", box.ID)
		assert.Equal(t, models.BoxTypeNchira, box.Type)
		assert.Equal(t, f.ID, *box.CurrentHolderID)
		assert.True(t, kg("11").Equal(*box.CurrentWeight))

		old, err := svc.GetBox(ctx, "4")
		require.NoError(t, err)
		assert.Equal(t, models.BoxStatusAvailable, old.Status)
		assert.Equal(t, int64(testPool), countFactory(t, db, models.BoxStatusAvailable)+countFactory(t, db, models.BoxStatusInUse))
	})

	t.Run("rename into auxiliary namespace", func(t *testing.T) {
		w := kg("12")
		box, err := svc.ReassignIdentity(ctx, "8", "Chkara2", ReassignFields{Weight: &w})
		require.NoError(t, err)
		assert.Equal(t, models.BoxPoolAuxiliary, box.Pool)
		assert.Equal(t, models.BoxTypeChkara, box.Type)
		assert.True(t, w.Equal(*box.CurrentWeight))

		old, err := svc.GetBox(ctx, "8")
		require.NoError(t, err)
		assert.False(t, old.InUse())
		assert.Equal(t, int64(testPool), countFactory(t, db, models.BoxStatusAvailable)+countFactory(t, db, models.BoxStatusInUse))
	})

	t.Run("auxiliary row is dropped when renamed", func(t *testing.T) {
		_, err := svc.ReassignIdentity(ctx, "Chkara2", "10", ReassignFields{})
		require.NoError(t, err)
		_, err = svc.GetBox(ctx, "Chkara2")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("auxiliary row named by a session is kept when renamed", func(t *testing.T) {
		_, err := svc.Assign(ctx, f.ID, AssignItem{BoxID: "Chkara3", Type: models.BoxTypeChkara, Weight: kg("9")})
		require.NoError(t, err)
		require.NoError(t, db.Create(&models.SessionBox{
			SessionID: 1, BoxID: "Chkara3", BoxWeight: kg("9"), BoxType: models.BoxTypeChkara, FarmerID: f.ID,
		}).Error)

		box, err := svc.ReassignIdentity(ctx, "Chkara3", "11", ReassignFields{})
		require.NoError(t, err)
		assert.Equal(t, f.ID, *box.CurrentHolderID)

		old, err := svc.GetBox(ctx, "Chkara3")
		require.NoError(t, err)
		assert.Equal(t, models.BoxStatusAvailable, old.Status)
		assert.Nil(t, old.CurrentHolderID)
		assert.Nil(t, old.CurrentWeight)
	})

	var trail []models.AuditLog
	require.NoError(t, db.Where("action = ?", models.AuditActionReassign).Order("id").Find(&trail).Error)
	require.Len(t, trail, 4)
	assert.Equal(t, "8", trail[0].EntityID)
	assert.Contains(t, trail[0].BeforeData, `"id":"4"`)
}
