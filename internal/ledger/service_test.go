package ledger

import (
	"context"
	"testing"
	"time"

	"olive-backend/internal/apperr"
	"olive-backend/internal/database/dbtest"
	"olive-backend/internal/models"
	"olive-backend/internal/pagination"
	"olive-backend/internal/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualEntries(t *testing.T) {
	db := dbtest.Open(t, 0)
	svc := NewService(txn.NewRunner(db, nil))
	ctx := context.Background()
	f := seedFarmer(t, db)

	debit, err := svc.CreateEntry(ctx, f.ID, EntryInput{Type: models.TransactionDebit, Amount: d("12.5"), Description: "transport"})
	require.NoError(t, err)
	assert.True(t, d("12.5").Equal(debit.Amount))

	credit, err := svc.CreateEntry(ctx, f.ID, EntryInput{Type: models.TransactionCredit, Amount: d("4")})
	require.NoError(t, err)
	assert.True(t, d("-4").Equal(credit.Amount))

	_, err = svc.CreateEntry(ctx, f.ID, EntryInput{Type: models.TransactionFarmerPayment, Amount: d("1")})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = svc.CreateEntry(ctx, f.ID, EntryInput{Type: models.TransactionDebit, Amount: d("-1")})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = svc.CreateEntry(ctx, 404, EntryInput{Type: models.TransactionDebit, Amount: d("1")})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	entries, total, err := svc.ListEntries(ctx, f.ID, pagination.Params{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)

	require.NoError(t, svc.DeleteEntry(ctx, debit.ID))
	assert.True(t, apperr.IsKind(svc.DeleteEntry(ctx, debit.ID), apperr.KindNotFound))
}

func TestSettlementPaymentsAreNotManuallyDeletable(t *testing.T) {
	db := dbtest.Open(t, 0)
	svc := NewService(txn.NewRunner(db, nil))
	f := seedFarmer(t, db)
	seedSession(t, db, f.ID, "S#1", session(nil, "0", "0", models.PaymentUnpaid))

	var s models.ProcessingSession
	require.NoError(t, db.First(&s, "session_number = ?", "S#1").Error)
	require.NoError(t, RecordSettlementPayment(db, &s, d("1.5"), time.Now(), ""))

	n, err := CountSessionPayments(db, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var entry models.Transaction
	require.NoError(t, db.First(&entry, "session_id = ?", s.ID).Error)
	err = svc.DeleteEntry(context.Background(), entry.ID)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidState))

	deleted, err := DeleteSessionPayments(db, []uint{s.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	require.NoError(t, RecordSettlementPayment(db, &s, d("0"), time.Now(), ""))
	n, err = CountSessionPayments(db, s.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
