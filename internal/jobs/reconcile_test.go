package jobs

import (
	"context"
	"errors"
	"testing"

	"olive-backend/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecomputer struct {
	drifts []ledger.Drift
	err    error
	calls  int
}

func (f *fakeRecomputer) RecomputeAll(context.Context) ([]ledger.Drift, error) {
	f.calls++
	return f.drifts, f.err
}

func TestReconcileOnceCountsDrift(t *testing.T) {
	r := &fakeRecomputer{drifts: []ledger.Drift{{FarmerID: 1}, {FarmerID: 4}}}
	n, err := ReconcileOnce(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, r.calls)
}

func TestReconcileOnceReturnsError(t *testing.T) {
	r := &fakeRecomputer{err: errors.New("db down")}
	_, err := ReconcileOnce(context.Background(), r)
	assert.EqualError(t, err, "db down")
}

func TestStartLedgerReconciler(t *testing.T) {
	c, err := StartLedgerReconciler("", &fakeRecomputer{})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = StartLedgerReconciler("not a schedule", &fakeRecomputer{})
	assert.Error(t, err)

	c, err = StartLedgerReconciler("0 3 * * *", &fakeRecomputer{})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}
