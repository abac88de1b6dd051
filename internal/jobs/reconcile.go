// Package jobs runs scheduled maintenance against the core ledger.
package jobs

import (
	"context"
	"time"

	"olive-backend/internal/ledger"
	"olive-backend/internal/logging"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const reconcileTimeout = 4 * time.Minute

// Recomputer rebuilds every farmer's derived totals.
type Recomputer interface {
	RecomputeAll(ctx context.Context) ([]ledger.Drift, error)
}

// ReconcileOnce recomputes all farmer totals and reports how many drifted.
func ReconcileOnce(ctx context.Context, r Recomputer) (int, error) {
	log := logging.Component("ledger-reconciler")
	started := time.Now()

	drifts, err := r.RecomputeAll(ctx)
	if err != nil {
		log.WithError(err).Error("ledger reconciliation failed")
		return len(drifts), err
	}
	log.WithFields(logrus.Fields{
		"drifted":  len(drifts),
		"duration": time.Since(started).String(),
	}).Info("ledger reconciliation finished")
	return len(drifts), nil
}

// StartLedgerReconciler schedules ReconcileOnce. An empty schedule disables
// the job and returns a nil scheduler.
func StartLedgerReconciler(schedule string, r Recomputer) (*cron.Cron, error) {
	if schedule == "" {
		logging.Component("ledger-reconciler").Info("no schedule configured, reconciler disabled")
		return nil, nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		_, _ = ReconcileOnce(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	logging.Component("ledger-reconciler").WithField("schedule", schedule).Info("reconciler scheduled")
	c.Start()
	return c, nil
}
