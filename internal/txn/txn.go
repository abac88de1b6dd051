// Package txn runs core mutations: one database transaction per operation,
// a metrics sample, and a dashboard notification once the commit succeeded.
package txn

import (
	"context"
	"time"

	"olive-backend/internal/metrics"
	"olive-backend/internal/notify"

	"gorm.io/gorm"
)

type Runner struct {
	db   *gorm.DB
	sink notify.Sink
	// Now is the clock used by services; tests may replace it.
	Now func() time.Time
}

func NewRunner(db *gorm.DB, sink notify.Sink) *Runner {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Runner{db: db, sink: sink, Now: time.Now}
}

// DB returns a session bound to ctx for read paths.
func (r *Runner) DB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Mutate executes fn inside a transaction. Any error rolls the whole operation back;
// the notification is sent only after a successful commit and never affects the result.
func (r *Runner) Mutate(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(fn)
	metrics.RecordMutation(op, err)
	if err == nil {
		r.sink.OnCoreMutation(ctx, op)
	}
	return err
}
