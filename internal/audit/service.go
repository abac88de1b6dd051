package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"olive-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Actor is the authenticated user behind a mutation.
type Actor struct {
	UserID   uint
	UserName string
}

type actorKey struct{}
type correlationKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or the zero "system" actor.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{UserName: "system"}
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the request id in ctx, generating one when absent.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

type LogOptions struct {
	EntityType  string
	EntityID    string
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

// WriteLog stores an audit row through db, which is normally the caller's
// transaction so the trail commits or rolls back with the change itself.
func WriteLog(ctx context.Context, db *gorm.DB, opts LogOptions) error {
	// "null" keeps the column valid JSON when a side is missing
	beforeStr := "null"
	afterStr := "null"

	if opts.Before != nil {
		if b, err := json.Marshal(opts.Before); err == nil {
			beforeStr = string(b)
		}
	}
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	actor := ActorFrom(ctx)
	log := models.AuditLog{
		UserID:        actor.UserID,
		UserName:      actor.UserName,
		EntityType:    opts.EntityType,
		EntityID:      opts.EntityID,
		Action:        opts.Action,
		Description:   opts.Description,
		BeforeData:    beforeStr,
		AfterData:     afterStr,
		CorrelationID: CorrelationID(ctx),
	}

	if err := db.WithContext(ctx).Create(&log).Error; err != nil {
		return fmt.Errorf("audit log could not be saved: %w", err)
	}
	return nil
}
