// Package audit records administrative actions in the system log.
package audit

import (
	"context"
	"time"
)

// Entity types that appear in the system log.
const (
	EntityCoupon    = "coupon"
	EntityPromotion = "promotion"
	EntityOrder     = "order"
	EntityDispute   = "dispute"
	EntityReturn    = "return"
	EntityRefund    = "refund"
)

// Entry is a single system log row.
type Entry struct {
	ID         string
	Action     string
	ActorID    string
	EntityType string
	EntityID   string
	Details    string
	CreatedAt  time.Time
}

// Recorder persists audit entries. Implementations fill ID and CreatedAt
// when they are zero. Record joins the caller's transaction when the
// context carries one, so the entry commits or rolls back with the action.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Repository reads back the system log.
type Repository interface {
	Recorder
	List(ctx context.Context, limit int) ([]Entry, error)
}
