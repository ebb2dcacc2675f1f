// Package promotion selects and reserves per-product promotional discounts.
package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
)

// Status is the lifecycle state of a promotion.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Action moves a promotion between statuses.
type Action string

const (
	ActionActivate Action = "activate"
	ActionPause    Action = "pause"
	ActionExpire   Action = "expire"
	ActionCancel   Action = "cancel"
)

// Transitions is the promotion status table.
var Transitions = fsm.New("promotion",
	fsm.Edge[Status, Action]{From: StatusDraft, Action: ActionActivate, To: StatusActive},
	fsm.Edge[Status, Action]{From: StatusPaused, Action: ActionActivate, To: StatusActive},
	fsm.Edge[Status, Action]{From: StatusActive, Action: ActionPause, To: StatusPaused},
	fsm.Edge[Status, Action]{From: StatusActive, Action: ActionExpire, To: StatusExpired},
	fsm.Edge[Status, Action]{From: StatusPaused, Action: ActionExpire, To: StatusExpired},
	fsm.Edge[Status, Action]{From: StatusDraft, Action: ActionCancel, To: StatusCancelled},
	fsm.Edge[Status, Action]{From: StatusActive, Action: ActionCancel, To: StatusCancelled},
	fsm.Edge[Status, Action]{From: StatusPaused, Action: ActionCancel, To: StatusCancelled},
)

var (
	ErrNotFound = fault.New(fault.NotFound, "promotion not found")
	// ErrPromotionExhausted is returned by checkout when a selected
	// promotion ran out of uses before it could be reserved.
	ErrPromotionExhausted = fault.New(fault.Conflict, "promotion is no longer available, please retry")
)

// Promotion is a named discount campaign applied to linked products.
type Promotion struct {
	ID           string
	Name         string
	DiscountType coupon.DiscountType
	Status       Status
	// Priority resolves overlapping promotions. Higher wins.
	Priority  int
	StartDate time.Time
	EndDate   time.Time
	// Condition is an optional CEL expression over subtotal, quantity and
	// user_id. Empty means always eligible.
	Condition string
	CreatedAt time.Time
}

// Link attaches a promotion to a product with its own value and counters.
type Link struct {
	PromotionID   string
	ProductID     string
	DiscountValue decimal.Decimal
	// MaxUsage is the number of order lines the link may discount. Zero
	// means unlimited.
	MaxUsage   int
	UsageCount int
	// StartDate and EndDate narrow the promotion window when set.
	StartDate time.Time
	EndDate   time.Time
}

// Candidate is a link together with its promotion.
type Candidate struct {
	Promotion Promotion
	Link      Link
}

// Repository persists promotions and their product links.
type Repository interface {
	Create(ctx context.Context, p *Promotion) error
	Get(ctx context.Context, id string) (*Promotion, error)
	// GetForUpdate is Get that locks the promotion row for the rest of the
	// surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*Promotion, error)
	List(ctx context.Context) ([]Promotion, error)
	SetStatus(ctx context.Context, id string, status Status) error
	// UpsertLink creates or replaces the link between a promotion and a
	// product, keeping its usage count.
	UpsertLink(ctx context.Context, l *Link) error
	// Candidates returns the links of active promotions for the products.
	Candidates(ctx context.Context, productIDs []string) ([]Candidate, error)
	// ReserveUse increments the link usage count unless MaxUsage is
	// reached. It reports whether a use was reserved.
	ReserveUse(ctx context.Context, promotionID, productID string) (bool, error)
}
