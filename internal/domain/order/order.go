package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPreparing  Status = "preparing"
	StatusReady      Status = "ready"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// statusOutForDelivery is accepted on input as a synonym of delivering.
const statusOutForDelivery = "out_for_delivery"

// ParseStatus converts client input to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusPreparing, StatusReady, StatusDelivering, StatusDelivered, StatusCancelled:
		return st, nil
	}
	if s == statusOutForDelivery {
		return StatusDelivering, nil
	}
	return "", fault.Errorf(fault.Validation, "unknown order status %q", s)
}

// Action advances an order through its lifecycle.
type Action string

const (
	ActionPrepare   Action = "prepare"
	ActionMarkReady Action = "mark_ready"
	ActionDispatch  Action = "dispatch"
	ActionDeliver   Action = "deliver"
	ActionCancel    Action = "cancel"
)

// Transitions is the order status table.
var Transitions = fsm.New("order",
	fsm.Edge[Status, Action]{From: StatusPending, Action: ActionPrepare, To: StatusPreparing},
	fsm.Edge[Status, Action]{From: StatusPreparing, Action: ActionMarkReady, To: StatusReady},
	fsm.Edge[Status, Action]{From: StatusReady, Action: ActionDispatch, To: StatusDelivering},
	fsm.Edge[Status, Action]{From: StatusDelivering, Action: ActionDeliver, To: StatusDelivered},
	fsm.Edge[Status, Action]{From: StatusPending, Action: ActionCancel, To: StatusCancelled},
	fsm.Edge[Status, Action]{From: StatusPreparing, Action: ActionCancel, To: StatusCancelled},
	fsm.Edge[Status, Action]{From: StatusReady, Action: ActionCancel, To: StatusCancelled},
	fsm.Edge[Status, Action]{From: StatusDelivering, Action: ActionCancel, To: StatusCancelled},
)

// ActionFor returns the action that moves an order into target.
func ActionFor(target Status) (Action, error) {
	switch target {
	case StatusPreparing:
		return ActionPrepare, nil
	case StatusReady:
		return ActionMarkReady, nil
	case StatusDelivering:
		return ActionDispatch, nil
	case StatusDelivered:
		return ActionDeliver, nil
	case StatusCancelled:
		return ActionCancel, nil
	}
	return "", fault.Errorf(fault.Validation, "orders cannot be moved to %q", target)
}

// PaymentStatus is the payment state of an order, independent of Status.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// PaymentTransitions is keyed by target status: the action is the status
// being moved to.
var PaymentTransitions = fsm.New("payment",
	fsm.Edge[PaymentStatus, PaymentStatus]{From: PaymentPending, Action: PaymentProcessing, To: PaymentProcessing},
	fsm.Edge[PaymentStatus, PaymentStatus]{From: PaymentProcessing, Action: PaymentCompleted, To: PaymentCompleted},
	fsm.Edge[PaymentStatus, PaymentStatus]{From: PaymentProcessing, Action: PaymentFailed, To: PaymentFailed},
	fsm.Edge[PaymentStatus, PaymentStatus]{From: PaymentFailed, Action: PaymentProcessing, To: PaymentProcessing},
	fsm.Edge[PaymentStatus, PaymentStatus]{From: PaymentCompleted, Action: PaymentRefunded, To: PaymentRefunded},
)

// ErrNotFound is returned when an order does not exist or is not visible
// to the caller.
var ErrNotFound = fault.New(fault.NotFound, "order not found")

// Order is a checkout of products from a single seller.
type Order struct {
	ID                string
	UserID            string
	SellerID          string
	Status            Status
	PaymentStatus     PaymentStatus
	Items             []Item
	Subtotal          decimal.Decimal
	PromotionDiscount decimal.Decimal
	CouponDiscount    decimal.Decimal
	Total             decimal.Decimal
	CouponCode        string
	DeliveryPersonID  string
	DeliveryLocation  string
	CancelReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Open reports whether the order can still change status.
func (o *Order) Open() bool {
	return !Transitions.Terminal(o.Status)
}

// Item is a priced order line.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	// Discount is the promotion discount for the whole line.
	Discount    decimal.Decimal
	PromotionID string
}

// Filter narrows order listings. Empty fields match everything.
type Filter struct {
	UserID           string
	SellerID         string
	DeliveryPersonID string
	Limit            int
	Offset           int
}

// StatusUpdate is the set of columns changed by a status transition.
type StatusUpdate struct {
	Status       Status
	CancelReason string
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and its items.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate is Get that locks the order row for the rest of the
	// surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// List returns orders newest first.
	List(ctx context.Context, f Filter) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) error
	UpdatePayment(ctx context.Context, id string, status PaymentStatus) error
	// AssignCourier sets the delivery person of the order.
	AssignCourier(ctx context.Context, id, personID string) error
}
