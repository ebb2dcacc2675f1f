// Package returns implements order returns and the refunds paid against
// approved returns.
package returns

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/fsm"
)

// Status is the state of a return.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known return status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// Action is an admin step on a return.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
)

// Transitions is the return status table.
var Transitions = fsm.New("return",
	fsm.Edge[Status, Action]{From: StatusPending, Action: ActionApprove, To: StatusApproved},
	fsm.Edge[Status, Action]{From: StatusPending, Action: ActionReject, To: StatusRejected},
	fsm.Edge[Status, Action]{From: StatusApproved, Action: ActionComplete, To: StatusCompleted},
)

// RefundStatus is the state of a refund.
type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// RefundAction is an admin step on a refund.
type RefundAction string

const (
	RefundProcess  RefundAction = "process"
	RefundComplete RefundAction = "complete"
	RefundFail     RefundAction = "fail"
)

// RefundTransitions is the refund status table. Failed refunds can be
// retried.
var RefundTransitions = fsm.New("refund",
	fsm.Edge[RefundStatus, RefundAction]{From: RefundPending, Action: RefundProcess, To: RefundProcessing},
	fsm.Edge[RefundStatus, RefundAction]{From: RefundProcessing, Action: RefundComplete, To: RefundCompleted},
	fsm.Edge[RefundStatus, RefundAction]{From: RefundProcessing, Action: RefundFail, To: RefundFailed},
	fsm.Edge[RefundStatus, RefundAction]{From: RefundFailed, Action: RefundProcess, To: RefundProcessing},
)

// DefaultMethod pays the refund back to the original payment method.
const DefaultMethod = "original_payment"

var (
	ErrNotFound       = fault.New(fault.NotFound, "return not found")
	ErrRefundNotFound = fault.New(fault.NotFound, "refund not found")
	// ErrNotDelivered is returned when requesting a return for an order
	// that has not been delivered.
	ErrNotDelivered = fault.New(fault.Conflict, "only delivered orders can be returned")
	// ErrNotApproved is returned when refunding a return that is not
	// approved.
	ErrNotApproved = fault.New(fault.Conflict, "refunds require an approved return")
	// ErrAmountExceeded is returned when returns or refunds would pay out
	// more than their parent amount.
	ErrAmountExceeded = fault.New(fault.LimitExceeded, "amount exceeds the refundable balance")
)

// Return is a customer request to send back a delivered order.
type Return struct {
	ID        string
	OrderID   string
	UserID    string
	Reason    string
	Amount    decimal.Decimal
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Refunds   []Refund
}

// Refund is a payout against an approved return.
type Refund struct {
	ID          string
	ReturnID    string
	OrderID     string
	Amount      decimal.Decimal
	Method      string
	Status      RefundStatus
	ProcessedBy string
	// ProcessedAt is zero until the refund completes.
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// Filter narrows a return listing. Empty fields match everything.
type Filter struct {
	UserID string
	Status Status
}

// Repository persists returns and refunds.
type Repository interface {
	CreateReturn(ctx context.Context, r *Return) error
	GetReturn(ctx context.Context, id string) (*Return, error)
	// GetReturnForUpdate is GetReturn that locks the return row for the
	// rest of the surrounding transaction.
	GetReturnForUpdate(ctx context.Context, id string) (*Return, error)
	// ListReturns returns matching returns, newest first.
	ListReturns(ctx context.Context, f Filter) ([]Return, error)
	SetReturnStatus(ctx context.Context, id string, status Status) error
	// ReturnedAmount sums the amounts of the order's returns that were not
	// rejected.
	ReturnedAmount(ctx context.Context, orderID string) (decimal.Decimal, error)

	CreateRefund(ctx context.Context, r *Refund) error
	GetRefund(ctx context.Context, id string) (*Refund, error)
	ListRefunds(ctx context.Context, returnID string) ([]Refund, error)
	// UpdateRefund stores status and processing fields.
	UpdateRefund(ctx context.Context, r *Refund) error
	// RefundedAmount sums the amounts of the return's refunds that did not
	// fail, leaving out excludeID.
	RefundedAmount(ctx context.Context, returnID, excludeID string) (decimal.Decimal, error)
}
