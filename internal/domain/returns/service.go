package returns

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/audit"
	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/fault"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Transactor runs fn inside a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderLookup locks orders.
type OrderLookup interface {
	GetForUpdate(ctx context.Context, id string) (*order.Order, error)
}

// ReturnRequest asks to return (part of) a delivered order.
type ReturnRequest struct {
	OrderID string
	Reason  string
	Amount  decimal.Decimal
}

// RefundRequest creates a refund for an approved return.
type RefundRequest struct {
	Amount decimal.Decimal
	Method string
}

// Service implements the return and refund workflow.
type Service struct {
	repo   Repository
	orders OrderLookup
	tx     Transactor
	audit  audit.Recorder
	now    func() time.Time
}

// NewService creates a returns Service.
func NewService(repo Repository, orders OrderLookup, tx Transactor, rec audit.Recorder) *Service {
	return &Service{repo: repo, orders: orders, tx: tx, audit: rec, now: time.Now}
}

// RequestReturn creates a pending return for a delivered order of the
// caller. The returned amounts of an order never exceed its total.
func (s *Service) RequestReturn(ctx context.Context, actor auth.Principal, req ReturnRequest) (*Return, error) {
	if err := actor.Require(auth.RoleUser); err != nil {
		return nil, err
	}
	req.Amount = req.Amount.Round(2)
	switch {
	case req.OrderID == "" || req.Reason == "":
		return nil, fault.New(fault.Validation, "orderId and reason are required")
	case !req.Amount.IsPositive():
		return nil, fault.New(fault.Validation, "amount must be greater than zero")
	}

	var out *Return
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != actor.SubjectID {
			return order.ErrNotFound
		}
		if o.Status != order.StatusDelivered {
			return ErrNotDelivered
		}
		returned, err := s.repo.ReturnedAmount(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "sum returns")
		}
		if returned.Add(req.Amount).GreaterThan(o.Total) {
			return ErrAmountExceeded
		}

		now := s.now()
		r := &Return{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			UserID:    actor.SubjectID,
			Reason:    req.Reason,
			Amount:    req.Amount,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.CreateReturn(ctx, r); err != nil {
			return errors.Wrap(err, "create return")
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a return with its refunds. Users only see their own.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Return, error) {
	r, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(auth.RoleAdmin) && r.UserID != actor.SubjectID {
		return nil, ErrNotFound
	}
	r.Refunds, err = s.repo.ListRefunds(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "list refunds")
	}
	return r, nil
}

// List returns the caller's returns, or every return for an admin. An
// empty status lists all statuses.
func (s *Service) List(ctx context.Context, actor auth.Principal, status Status) ([]Return, error) {
	if status != "" && !status.Valid() {
		return nil, fault.New(fault.Validation, "unknown return status "+string(status))
	}
	f := Filter{Status: status}
	if !actor.Is(auth.RoleAdmin) {
		f.UserID = actor.SubjectID
	}
	list, err := s.repo.ListReturns(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list returns")
	}
	return list, nil
}

// Transition applies an admin action to a return. Approval does not create
// a refund; refunds are created explicitly with CreateRefund.
func (s *Service) Transition(ctx context.Context, actor auth.Principal, id string, action Action) (*Return, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Return
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Transitions.Next(r.Status, action)
		if err != nil {
			return err
		}
		if err := s.repo.SetReturnStatus(ctx, id, next); err != nil {
			return errors.Wrap(err, "set return status")
		}
		prev := r.Status
		r.Status = next
		r.UpdatedAt = s.now()
		out = r
		return s.audit.Record(ctx, audit.Entry{
			Action:     "return." + string(action),
			ActorID:    actor.SubjectID,
			EntityType: audit.EntityReturn,
			EntityID:   id,
			Details:    string(prev) + " -> " + string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRefund adds a pending refund to an approved return. Refunds that
// did not fail never exceed the return amount.
func (s *Service) CreateRefund(ctx context.Context, actor auth.Principal, returnID string, req RefundRequest) (*Refund, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}
	req.Amount = req.Amount.Round(2)
	if !req.Amount.IsPositive() {
		return nil, fault.New(fault.Validation, "amount must be greater than zero")
	}
	method := req.Method
	if method == "" {
		method = DefaultMethod
	}

	var out *Refund
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if r.Status != StatusApproved {
			return ErrNotApproved
		}
		if err := s.checkBalance(ctx, r, "", req.Amount); err != nil {
			return err
		}

		ref := &Refund{
			ID:        uuid.New().String(),
			ReturnID:  r.ID,
			OrderID:   r.OrderID,
			Amount:    req.Amount,
			Method:    method,
			Status:    RefundPending,
			CreatedAt: s.now(),
		}
		if err := s.repo.CreateRefund(ctx, ref); err != nil {
			return errors.Wrap(err, "create refund")
		}
		out = ref
		return s.audit.Record(ctx, audit.Entry{
			Action:     "refund.create",
			ActorID:    actor.SubjectID,
			EntityType: audit.EntityRefund,
			EntityID:   ref.ID,
			Details:    ref.Amount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionRefund applies an admin action to a refund. Completion records
// who processed it and when. Retrying a failed refund re-checks the
// return's balance.
func (s *Service) TransitionRefund(ctx context.Context, actor auth.Principal, id string, action RefundAction) (*Refund, error) {
	if err := actor.Require(auth.RoleAdmin); err != nil {
		return nil, err
	}

	var out *Refund
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ref, err := s.repo.GetRefund(ctx, id)
		if err != nil {
			return err
		}
		// The return row lock serializes all refund changes of a return.
		r, err := s.repo.GetReturnForUpdate(ctx, ref.ReturnID)
		if err != nil {
			return err
		}
		if ref, err = s.repo.GetRefund(ctx, id); err != nil {
			return err
		}

		next, err := RefundTransitions.Next(ref.Status, action)
		if err != nil {
			return err
		}
		if ref.Status == RefundFailed && next == RefundProcessing {
			if err := s.checkBalance(ctx, r, ref.ID, ref.Amount); err != nil {
				return err
			}
		}

		prev := ref.Status
		ref.Status = next
		if next == RefundCompleted {
			ref.ProcessedBy = actor.SubjectID
			ref.ProcessedAt = s.now()
		}
		if err := s.repo.UpdateRefund(ctx, ref); err != nil {
			return errors.Wrap(err, "update refund")
		}
		out = ref
		return s.audit.Record(ctx, audit.Entry{
			Action:     "refund." + string(action),
			ActorID:    actor.SubjectID,
			EntityType: audit.EntityRefund,
			EntityID:   ref.ID,
			Details:    string(prev) + " -> " + string(next),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) checkBalance(ctx context.Context, r *Return, excludeID string, amount decimal.Decimal) error {
	refunded, err := s.repo.RefundedAmount(ctx, r.ID, excludeID)
	if err != nil {
		return errors.Wrap(err, "sum refunds")
	}
	if refunded.Add(amount).GreaterThan(r.Amount) {
		return ErrAmountExceeded
	}
	return nil
}
